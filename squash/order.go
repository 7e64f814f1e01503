package squash

import "sort"

type byPaddr []Candidate

func (s byPaddr) Len() int {
	return len(s)
}

func (s byPaddr) Less(i, j int) bool {
	return s[i].Segment.Paddr < s[j].Segment.Paddr
}

func (s byPaddr) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// Order sorts candidates by ascending physical address. Segments sharing an
// address keep their source table order.
func Order(cands []Candidate) {
	sort.Stable(byPaddr(cands))
}
