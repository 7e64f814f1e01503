package squash

import (
	"strconv"

	elfx "github.com/mcfx/squashelf/elf"
)

// AlignTo rounds off up to the next multiple of align. An alignment of 0 or
// 1 leaves off unchanged.
func AlignTo(off, align uint64) uint64 {
	if align <= 1 {
		return off
	}
	if r := off % align; r != 0 {
		return off + align - r
	}
	return off
}

// Planner assigns file offsets in one left-to-right pass.
type Planner struct {
	cursor uint64
}

func NewPlanner(start uint64) *Planner {
	return &Planner{cursor: start}
}

func (p *Planner) Cursor() uint64 {
	return p.cursor
}

// Place returns the offset seg would get at the current cursor.
func (p *Planner) Place(seg elfx.Segment) uint64 {
	return AlignTo(p.cursor, seg.Align)
}

// Advance moves the cursor past n bytes stored at off.
func (p *Planner) Advance(off, n uint64) {
	p.cursor = off + n
}

// Plan returns the packed offsets of cands starting at start, assuming every
// payload transfers in full.
func Plan(cands []Candidate, start uint64) []uint64 {
	p := NewPlanner(start)
	offs := make([]uint64, len(cands))
	for i, c := range cands {
		offs[i] = p.Place(c.Segment)
		p.Advance(offs[i], c.Segment.FileSize)
	}
	return offs
}

func hex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
