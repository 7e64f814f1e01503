package squash

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	elfx "github.com/mcfx/squashelf/elf"
)

// Candidate is a selected segment together with its index in the source
// program header table.
type Candidate struct {
	Index   int
	Segment elfx.Segment
}

// Select keeps the LOAD segments that pass the zero-size and range policies
// of opts, in source table order.
func Select(segs []elfx.Segment, opts Options, logger log.Logger) ([]Candidate, error) {
	var cands []Candidate
	for i, seg := range segs {
		if !seg.IsLoad() {
			level.Debug(logger).Log("msg", "skipping non-load segment", "index", i, "type", seg.Type)
			continue
		}
		if !opts.AdmitZeroSize && seg.FileSize == 0 {
			level.Debug(logger).Log("msg", "dropping zero-size segment", "index", i, "paddr", hex(seg.Paddr))
			continue
		}
		if opts.Range != nil && !opts.Range.Contains(seg.Paddr, seg.MemSize) {
			level.Debug(logger).Log("msg", "segment outside range", "index", i, "paddr", hex(seg.Paddr), "memsz", hex(seg.MemSize), "range", opts.Range)
			continue
		}
		level.Debug(logger).Log("msg", "segment selected", "index", i, "paddr", hex(seg.Paddr), "filesz", hex(seg.FileSize))
		cands = append(cands, Candidate{Index: i, Segment: seg})
	}
	if len(cands) == 0 {
		return nil, &Error{Kind: KindNoLoadableSegments, Err: ErrNoLoadableSegments}
	}
	return cands, nil
}
