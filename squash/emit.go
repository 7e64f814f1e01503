package squash

import (
	"io"
	"math"
	"math/bits"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	elfx "github.com/mcfx/squashelf/elf"
)

// Destination is the image under construction. *elf.Writer implements it.
type Destination interface {
	DataOffset() uint64
	MaxOffset() uint64
	UpdateSegment(i int, seg elfx.Segment) error
	WriteData(off uint64, p []byte) (int, error)
	AddNullSection() error
	Commit() (int64, error)
}

// Placement is one program header of the output image.
type Placement struct {
	// Index of the segment in the source program header table.
	Index   int
	Segment elfx.Segment
	// Short is set when fewer payload bytes than requested could be read.
	Short bool
}

type Result struct {
	Header     elfx.FileHeader
	Placements []Placement
	Sections   int
	Size       int64
}

// Emit writes cands, already ordered, into dst: program headers first, then
// each payload at its packed offset, then the optional null section header,
// and finally commits dst. Any failure aborts the emission.
func Emit(src io.ReaderAt, dst Destination, cands []Candidate, opts Options, logger log.Logger) (*Result, error) {
	for i, c := range cands {
		if err := dst.UpdateSegment(i, c.Segment); err != nil {
			return nil, wrapf(KindStructuralWrite, err, "program header %d", i)
		}
	}

	p := NewPlanner(dst.DataOffset())
	res := &Result{Placements: make([]Placement, 0, len(cands))}
	for i, c := range cands {
		seg := c.Segment
		off := p.Place(seg)
		if off < p.Cursor() {
			return nil, errorf(KindStructuralWrite, "segment %d: alignment %s overflows offset", c.Index, hex(seg.Align))
		}
		if end, carry := bits.Add64(off, seg.FileSize, 0); carry != 0 || end > dst.MaxOffset() {
			return nil, errorf(KindStructuralWrite, "segment %d: %s bytes at %s exceed the image limit of %s",
				c.Index, hex(seg.FileSize), hex(off), hex(dst.MaxOffset()))
		}
		var n uint64
		if seg.FileSize > 0 {
			var err error
			n, err = transfer(src, dst, c, off, logger)
			if err != nil {
				return nil, err
			}
		}
		short := n < seg.FileSize
		seg.Offset = off
		seg.FileSize = n
		if err := dst.UpdateSegment(i, seg); err != nil {
			return nil, wrapf(KindStructuralWrite, err, "program header %d", i)
		}
		p.Advance(off, n)
		level.Debug(logger).Log(
			"msg", "segment placed",
			"index", c.Index,
			"paddr", hex(seg.Paddr),
			"offset", hex(off),
			"size", humanize.IBytes(n),
			"align", seg.Align,
		)
		res.Placements = append(res.Placements, Placement{Index: c.Index, Segment: seg, Short: short})
	}

	if !opts.OmitSectionTable {
		if err := dst.AddNullSection(); err != nil {
			return nil, wrapf(KindStructuralWrite, err, "null section header")
		}
		res.Sections = 1
	}

	size, err := dst.Commit()
	if err != nil {
		return nil, wrapf(KindStructuralWrite, err, "commit")
	}
	if size <= 0 {
		return nil, errorf(KindStructuralWrite, "commit produced %d bytes", size)
	}
	res.Size = size
	return res, nil
}

// transfer copies the payload of c to off in dst and returns the number of
// bytes actually moved.
func transfer(src io.ReaderAt, dst Destination, c Candidate, off uint64, logger log.Logger) (uint64, error) {
	seg := c.Segment
	if seg.FileSize > elfx.SizeLimit || seg.FileSize > math.MaxInt {
		return 0, errorf(KindAllocation, "segment %d: payload of %s exceeds limit of %s",
			c.Index, humanize.IBytes(seg.FileSize), humanize.IBytes(elfx.SizeLimit))
	}
	if seg.Offset > math.MaxInt64-seg.FileSize {
		return 0, errorf(KindSourceAccess, "segment %d: file offset %s out of range", c.Index, hex(seg.Offset))
	}

	buf := make([]byte, seg.FileSize)
	n, err := io.ReadFull(io.NewSectionReader(src, int64(seg.Offset), int64(seg.FileSize)), buf)
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		level.Warn(logger).Log("msg", "short read", "index", c.Index, "want", seg.FileSize, "got", n)
	case err != nil:
		return 0, wrapf(KindSourceAccess, err, "read segment %d", c.Index)
	}
	if n == 0 {
		return 0, nil
	}

	w, err := dst.WriteData(off, buf[:n])
	if err != nil {
		return 0, wrapf(KindDestinationAccess, err, "write segment %d at %s", c.Index, hex(off))
	}
	if w < n {
		level.Warn(logger).Log("msg", "short write", "index", c.Index, "want", n, "got", w)
	}
	return uint64(w), nil
}

var _ Destination = (*elfx.Writer)(nil)
