package squash

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	elfx "github.com/mcfx/squashelf/elf"
)

type recorder struct {
	start    uint64
	segs     map[int]elfx.Segment
	writes   map[uint64][]byte
	sections int
	commits  int

	failUpdate error
	failWrite  error
	size       int64
	maxOffset  uint64
}

func newRecorder(start uint64) *recorder {
	return &recorder{
		start:     start,
		segs:      make(map[int]elfx.Segment),
		writes:    make(map[uint64][]byte),
		size:      0x1000,
		maxOffset: 1<<63 - 1,
	}
}

func (r *recorder) DataOffset() uint64 { return r.start }

func (r *recorder) MaxOffset() uint64 { return r.maxOffset }

func (r *recorder) UpdateSegment(i int, seg elfx.Segment) error {
	if r.failUpdate != nil {
		return r.failUpdate
	}
	r.segs[i] = seg
	return nil
}

func (r *recorder) WriteData(off uint64, p []byte) (int, error) {
	if r.failWrite != nil {
		return 0, r.failWrite
	}
	r.writes[off] = append([]byte(nil), p...)
	return len(p), nil
}

func (r *recorder) AddNullSection() error {
	r.sections++
	return nil
}

func (r *recorder) Commit() (int64, error) {
	r.commits++
	return r.size, nil
}

func sourceAt(size int, payloads map[uint64][]byte) []byte {
	s := make([]byte, size)
	for off, p := range payloads {
		copy(s[off:], p)
	}
	return s
}

func TestEmit(t *testing.T) {
	a := bytes.Repeat([]byte{0x11}, 0x20)
	b := bytes.Repeat([]byte{0x22}, 0x10)
	src := bytes.NewReader(sourceAt(0x3000, map[uint64][]byte{0x1000: a, 0x2000: b}))

	sa := load(0x1000, 0x20, 0x20, 0x10)
	sa.Offset = 0x1000
	sb := load(0x2000, 0x10, 0x10, 0x10)
	sb.Offset = 0x2000
	cands := []Candidate{{Index: 3, Segment: sa}, {Index: 1, Segment: sb}}

	dst := newRecorder(0xb0)
	res, err := Emit(src, dst, cands, Options{}, log.NewNopLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, dst.commits)
	assert.Equal(t, 1, dst.sections)
	assert.Equal(t, 1, res.Sections)
	assert.Equal(t, int64(0x1000), res.Size)
	assert.Equal(t, map[uint64][]byte{0xb0: a, 0xd0: b}, dst.writes)

	require.Len(t, res.Placements, 2)
	assert.Equal(t, 3, res.Placements[0].Index)
	assert.Equal(t, uint64(0xb0), res.Placements[0].Segment.Offset)
	assert.Equal(t, uint64(0xd0), res.Placements[1].Segment.Offset)
	assert.Equal(t, res.Placements[0].Segment, dst.segs[0])
	assert.Equal(t, res.Placements[1].Segment, dst.segs[1])

	got := dst.segs[1]
	assert.Equal(t, sb.Paddr, got.Paddr)
	assert.Equal(t, sb.Vaddr, got.Vaddr)
	assert.Equal(t, sb.MemSize, got.MemSize)
	assert.Equal(t, sb.Flags, got.Flags)
	assert.Equal(t, sb.Align, got.Align)
}

func TestEmitOmitSectionTable(t *testing.T) {
	seg := load(0x1000, 4, 4, 0)
	seg.Offset = 0x100
	src := bytes.NewReader(sourceAt(0x200, map[uint64][]byte{0x100: {1, 2, 3, 4}}))

	dst := newRecorder(0x78)
	res, err := Emit(src, dst, []Candidate{{Segment: seg}}, Options{OmitSectionTable: true}, log.NewNopLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, dst.sections)
	assert.Equal(t, 0, res.Sections)
	assert.Equal(t, []byte{1, 2, 3, 4}, dst.writes[0x78])
}

func TestEmitZeroSize(t *testing.T) {
	data := load(0x1000, 3, 3, 0)
	data.Offset = 0x100
	bss := load(0x2000, 0, 0x100, 0x10)
	bss.Offset = 0x500

	dst := newRecorder(0xe8)
	res, err := Emit(bytes.NewReader(sourceAt(0x200, nil)), dst,
		[]Candidate{{Segment: data}, {Segment: bss}}, Options{AdmitZeroSize: true}, log.NewNopLogger())
	require.NoError(t, err)
	assert.Len(t, dst.writes, 1)
	assert.Equal(t, uint64(0xe8), res.Placements[0].Segment.Offset)
	assert.Equal(t, uint64(0xf0), res.Placements[1].Segment.Offset)
	assert.Equal(t, uint64(0), res.Placements[1].Segment.FileSize)
	assert.Equal(t, uint64(0x100), res.Placements[1].Segment.MemSize)
	assert.False(t, res.Placements[1].Short)
}

func TestEmitShortRead(t *testing.T) {
	first := load(0x1000, 0x40, 0x40, 0)
	first.Offset = 0x1e0
	second := load(0x2000, 0x10, 0x10, 0)
	second.Offset = 0x100

	// source ends 0x20 bytes into the first payload
	src := bytes.NewReader(sourceAt(0x200, nil))
	var logs bytes.Buffer
	dst := newRecorder(0xb0)
	res, err := Emit(src, dst, []Candidate{{Segment: first}, {Segment: second}}, Options{}, log.NewLogfmtLogger(&logs))
	require.NoError(t, err)

	p := res.Placements[0]
	assert.True(t, p.Short)
	assert.Equal(t, uint64(0x20), p.Segment.FileSize)
	assert.Equal(t, uint64(0x40), p.Segment.MemSize)
	assert.Equal(t, uint64(0xb0), p.Segment.Offset)
	assert.Len(t, dst.writes[0xb0], 0x20)

	// the next segment packs behind the bytes actually written
	assert.Equal(t, uint64(0xd0), res.Placements[1].Segment.Offset)
	assert.False(t, res.Placements[1].Short)
	assert.Contains(t, logs.String(), "short read")
}

func TestEmitReadPastEnd(t *testing.T) {
	seg := load(0x1000, 0x10, 0x10, 0)
	seg.Offset = 0x400
	dst := newRecorder(0x78)
	res, err := Emit(bytes.NewReader(sourceAt(0x200, nil)), dst, []Candidate{{Segment: seg}}, Options{}, log.NewNopLogger())
	require.NoError(t, err)
	assert.Empty(t, dst.writes)
	assert.True(t, res.Placements[0].Short)
	assert.Equal(t, uint64(0), res.Placements[0].Segment.FileSize)
}

func TestEmitErrors(t *testing.T) {
	seg := load(0x1000, 0x10, 0x10, 0)
	seg.Offset = 0x100
	src := sourceAt(0x200, nil)
	cands := []Candidate{{Segment: seg}}
	logger := log.NewNopLogger()

	t.Run("header", func(t *testing.T) {
		dst := newRecorder(0x78)
		dst.failUpdate = errors.New("disk full")
		_, err := Emit(bytes.NewReader(src), dst, cands, Options{}, logger)
		assert.Equal(t, KindStructuralWrite, KindOf(err))
		assert.Empty(t, dst.writes)
		assert.Equal(t, 0, dst.commits)
	})

	t.Run("payload", func(t *testing.T) {
		dst := newRecorder(0x78)
		dst.failWrite = errors.New("disk full")
		_, err := Emit(bytes.NewReader(src), dst, cands, Options{}, logger)
		assert.Equal(t, KindDestinationAccess, KindOf(err))
		assert.Equal(t, 0, dst.commits)
	})

	t.Run("empty commit", func(t *testing.T) {
		dst := newRecorder(0x78)
		dst.size = 0
		_, err := Emit(bytes.NewReader(src), dst, cands, Options{}, logger)
		assert.Equal(t, KindStructuralWrite, KindOf(err))
	})

	t.Run("allocation", func(t *testing.T) {
		huge := load(0x1000, elfx.SizeLimit+1, elfx.SizeLimit+1, 0)
		huge.Offset = 0x100
		dst := newRecorder(0x78)
		_, err := Emit(bytes.NewReader(src), dst, []Candidate{{Segment: huge}}, Options{}, logger)
		assert.Equal(t, KindAllocation, KindOf(err))
		assert.Empty(t, dst.writes)
	})

	t.Run("source offset", func(t *testing.T) {
		bad := load(0x1000, 0x10, 0x10, 0)
		bad.Offset = 1 << 63
		dst := newRecorder(0x78)
		_, err := Emit(bytes.NewReader(src), dst, []Candidate{{Segment: bad}}, Options{}, logger)
		assert.Equal(t, KindSourceAccess, KindOf(err))
	})

	t.Run("past image limit", func(t *testing.T) {
		dst := newRecorder(0xf8)
		dst.maxOffset = 0xff
		_, err := Emit(bytes.NewReader(src), dst, cands, Options{}, logger)
		assert.Equal(t, KindStructuralWrite, KindOf(err))
		assert.Empty(t, dst.writes)
		assert.Equal(t, 0, dst.commits)
	})

	t.Run("alignment overflow", func(t *testing.T) {
		odd := load(0x1000, 0x10, 0x10, 1<<63+1)
		odd.Offset = 0x100
		dst := newRecorder(1<<63 + 2)
		_, err := Emit(bytes.NewReader(src), dst, []Candidate{{Segment: odd}}, Options{}, logger)
		assert.Equal(t, KindStructuralWrite, KindOf(err))
	})
}

func TestEmitELF32Limit(t *testing.T) {
	hdr := elfx.FileHeader{Class: elf.ELFCLASS32, Data: elf.ELFDATA2MSB, Type: elf.ET_EXEC, Machine: elf.EM_PPC}
	fs := afero.NewMemMapFs()
	dst, err := elfx.Create(fs, "out.elf", hdr, 1)
	require.NoError(t, err)
	defer dst.Close()

	// aligns to 0xffffffff, so the payload would end past 4 GiB
	seg := load(0x1000, 0x10, 0x10, 1<<32-1)
	seg.Offset = 0x100
	_, err = Emit(bytes.NewReader(sourceAt(0x200, nil)), dst, []Candidate{{Segment: seg}}, Options{}, log.NewNopLogger())
	assert.Equal(t, KindStructuralWrite, KindOf(err))

	fi, err := fs.Stat("out.elf")
	require.NoError(t, err)
	assert.Zero(t, fi.Size(), "nothing written past the ELF32 limit")
}
