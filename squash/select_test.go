package squash

import (
	"debug/elf"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	elfx "github.com/mcfx/squashelf/elf"
)

func load(paddr, filesz, memsz, align uint64) elfx.Segment {
	return elfx.Segment{
		Type:     elf.PT_LOAD,
		Flags:    elf.PF_R,
		Vaddr:    paddr,
		Paddr:    paddr,
		FileSize: filesz,
		MemSize:  memsz,
		Align:    align,
	}
}

func indexes(cands []Candidate) []int {
	res := make([]int, len(cands))
	for i, c := range cands {
		res[i] = c.Index
	}
	return res
}

func TestSelect(t *testing.T) {
	segs := []elfx.Segment{
		{Type: elf.PT_PHDR, Paddr: 0x40, FileSize: 0x70},
		load(0x2000, 0x10, 0x10, 4),
		{Type: elf.PT_NOTE, Paddr: 0x1100, FileSize: 0x20},
		load(0x1000, 0x20, 0x20, 4),
		load(0x3000, 0, 0x100, 4),
		{Type: elf.PT_GNU_STACK},
	}
	logger := log.NewNopLogger()

	cands, err := Select(segs, Options{}, logger)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, indexes(cands))
	assert.Equal(t, segs[1], cands[0].Segment)

	cands, err = Select(segs, Options{AdmitZeroSize: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4}, indexes(cands))

	cands, err = Select(segs, Options{Range: &AddrRange{0x1000, 0x1fff}}, logger)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, indexes(cands))

	cands, err = Select(segs, Options{Range: &AddrRange{0x3000, 0x30ff}, AdmitZeroSize: true}, logger)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, indexes(cands))

	cands, err = Select(segs, Options{Range: &AddrRange{0x3000, 0x30fe}, AdmitZeroSize: true}, logger)
	assert.Nil(t, cands)
	assert.True(t, errors.Is(err, ErrNoLoadableSegments))
	assert.Equal(t, KindNoLoadableSegments, KindOf(err))
}

func TestSelectNoLoad(t *testing.T) {
	segs := []elfx.Segment{
		{Type: elf.PT_NOTE, FileSize: 0x20},
		load(0x1000, 0, 0x20, 4),
	}
	_, err := Select(segs, Options{}, log.NewNopLogger())
	assert.True(t, errors.Is(err, ErrNoLoadableSegments))

	_, err = Select(nil, Options{AdmitZeroSize: true}, log.NewNopLogger())
	assert.Equal(t, KindNoLoadableSegments, KindOf(err))
}
