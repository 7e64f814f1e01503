package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Writer builds a destination image. Payload bytes go straight to their
// final offsets through WriteData; the ELF header, program header table and
// optional section header table are written once by Commit.
//
//	+----------------------+ 0
//	| ELF header           |
//	+----------------------+ e_phoff = e_ehsize
//	| program headers      |
//	+----------------------+ DataOffset()
//	| segment payloads     |
//	+----------------------+
//	| section headers      | optional
//	+----------------------+
type Writer struct {
	w      io.WriterAt
	closer io.Closer
	hdr    FileHeader
	sz     sizes

	progs     []Segment
	set       []bool
	sections  int
	end       uint64
	committed bool
}

func Create(fs afero.Fs, name string, hdr FileHeader, phnum int) (*Writer, error) {
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, hdr, phnum)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

func NewWriter(w io.WriterAt, hdr FileHeader, phnum int) (*Writer, error) {
	sz, err := hdr.sizes()
	if err != nil {
		return nil, err
	}
	if hdr.ByteOrder() == nil {
		return nil, errors.Wrapf(ErrUnsupportedData, "data %v", hdr.Data)
	}
	if phnum <= 0 || phnum >= 0xffff {
		return nil, errors.Errorf("program header count %d out of range", phnum)
	}
	return &Writer{
		w:     w,
		hdr:   hdr,
		sz:    sz,
		progs: make([]Segment, phnum),
		set:   make([]bool, phnum),
	}, nil
}

// DataOffset is the first byte after the header and program header table.
func (w *Writer) DataOffset() uint64 {
	return w.sz.ehsize + uint64(len(w.progs))*w.sz.phentsize
}

// MaxOffset is the largest file offset the image class can describe.
func (w *Writer) MaxOffset() uint64 {
	if w.hdr.Is64() {
		return 1<<63 - 1
	}
	return 1<<32 - 1
}

func (w *Writer) UpdateSegment(i int, seg Segment) error {
	if w.committed {
		return ErrCommitted
	}
	if i < 0 || i >= len(w.progs) {
		return errors.Wrapf(ErrSegmentIndex, "index %d of %d", i, len(w.progs))
	}
	if !w.hdr.Is64() && !seg.fits32() {
		return errors.Errorf("program header %d does not fit ELF32", i)
	}
	w.progs[i] = seg
	w.set[i] = true
	return nil
}

func (w *Writer) WriteData(off uint64, p []byte) (int, error) {
	if w.committed {
		return 0, ErrCommitted
	}
	if off < w.DataOffset() {
		return 0, errors.Errorf("data offset %#x overlaps headers ending at %#x", off, w.DataOffset())
	}
	if off+uint64(len(p)) < off || off+uint64(len(p)) > 1<<63-1 {
		return 0, errors.Errorf("data offset %#x out of range", off)
	}
	n, err := w.w.WriteAt(p, int64(off))
	if end := off + uint64(n); end > w.end {
		w.end = end
	}
	return n, err
}

// AddNullSection appends the single SHT_NULL entry of a minimal section
// header table.
func (w *Writer) AddNullSection() error {
	if w.committed {
		return ErrCommitted
	}
	if w.sections > 0 {
		return errors.New("section header table already allocated")
	}
	w.sections = 1
	return nil
}

// Commit writes the headers and returns the size of the image.
func (w *Writer) Commit() (int64, error) {
	if w.committed {
		return 0, ErrCommitted
	}
	for i, ok := range w.set {
		if !ok {
			return 0, errors.Errorf("program header %d not set", i)
		}
	}
	size := w.end
	if size < w.DataOffset() {
		size = w.DataOffset()
	}
	var shoff uint64
	if w.sections > 0 {
		shoff = (size + w.sz.word - 1) &^ (w.sz.word - 1)
		size = shoff + uint64(w.sections)*w.sz.shentsize
	}
	if !w.hdr.Is64() && size > 1<<32-1 {
		return 0, errors.Errorf("image size %d does not fit ELF32", size)
	}

	buf := &bytes.Buffer{}
	if err := w.encodeHeaders(buf, shoff); err != nil {
		return 0, err
	}
	if _, err := w.w.WriteAt(buf.Bytes(), 0); err != nil {
		return 0, errors.Wrap(err, "write headers")
	}
	if w.sections > 0 {
		sht := make([]byte, uint64(w.sections)*w.sz.shentsize)
		if _, err := w.w.WriteAt(sht, int64(shoff)); err != nil {
			return 0, errors.Wrap(err, "write section headers")
		}
	}
	w.committed = true
	return int64(size), nil
}

func (w *Writer) encodeHeaders(buf *bytes.Buffer, shoff uint64) error {
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(w.hdr.Class)
	ident[elf.EI_DATA] = byte(w.hdr.Data)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(w.hdr.OSABI)
	ident[elf.EI_ABIVERSION] = w.hdr.ABIVersion

	shnum := uint16(w.sections)
	shentsize := uint16(w.sz.shentsize)

	bo := w.hdr.ByteOrder()
	if w.hdr.Is64() {
		ehdr := elf.Header64{
			Ident:     ident,
			Type:      uint16(w.hdr.Type),
			Machine:   uint16(w.hdr.Machine),
			Version:   uint32(elf.EV_CURRENT),
			Entry:     w.hdr.Entry,
			Phoff:     w.sz.ehsize,
			Shoff:     shoff,
			Flags:     w.hdr.Flags,
			Ehsize:    uint16(w.sz.ehsize),
			Phentsize: uint16(w.sz.phentsize),
			Phnum:     uint16(len(w.progs)),
			Shentsize: shentsize,
			Shnum:     shnum,
			Shstrndx:  uint16(elf.SHN_UNDEF),
		}
		if err := binary.Write(buf, bo, &ehdr); err != nil {
			return err
		}
		for _, p := range w.progs {
			ph := elf.Prog64{
				Type:   uint32(p.Type),
				Flags:  uint32(p.Flags),
				Off:    p.Offset,
				Vaddr:  p.Vaddr,
				Paddr:  p.Paddr,
				Filesz: p.FileSize,
				Memsz:  p.MemSize,
				Align:  p.Align,
			}
			if err := binary.Write(buf, bo, &ph); err != nil {
				return err
			}
		}
		return nil
	}

	if w.hdr.Entry > 1<<32-1 {
		return errors.Errorf("entry %#x does not fit ELF32", w.hdr.Entry)
	}
	ehdr := elf.Header32{
		Ident:     ident,
		Type:      uint16(w.hdr.Type),
		Machine:   uint16(w.hdr.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     uint32(w.hdr.Entry),
		Phoff:     uint32(w.sz.ehsize),
		Shoff:     uint32(shoff),
		Flags:     w.hdr.Flags,
		Ehsize:    uint16(w.sz.ehsize),
		Phentsize: uint16(w.sz.phentsize),
		Phnum:     uint16(len(w.progs)),
		Shentsize: shentsize,
		Shnum:     shnum,
		Shstrndx:  uint16(elf.SHN_UNDEF),
	}
	if err := binary.Write(buf, bo, &ehdr); err != nil {
		return err
	}
	for _, p := range w.progs {
		ph := elf.Prog32{
			Type:   uint32(p.Type),
			Off:    uint32(p.Offset),
			Vaddr:  uint32(p.Vaddr),
			Paddr:  uint32(p.Paddr),
			Filesz: uint32(p.FileSize),
			Memsz:  uint32(p.MemSize),
			Flags:  uint32(p.Flags),
			Align:  uint32(p.Align),
		}
		if err := binary.Write(buf, bo, &ph); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	err := w.closer.Close()
	w.closer = nil
	return err
}
