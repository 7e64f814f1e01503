package elf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// File is a source image opened for reading.
type File struct {
	r        io.ReaderAt
	closer   io.Closer
	hdr      FileHeader
	segments []Segment
}

func Open(fs afero.Fs, name string) (*File, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	ef, err := NewFile(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, name)
	}
	ef.closer = f
	return ef, nil
}

func NewFile(r io.ReaderAt) (*File, error) {
	var ident [elf.EI_NIDENT]byte
	if _, err := r.ReadAt(ident[:], 0); err != nil {
		return nil, errors.Wrap(err, "read ELF ident")
	}
	if !bytes.Equal(ident[:4], []byte(elf.ELFMAG)) {
		return nil, errors.Errorf("header magic mismatch: %x", ident[:4])
	}
	hdr := FileHeader{
		Class: elf.Class(ident[elf.EI_CLASS]),
		Data:  elf.Data(ident[elf.EI_DATA]),
	}
	if _, err := hdr.sizes(); err != nil {
		return nil, err
	}
	bo := hdr.ByteOrder()
	if bo == nil {
		return nil, errors.Wrapf(ErrUnsupportedData, "data %v", hdr.Data)
	}

	var (
		phoff, shoff     uint64
		phentsize, phnum int
		wantPhentsize    int
		err              error
	)
	sr := io.NewSectionReader(r, 0, 1<<63-1)
	if hdr.Is64() {
		var eh elf.Header64
		err = binary.Read(sr, bo, &eh)
		hdr.OSABI, hdr.ABIVersion = elf.OSABI(eh.Ident[elf.EI_OSABI]), eh.Ident[elf.EI_ABIVERSION]
		hdr.Type, hdr.Machine = elf.Type(eh.Type), elf.Machine(eh.Machine)
		hdr.Entry, hdr.Flags = eh.Entry, eh.Flags
		phoff, shoff = eh.Phoff, eh.Shoff
		phentsize, phnum = int(eh.Phentsize), int(eh.Phnum)
		wantPhentsize = Prog64Size
	} else {
		var eh elf.Header32
		err = binary.Read(sr, bo, &eh)
		hdr.OSABI, hdr.ABIVersion = elf.OSABI(eh.Ident[elf.EI_OSABI]), eh.Ident[elf.EI_ABIVERSION]
		hdr.Type, hdr.Machine = elf.Type(eh.Type), elf.Machine(eh.Machine)
		hdr.Entry, hdr.Flags = uint64(eh.Entry), eh.Flags
		phoff, shoff = uint64(eh.Phoff), uint64(eh.Shoff)
		phentsize, phnum = int(eh.Phentsize), int(eh.Phnum)
		wantPhentsize = Prog32Size
	}
	if err != nil {
		return nil, errors.Wrap(err, "read ELF header")
	}

	// Only the program header table is decoded; section headers are consulted
	// solely for extended program header numbering.
	if phnum == 0xffff {
		phnum, err = extendedPhnum(r, hdr, shoff)
		if err != nil {
			return nil, err
		}
	}
	if phnum > 0 && phentsize != wantPhentsize {
		return nil, errors.Errorf("program header entry size %d, want %d", phentsize, wantPhentsize)
	}
	if uint64(phnum)*uint64(phentsize) > SizeLimit {
		return nil, errors.Errorf("program header table of %d entries too large", phnum)
	}
	if phoff > 1<<63-1-uint64(phnum*phentsize) {
		return nil, errors.Errorf("program header offset %#x out of range", phoff)
	}

	segments := make([]Segment, 0, phnum)
	sr = io.NewSectionReader(r, int64(phoff), int64(phnum*phentsize))
	for i := 0; i < phnum; i++ {
		var seg Segment
		if hdr.Is64() {
			var ph elf.Prog64
			err = binary.Read(sr, bo, &ph)
			seg = Segment{
				Type:     elf.ProgType(ph.Type),
				Flags:    elf.ProgFlag(ph.Flags),
				Offset:   ph.Off,
				Vaddr:    ph.Vaddr,
				Paddr:    ph.Paddr,
				FileSize: ph.Filesz,
				MemSize:  ph.Memsz,
				Align:    ph.Align,
			}
		} else {
			var ph elf.Prog32
			err = binary.Read(sr, bo, &ph)
			seg = Segment{
				Type:     elf.ProgType(ph.Type),
				Flags:    elf.ProgFlag(ph.Flags),
				Offset:   uint64(ph.Off),
				Vaddr:    uint64(ph.Vaddr),
				Paddr:    uint64(ph.Paddr),
				FileSize: uint64(ph.Filesz),
				MemSize:  uint64(ph.Memsz),
				Align:    uint64(ph.Align),
			}
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read program header %d", i)
		}
		segments = append(segments, seg)
	}
	return &File{
		r:        r,
		hdr:      hdr,
		segments: segments,
	}, nil
}

// extendedPhnum reads the program header count from sh_info of section 0,
// where it lives when e_phnum is PN_XNUM.
func extendedPhnum(r io.ReaderAt, hdr FileHeader, shoff uint64) (int, error) {
	if shoff == 0 || shoff > 1<<62 {
		return 0, errors.New("PN_XNUM without a section header table")
	}
	sr := io.NewSectionReader(r, int64(shoff), 1<<62)
	if hdr.Is64() {
		var sh elf.Section64
		if err := binary.Read(sr, hdr.ByteOrder(), &sh); err != nil {
			return 0, errors.Wrap(err, "read section header 0")
		}
		return int(sh.Info), nil
	}
	var sh elf.Section32
	if err := binary.Read(sr, hdr.ByteOrder(), &sh); err != nil {
		return 0, errors.Wrap(err, "read section header 0")
	}
	return int(sh.Info), nil
}

func (f *File) Header() FileHeader {
	return f.hdr
}

// Segments returns every program header of the image in table order.
func (f *File) Segments() []Segment {
	res := make([]Segment, len(f.segments))
	copy(res, f.segments)
	return res
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.r.ReadAt(p, off)
}

func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	err := f.closer.Close()
	f.closer = nil
	return err
}
