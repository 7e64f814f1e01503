package elf

import (
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"
)

const SizeLimit = 1 << 30

const (
	Header32Size  = 52
	Prog32Size    = 32
	Section32Size = 40
	Header64Size  = 64
	Prog64Size    = 56
	Section64Size = 64
)

var (
	ErrUnsupportedClass = errors.New("unsupported ELF class")
	ErrUnsupportedData  = errors.New("unsupported ELF data encoding")
	ErrCommitted        = errors.New("image already committed")
	ErrSegmentIndex     = errors.New("program header index out of range")
)

// FileHeader holds the ELF header fields a squashed image inherits from its
// source.
type FileHeader struct {
	Class      elf.Class
	Data       elf.Data
	OSABI      elf.OSABI
	ABIVersion uint8
	Type       elf.Type
	Machine    elf.Machine
	Entry      uint64
	Flags      uint32
}

func (h FileHeader) ByteOrder() binary.ByteOrder {
	switch h.Data {
	case elf.ELFDATA2LSB:
		return binary.LittleEndian
	case elf.ELFDATA2MSB:
		return binary.BigEndian
	}
	return nil
}

func (h FileHeader) Is64() bool {
	return h.Class == elf.ELFCLASS64
}

type sizes struct {
	ehsize    uint64
	phentsize uint64
	shentsize uint64
	word      uint64
}

func (h FileHeader) sizes() (sizes, error) {
	switch h.Class {
	case elf.ELFCLASS32:
		return sizes{Header32Size, Prog32Size, Section32Size, 4}, nil
	case elf.ELFCLASS64:
		return sizes{Header64Size, Prog64Size, Section64Size, 8}, nil
	}
	return sizes{}, errors.Wrapf(ErrUnsupportedClass, "class %v", h.Class)
}

// Segment is one program header table entry.
type Segment struct {
	Type     elf.ProgType
	Flags    elf.ProgFlag
	Offset   uint64
	Vaddr    uint64
	Paddr    uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

func (s Segment) IsLoad() bool {
	return s.Type == elf.PT_LOAD
}

func (s Segment) fits32() bool {
	const limit = 1<<32 - 1
	return s.Offset <= limit && s.Vaddr <= limit && s.Paddr <= limit &&
		s.FileSize <= limit && s.MemSize <= limit && s.Align <= limit
}
