package elf

import (
	"debug/elf"
	"fmt"
)

const debugShstrtab = "\x00.shstrtab\x00"

// DebugBuildELF lays out an image the way a linker leaves it: header,
// program headers, data[i] at segs[i].Offset, then a .shstrtab and a
// section header table at the end.
func DebugBuildELF(hdr FileHeader, segs []Segment, data [][]byte) []byte {
	sz, err := hdr.sizes()
	if err != nil {
		panic(err)
	}
	bo := hdr.ByteOrder()
	if bo == nil {
		panic(fmt.Sprintf("unsupported data encoding %v", hdr.Data))
	}
	if len(data) > len(segs) {
		panic("more payloads than segments")
	}

	end := sz.ehsize + uint64(len(segs))*sz.phentsize
	for i, d := range data {
		if len(d) == 0 {
			continue
		}
		if segs[i].Offset < sz.ehsize+uint64(len(segs))*sz.phentsize {
			panic(fmt.Sprintf("payload %d overlaps program headers", i))
		}
		if e := segs[i].Offset + uint64(len(d)); e > end {
			end = e
		}
	}
	strOff := end
	shoff := (strOff + uint64(len(debugShstrtab)) + sz.word - 1) &^ (sz.word - 1)
	s := make([]byte, shoff+2*sz.shentsize)

	word := func(b []byte, v uint64) {
		if hdr.Is64() {
			bo.PutUint64(b, v)
		} else {
			bo.PutUint32(b, uint32(v))
		}
	}

	copy(s, elf.ELFMAG)
	s[elf.EI_CLASS] = byte(hdr.Class)
	s[elf.EI_DATA] = byte(hdr.Data)
	s[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	s[elf.EI_OSABI] = byte(hdr.OSABI)
	s[elf.EI_ABIVERSION] = hdr.ABIVersion
	bo.PutUint16(s[0x10:], uint16(hdr.Type))
	bo.PutUint16(s[0x12:], uint16(hdr.Machine))
	bo.PutUint32(s[0x14:], uint32(elf.EV_CURRENT))
	if hdr.Is64() {
		bo.PutUint64(s[0x18:], hdr.Entry)
		bo.PutUint64(s[0x20:], sz.ehsize)
		bo.PutUint64(s[0x28:], shoff)
		bo.PutUint32(s[0x30:], hdr.Flags)
		bo.PutUint16(s[0x34:], uint16(sz.ehsize))
		bo.PutUint16(s[0x36:], uint16(sz.phentsize))
		bo.PutUint16(s[0x38:], uint16(len(segs)))
		bo.PutUint16(s[0x3a:], uint16(sz.shentsize))
		bo.PutUint16(s[0x3c:], 2)
		bo.PutUint16(s[0x3e:], 1)
	} else {
		bo.PutUint32(s[0x18:], uint32(hdr.Entry))
		bo.PutUint32(s[0x1c:], uint32(sz.ehsize))
		bo.PutUint32(s[0x20:], uint32(shoff))
		bo.PutUint32(s[0x24:], hdr.Flags)
		bo.PutUint16(s[0x28:], uint16(sz.ehsize))
		bo.PutUint16(s[0x2a:], uint16(sz.phentsize))
		bo.PutUint16(s[0x2c:], uint16(len(segs)))
		bo.PutUint16(s[0x2e:], uint16(sz.shentsize))
		bo.PutUint16(s[0x30:], 2)
		bo.PutUint16(s[0x32:], 1)
	}

	for i, seg := range segs {
		e := s[sz.ehsize+uint64(i)*sz.phentsize:]
		bo.PutUint32(e[0:], uint32(seg.Type))
		if hdr.Is64() {
			bo.PutUint32(e[4:], uint32(seg.Flags))
			word(e[8:], seg.Offset)
			word(e[16:], seg.Vaddr)
			word(e[24:], seg.Paddr)
			word(e[32:], seg.FileSize)
			word(e[40:], seg.MemSize)
			word(e[48:], seg.Align)
		} else {
			word(e[4:], seg.Offset)
			word(e[8:], seg.Vaddr)
			word(e[12:], seg.Paddr)
			word(e[16:], seg.FileSize)
			word(e[20:], seg.MemSize)
			bo.PutUint32(e[24:], uint32(seg.Flags))
			word(e[28:], seg.Align)
		}
	}
	for i, d := range data {
		if len(d) == 0 {
			continue
		}
		copy(s[segs[i].Offset:], d)
	}

	copy(s[strOff:], debugShstrtab)
	// entry 0 stays SHT_NULL; entry 1 describes .shstrtab
	e := s[shoff+sz.shentsize:]
	bo.PutUint32(e[0:], 1)
	bo.PutUint32(e[4:], uint32(elf.SHT_STRTAB))
	if hdr.Is64() {
		bo.PutUint64(e[24:], strOff)
		bo.PutUint64(e[32:], uint64(len(debugShstrtab)))
		bo.PutUint64(e[48:], 1)
	} else {
		bo.PutUint32(e[16:], uint32(strOff))
		bo.PutUint32(e[20:], uint32(len(debugShstrtab)))
		bo.PutUint32(e[32:], 1)
	}
	return s
}
