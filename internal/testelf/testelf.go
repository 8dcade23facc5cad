// Package testelf builds minimal, valid 64-bit x86-64 ET_EXEC ELF images
// in memory for use by this module's tests. It is not part of the public
// API.
package testelf

import (
	"bytes"
	"encoding/binary"
)

// BaseVaddr is the virtual address at which the synthetic executable's
// single PT_LOAD segment is based.
const BaseVaddr = 0x400000

// Func describes one function to embed in the image: its code bytes, to be
// placed in .text, and a DWARF subprogram DIE advertising [addr, addr+len).
type Func struct {
	Code []byte
}

// Options configures Build.
type Options struct {
	Funcs []Func
	// ExtraMemsz adds zero-filled tail space to the PT_LOAD segment beyond
	// the file's content, to exercise staging's zero-fill behavior.
	ExtraMemsz uint64
	// Class32 builds an (invalid, for negative tests) 32-bit header instead.
	Class32 bool
	// WrongMachine builds a header with a non-x86-64 e_machine.
	WrongMachine bool
	// NoDWARF omits .debug_abbrev/.debug_info sections.
	NoDWARF bool
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
)

func align(v, to uint64) uint64 {
	if to == 0 {
		return v
	}
	return (v + to - 1) &^ (to - 1)
}

// Build returns the raw bytes of a synthetic ELF executable, along with
// the virtual address of the start of .text.
func Build(opts Options) (data []byte, textVaddr uint64) {
	var text bytes.Buffer
	for _, f := range opts.Funcs {
		text.Write(f.Code)
	}
	textBytes := text.Bytes()

	textFileOff := align(ehdrSize+phdrSize, 16)
	textVaddr = BaseVaddr + textFileOff

	var abbrev, info []byte
	if !opts.NoDWARF {
		abbrev, info = buildDWARF(opts.Funcs, textVaddr)
	}

	abbrevOff := textFileOff + uint64(len(textBytes))
	infoOff := abbrevOff + uint64(len(abbrev))
	shstrtabOff := infoOff + uint64(len(info))

	names := []string{"", ".text"}
	if !opts.NoDWARF {
		names = append(names, ".debug_abbrev", ".debug_info")
	}
	names = append(names, ".shstrtab")
	shstrtab, nameOff := buildStrtab(names)

	shoff := shstrtabOff + uint64(len(shstrtab))

	var buf bytes.Buffer
	buf.Grow(int(shoff) + 8*shdrSize)

	// --- ELF header ---
	ident := make([]byte, 16)
	ident[0], ident[1], ident[2], ident[3] = 0x7f, 'E', 'L', 'F'
	if opts.Class32 {
		ident[4] = 1 // ELFCLASS32
	} else {
		ident[4] = 2 // ELFCLASS64
	}
	ident[5] = 1 // ELFDATA2LSB
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident)

	machine := uint16(0x3e) // EM_X86_64
	if opts.WrongMachine {
		machine = 0x03 // EM_386
	}

	le := binary.LittleEndian
	write16 := func(v uint16) { var b [2]byte; le.PutUint16(b[:], v); buf.Write(b[:]) }
	write32 := func(v uint32) { var b [4]byte; le.PutUint32(b[:], v); buf.Write(b[:]) }
	write64 := func(v uint64) { var b [8]byte; le.PutUint64(b[:], v); buf.Write(b[:]) }

	write16(2)       // e_type = ET_EXEC
	write16(machine)  // e_machine
	write32(1)        // e_version
	write64(textVaddr) // e_entry
	write64(ehdrSize) // e_phoff
	write64(shoff)    // e_shoff
	write32(0)        // e_flags
	write16(ehdrSize) // e_ehsize
	write16(phdrSize) // e_phentsize
	write16(1)        // e_phnum
	write16(shdrSize) // e_shentsize
	write16(uint16(len(names)))     // e_shnum
	write16(uint16(len(names) - 1)) // e_shstrndx (last section)

	// --- program header: one PT_LOAD covering the header through .text ---
	filesz := textFileOff + uint64(len(textBytes))
	write32(1)                        // p_type = PT_LOAD
	write32(5)                        // p_flags = PF_R|PF_X
	write64(0)                        // p_offset
	write64(BaseVaddr)                // p_vaddr
	write64(BaseVaddr)                // p_paddr
	write64(filesz)                   // p_filesz
	write64(filesz + opts.ExtraMemsz) // p_memsz
	write64(0x1000)                   // p_align

	// --- section contents, in file order ---
	pad := func(to uint64) {
		for uint64(buf.Len()) < to {
			buf.WriteByte(0)
		}
	}
	pad(textFileOff)
	buf.Write(textBytes)
	if !opts.NoDWARF {
		pad(abbrevOff)
		buf.Write(abbrev)
		pad(infoOff)
		buf.Write(info)
	}
	pad(shstrtabOff)
	buf.Write(shstrtab)
	pad(shoff)

	// --- section headers ---
	writeShdr := func(name string, typ uint32, flags, addr, offset, size uint64) {
		write32(nameOff[name])
		write32(typ)
		write64(flags)
		write64(addr)
		write64(offset)
		write64(size)
		write32(0) // sh_link
		write32(0) // sh_info
		write64(1) // sh_addralign
		write64(0) // sh_entsize
	}
	writeShdr("", 0, 0, 0, 0, 0) // SHT_NULL
	writeShdr(".text", 1 /*SHT_PROGBITS*/, 0x6 /*ALLOC|EXECINSTR*/, textVaddr, textFileOff, uint64(len(textBytes)))
	if !opts.NoDWARF {
		writeShdr(".debug_abbrev", 1, 0, 0, abbrevOff, uint64(len(abbrev)))
		writeShdr(".debug_info", 1, 0, 0, infoOff, uint64(len(info)))
	}
	writeShdr(".shstrtab", 3 /*SHT_STRTAB*/, 0, 0, shstrtabOff, uint64(len(shstrtab)))

	return buf.Bytes(), textVaddr
}

func buildStrtab(names []string) ([]byte, map[string]uint32) {
	var buf bytes.Buffer
	offs := make(map[string]uint32)
	buf.WriteByte(0)
	for _, n := range names {
		if n == "" {
			offs[n] = 0
			continue
		}
		if _, ok := offs[n]; ok {
			continue
		}
		offs[n] = uint32(buf.Len())
		buf.WriteString(n)
		buf.WriteByte(0)
	}
	return buf.Bytes(), offs
}

// buildDWARF emits a minimal .debug_abbrev/.debug_info pair describing one
// compile unit whose children are one subprogram DIE per function, each
// with DW_AT_low_pc (DW_FORM_addr) and DW_AT_high_pc (DW_FORM_data8,
// constant-class, denoting length).
func buildDWARF(funcs []Func, textVaddr uint64) (abbrev, info []byte) {
	var a bytes.Buffer
	a.Write([]byte{0x01, 0x11, 0x01, 0x00, 0x00})                   // compile_unit, children, no attrs
	a.Write([]byte{0x02, 0x2e, 0x00, 0x11, 0x01, 0x12, 0x07, 0x00, 0x00}) // subprogram: low_pc(addr), high_pc(data8)
	a.WriteByte(0x00)
	abbrev = a.Bytes()

	le := binary.LittleEndian
	var body bytes.Buffer
	body.WriteByte(0x01) // compile_unit
	addr := textVaddr
	for _, f := range funcs {
		body.WriteByte(0x02) // subprogram
		var b8 [8]byte
		le.PutUint64(b8[:], addr)
		body.Write(b8[:])
		le.PutUint64(b8[:], uint64(len(f.Code)))
		body.Write(b8[:])
		addr += uint64(len(f.Code))
	}
	body.WriteByte(0x00) // end of compile_unit children

	var unit bytes.Buffer
	var u16 [2]byte
	le.PutUint16(u16[:], 4)
	unit.Write(u16[:]) // version
	var u32 [4]byte
	le.PutUint32(u32[:], 0)
	unit.Write(u32[:]) // abbrev_offset
	unit.WriteByte(8)  // addr_size
	unit.Write(body.Bytes())

	var full bytes.Buffer
	le.PutUint32(u32[:], uint32(unit.Len()))
	full.Write(u32[:])
	full.Write(unit.Bytes())
	info = full.Bytes()
	return abbrev, info
}
