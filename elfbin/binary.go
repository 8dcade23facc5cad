// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package elfbin loads a 64-bit x86-64 ET_EXEC ELF image into a read-only
// memory mapping and exposes class-independent accessors for its sections
// and loadable segments, the way the original librave's binary.c wraps
// libelf. The mapping is never modified; callers that need a writable
// shadow use package stage on top of it.
package elfbin

import (
	"bytes"
	"debug/elf"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/rewiresec/clrand/errcode"
)

// Binary is a read-only mapped ELF executable image.
type Binary struct {
	path    string
	mapping []byte // mmap'd file contents, PROT_READ
	file    *elf.File

	log *slog.Logger
}

// Open maps path read-only and validates that it is a 64-bit x86-64
// ET_EXEC image. On any failure the partially constructed state is
// released before the error is returned.
func Open(path string, log *slog.Logger) (*Binary, error) {
	if log == nil {
		log = slog.Default()
	}
	b := &Binary{path: path, log: log}

	f, err := os.Open(path)
	if err != nil {
		return nil, errcode.New(errcode.FileOpen, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, errcode.New(errcode.FileStat, err)
	}
	size := st.Size()
	if size == 0 {
		// mmap of a zero-length file fails; treat it the same as any other
		// mapping failure rather than special-casing it.
		return nil, errcode.New(errcode.Mapping, fmt.Errorf("%s: empty file", path))
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, errcode.New(errcode.Mapping, err)
	}
	b.mapping = mapping

	if len(mapping) > elf.EI_CLASS && elf.Class(mapping[elf.EI_CLASS]) != elf.ELFCLASS64 {
		b.unmap()
		return nil, errcode.New(errcode.ElfNotSupported, fmt.Errorf("class %s unsupported, want ELFCLASS64", elf.Class(mapping[elf.EI_CLASS])))
	}

	ef, err := elf.NewFile(bytes.NewReader(mapping))
	if err != nil {
		b.unmap()
		return nil, errcode.New(errcode.ElfInit, err)
	}
	b.file = ef

	if err := b.validate(); err != nil {
		b.Close()
		return nil, err
	}

	b.logSummary()
	return b, nil
}

func (b *Binary) validate() error {
	if b.file.Class != elf.ELFCLASS64 {
		return errcode.New(errcode.ElfNotSupported, fmt.Errorf("class %s unsupported, want ELFCLASS64", b.file.Class))
	}
	if b.file.Machine != elf.EM_X86_64 {
		return errcode.New(errcode.ElfNotSupported, fmt.Errorf("machine %s unsupported, want EM_X86_64", b.file.Machine))
	}
	if b.file.Type != elf.ET_EXEC {
		return errcode.New(errcode.ElfNotSupported, fmt.Errorf("type %s unsupported, want ET_EXEC", b.file.Type))
	}
	if b.file.FileHeader.ByteOrder == nil {
		return errcode.New(errcode.ElfHeader, fmt.Errorf("missing byte order"))
	}
	return nil
}

func (b *Binary) unmap() {
	if b.mapping != nil {
		_ = unix.Munmap(b.mapping)
		b.mapping = nil
	}
}

// Close releases the ELF file handle and unmaps the backing file. It is
// idempotent and safe to call on a nil receiver.
func (b *Binary) Close() error {
	if b == nil {
		return nil
	}
	b.file = nil
	b.unmap()
	return nil
}

// Path returns the path the binary was opened from.
func (b *Binary) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

// Mapping returns the raw, read-only mapped file bytes.
func (b *Binary) Mapping() []byte {
	if b == nil {
		return nil
	}
	return b.mapping
}

// File exposes the underlying debug/elf.File for callers (e.g. the DWARF
// metadata provider) that need direct access to ELF structures not
// otherwise wrapped here.
func (b *Binary) File() *elf.File {
	if b == nil {
		return nil
	}
	return b.file
}

// A Section is an ELF section header plus a convenience view of its data.
type Section struct {
	Name   string
	Addr   uint64
	Offset uint64
	Size   uint64
	raw    *elf.Section
}

// Data returns the section's file contents.
func (s *Section) Data() ([]byte, error) {
	data, err := s.raw.Data()
	if err != nil {
		return nil, errcode.New(errcode.SectionData, err)
	}
	return data, nil
}

// FindSection scans section headers and returns the first whose name
// starts with target. This is a prefix match, not an exact one — preserved
// from the original's `strncmp(target, name, strlen(target))`, which means
// a request for ".text" can match ".text.hot" if that section sorts first.
// This ambiguity is deliberately preserved rather than tightened.
func (b *Binary) FindSection(target string) (*Section, error) {
	for _, sec := range b.file.Sections {
		if strings.HasPrefix(sec.Name, target) {
			return &Section{
				Name:   sec.Name,
				Addr:   sec.Addr,
				Offset: sec.Offset,
				Size:   sec.Size,
				raw:    sec,
			}, nil
		}
	}
	return nil, errcode.New(errcode.NoSection, fmt.Errorf("no section matching %q", target))
}

// A Segment is a program header (PT_LOAD or otherwise).
type Segment struct {
	Type   elf.ProgType
	Vaddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
	Flags  elf.ProgFlag
}

// Contains reports whether addr falls within this segment's mapped memory
// range [Vaddr, Vaddr+Memsz).
func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.Vaddr && addr < s.Vaddr+s.Memsz
}

// Loadable reports whether this is a PT_LOAD segment — only these are
// mappable.
func (s *Segment) Loadable() bool {
	return s.Type == elf.PT_LOAD
}

// FindSegment returns the first program header whose Contains(addr) is
// true. A program header that fails to parse is warned about and skipped,
// rather than aborting the whole search.
func (b *Binary) FindSegment(addr uint64) (*Segment, error) {
	for _, prog := range b.file.Progs {
		seg := &Segment{
			Type:   prog.Type,
			Vaddr:  prog.Vaddr,
			Offset: prog.Off,
			Filesz: prog.Filesz,
			Memsz:  prog.Memsz,
			Flags:  prog.Flags,
		}
		if seg.Memsz == 0 && seg.Filesz == 0 && seg.Vaddr == 0 && seg.Type == 0 {
			b.log.Warn("skipping malformed program header", "offset", prog.Off)
			continue
		}
		if seg.Contains(addr) {
			return seg, nil
		}
	}
	return nil, errcode.New(errcode.NoSegment, fmt.Errorf("no segment contains address 0x%x", addr))
}

func (b *Binary) logSummary() {
	b.log.Debug("loaded elf binary",
		"path", b.path,
		"type", b.file.Type.String(),
		"machine", b.file.Machine.String(),
		"entry", fmt.Sprintf("0x%x", b.file.Entry),
		"sections", len(b.file.Sections),
		"segments", len(b.file.Progs),
	)
}
