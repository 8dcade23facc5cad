// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stage allocates a writable shadow of an executable's loadable
// code segment and exposes it through two aliasing windows: one over the
// whole segment, one over just its .text sub-range. This is the Go
// translation of the original librave's rave.c:map_code_pages.
package stage

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/rewiresec/clrand/elfbin"
	"github.com/rewiresec/clrand/errcode"
	"github.com/rewiresec/clrand/window"
)

// PageSize is the page granularity assumed for staged segments.
const PageSize = 4096

func pageDown(addr uint64) uint64 { return addr &^ (PageSize - 1) }
func pageUp(addr uint64) uint64   { return pageDown(addr + PageSize - 1) }

// Stage is a writable, anonymously-mapped shadow of one PT_LOAD segment.
type Stage struct {
	buf     []byte
	Segment *window.Window
	Text    *window.Window
}

// New allocates a writable shadow of segment, copies segment's file
// contents from binary's read-only mapping, and creates the segment and
// text windows over the new buffer. text must lie within segment.
func New(binary *elfbin.Binary, text *elfbin.Section, segment *elfbin.Segment, log *slog.Logger) (*Stage, error) {
	if log == nil {
		log = slog.Default()
	}
	if !segment.Loadable() {
		return nil, errcode.New(errcode.SegmentNotLoadable, nil)
	}

	length := pageUp(segment.Memsz)
	if length%PageSize != 0 {
		log.Warn("staged segment length is not a multiple of the page size", "length", length)
	}

	buf, err := unix.Mmap(-1, 0, int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errcode.New(errcode.MapFailed, err)
	}

	src := binary.Mapping()
	srcStart := segment.Offset
	srcEnd := srcStart + segment.Filesz
	if srcEnd > uint64(len(src)) {
		_ = unix.Munmap(buf)
		return nil, errcode.New(errcode.Mapping, nil)
	}
	copy(buf, src[srcStart:srcEnd]) // tail beyond Filesz stays zeroed, as mmap anonymous pages are

	segWindow := window.New(segment.Vaddr, buf)

	textOff := text.Offset - segment.Offset
	textBuf := buf[textOff : textOff+text.Size]
	textWindow := window.New(text.Addr, textBuf)

	log.Debug("staged code segment",
		"vaddr", segment.Vaddr, "pages", length/PageSize,
		"text_vaddr", text.Addr, "text_size", text.Size)

	return &Stage{buf: buf, Segment: segWindow, Text: textWindow}, nil
}

// Close unmaps the staged buffer. Idempotent and safe on a nil receiver.
func (s *Stage) Close() error {
	if s == nil || s.buf == nil {
		return nil
	}
	err := unix.Munmap(s.buf)
	s.buf = nil
	return err
}
