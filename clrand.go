// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package clrand performs runtime code-layout randomization of a 64-bit
// x86-64 ET_EXEC ELF executable: it stages the executable's code segment
// into a writable shadow, enumerates its functions from DWARF debug
// information, finds each function's permutable register-save prologue
// and its mirror-ordered epilogues, and rewrites them in place under a
// drawn permutation. This is the Go translation of the original librave's
// rave.c public handle.
package clrand

import (
	"log/slog"

	"github.com/rewiresec/clrand/elfbin"
	"github.com/rewiresec/clrand/errcode"
	"github.com/rewiresec/clrand/metadata"
	"github.com/rewiresec/clrand/metadata/dwarfmeta"
	"github.com/rewiresec/clrand/permute"
	"github.com/rewiresec/clrand/stage"
	"github.com/rewiresec/clrand/transform"
)

// Handle is the library's public surface: a handle on one binary's code
// segment, carried through initialization, randomization, relocation,
// and fault translation.
//
// A Handle is not safe for concurrent mutation. Concurrent readers of
// HandleFault are permitted once Randomize has returned, provided
// external synchronization establishes that the write happened-before
// the read.
type Handle struct {
	log *slog.Logger
	src permute.Source

	binary   *elfbin.Binary
	provider metadata.Provider
	engine   *transform.Engine
	staged   *stage.Stage

	relocOffset uint64
}

// New returns an uninitialized Handle. Call Init before using it.
func New() *Handle {
	return &Handle{log: slog.Default()}
}

// SetLogger directs the handle's diagnostic output to log. Must be
// called before Init to take effect on initialization messages.
func (h *Handle) SetLogger(log *slog.Logger) {
	if log != nil {
		h.log = log
	}
}

// SetSource injects a deterministic permutation source for Randomize. A
// nil source (the default) draws from the process-wide math/rand
// generator.
func (h *Handle) SetSource(src permute.Source) {
	h.src = src
}

// Init opens the binary at path, locates its .text section and
// containing loadable segment, stages a writable shadow of that segment,
// and analyzes every DWARF-enumerated function for a permutable prologue.
// On any hard error, Init rolls back via Close and returns the error;
// per-function rejections are soft and only logged.
func (h *Handle) Init(path string) error {
	binary, err := elfbin.Open(path, h.log)
	if err != nil {
		return err
	}
	h.binary = binary

	text, err := binary.FindSection(".text")
	if err != nil {
		h.Close()
		return err
	}

	segment, err := binary.FindSegment(text.Addr)
	if err != nil {
		h.Close()
		return err
	}

	provider := dwarfmeta.New(h.log)
	if err := provider.Init(binary); err != nil {
		h.Close()
		return err
	}
	h.provider = provider

	h.engine = transform.New(h.log)

	staged, err := stage.New(binary, text, segment, h.log)
	if err != nil {
		h.Close()
		return err
	}
	h.staged = staged

	err = provider.ForeachFunction(func(fn metadata.Function) error {
		return h.processFunction(fn)
	})
	if err != nil {
		h.Close()
		return err
	}

	return nil
}

// processFunction validates that fn lies fully within the text window and
// hands its bytes to the transform engine. A function that does not fit
// is a soft rejection: it is logged and skipped.
func (h *Handle) processFunction(fn metadata.Function) error {
	text := h.staged.Text
	if !text.Contains(fn.Addr) {
		h.log.Warn("function not contained in text section, skipped", "addr", fn.Addr, "len", fn.Len)
		return nil
	}

	view, avail := text.View(fn.Addr)
	if uint64(avail) < fn.Len {
		h.log.Warn("function range straddles the text window boundary, skipped", "addr", fn.Addr, "len", fn.Len)
		return nil
	}

	if err := h.engine.AddFunction(fn, view[:fn.Len]); err != nil {
		return err
	}
	return nil
}

// Randomize draws a fresh permutation for every accepted function and
// rewrites its prologue and mirrored epilogues through the text window.
func (h *Handle) Randomize() error {
	if h.engine == nil || h.staged == nil {
		return errcode.New(errcode.Invalid, nil)
	}
	return permute.All(h.engine, h.staged.Text, h.src, h.log)
}

// Relocate records the offset between the staged segment's original
// virtual address and address, the address a host has actually placed
// (or intends to place) the segment at. Subsequent HandleFault calls
// translate through this offset.
func (h *Handle) Relocate(address uint64) {
	if h.staged == nil {
		return
	}
	h.relocOffset = h.staged.Segment.Orig() - address
}

// HandleFault returns the page (PageSize bytes) of the staged segment
// that backs virtual address addr+relocOffset, page-aligned down, or nil
// if that address falls outside the staged segment or fewer than a full
// page remains from that point on.
func (h *Handle) HandleFault(addr uint64) []byte {
	if h.staged == nil {
		return nil
	}
	target := pageDown(addr + h.relocOffset)

	if !h.staged.Segment.Contains(target) {
		return nil
	}

	view, length := h.staged.Segment.View(target)
	if length < stage.PageSize {
		h.log.Error("not enough memory in code segment for a full page", "addr", addr)
		return nil
	}
	if length%stage.PageSize != 0 {
		h.log.Warn("code segment length is not an exact multiple of the page size", "addr", addr)
	}
	return view[:stage.PageSize]
}

// Code returns the full staged code segment's bytes.
func (h *Handle) Code() []byte {
	if h.staged == nil {
		return nil
	}
	data, _ := h.staged.Segment.Get()
	return data
}

// Text returns the staged text sub-window's bytes.
func (h *Handle) Text() []byte {
	if h.staged == nil {
		return nil
	}
	data, _ := h.staged.Text.Get()
	return data
}

// FunctionCount reports how many functions passed prologue/epilogue
// analysis and are eligible for randomization.
func (h *Handle) FunctionCount() int {
	if h.engine == nil {
		return 0
	}
	return len(h.engine.Transformables())
}

// LookupFunction returns the function record for the named subprogram, for
// callers that want to target one function by name. It requires the
// active provider to support name lookup (the DWARF provider does).
func (h *Handle) LookupFunction(name string) (metadata.Function, error) {
	named, ok := h.provider.(interface {
		LookupFunction(string) (metadata.Function, error)
	})
	if !ok {
		return metadata.Function{}, errcode.New(errcode.Invalid, nil)
	}
	return named.LookupFunction(name)
}

// EntryForPC returns the function record containing pc, for callers that
// want to map an address back to the function it belongs to.
func (h *Handle) EntryForPC(pc uint64) (metadata.Function, error) {
	located, ok := h.provider.(interface {
		EntryForPC(uint64) (metadata.Function, error)
	})
	if !ok {
		return metadata.Function{}, errcode.New(errcode.Invalid, nil)
	}
	return located.EntryForPC(pc)
}

// Close releases every resource the handle holds, in the reverse order
// they were acquired. It tolerates a nil receiver and repeated calls.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}

	var err error
	if h.staged != nil {
		err = h.staged.Close()
		h.staged = nil
	}
	if h.provider != nil {
		if perr := h.provider.Close(); perr != nil && err == nil {
			err = perr
		}
		h.provider = nil
	}
	if h.binary != nil {
		if berr := h.binary.Close(); berr != nil && err == nil {
			err = berr
		}
		h.binary = nil
	}
	h.engine = nil
	return err
}

func pageDown(addr uint64) uint64 { return addr &^ (stage.PageSize - 1) }
