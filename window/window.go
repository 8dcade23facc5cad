// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package window provides address translation between a virtual address
// range and a local byte buffer.
//
// A Window lets code reason about virtual addresses — the addresses a
// function would see at runtime — while actually reading and writing a
// local mirror of those bytes. Two windows may alias the same backing
// bytes (for example, a text window that is a sub-range of a segment
// window); writes through one are visible through the other wherever
// their virtual address ranges overlap.
package window

import "fmt"

// A Window is a non-owning view: {orig, data}. For any virtual address v
// with orig <= v < orig+len(data), data[v-orig] is the byte that would
// reside at v at runtime.
type Window struct {
	orig uint64
	data []byte
}

// New returns a Window over data, whose first byte represents virtual
// address orig.
func New(orig uint64, data []byte) *Window {
	return &Window{orig: orig, data: data}
}

// Init re-initializes w in place. It mirrors the original library's
// window_init, which took a caller-allocated struct.
func (w *Window) Init(orig uint64, data []byte) {
	if w == nil {
		return
	}
	w.orig = orig
	w.data = data
}

// Relocate changes only the window's virtual-address origin; the backing
// bytes are untouched.
func (w *Window) Relocate(orig uint64) {
	if w == nil {
		return
	}
	w.orig = orig
}

// Orig returns the virtual address of the first byte of the window. A nil
// receiver returns 0.
func (w *Window) Orig() uint64 {
	if w == nil {
		return 0
	}
	return w.orig
}

// Len returns the length of the window in bytes.
func (w *Window) Len() int {
	if w == nil {
		return 0
	}
	return len(w.data)
}

// Get returns the window's backing bytes and their length. A nil receiver
// returns (nil, 0).
func (w *Window) Get() ([]byte, int) {
	if w == nil {
		return nil, 0
	}
	return w.data, len(w.data)
}

// Contains reports whether addr falls within [orig, orig+len(data)). A nil
// receiver never contains anything.
func (w *Window) Contains(addr uint64) bool {
	if w == nil {
		return false
	}
	return addr >= w.orig && addr < w.orig+uint64(len(w.data))
}

// View returns a slice of the window's backing bytes starting at the byte
// that represents addr, and the number of bytes remaining in the window
// from that point on. It returns (nil, 0) if w does not contain addr.
func (w *Window) View(addr uint64) ([]byte, int) {
	if !w.Contains(addr) {
		return nil, 0
	}
	off := addr - w.orig
	return w.data[off:], len(w.data) - int(off)
}

// String renders the window's address range for diagnostics.
func (w *Window) String() string {
	if w == nil {
		return "<nil window>"
	}
	return fmt.Sprintf("[0x%x, 0x%x)", w.orig, w.orig+uint64(len(w.data)))
}
