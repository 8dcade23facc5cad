// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package window

import (
	"bytes"
	"testing"
)

func TestContainsAndView(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	w := New(0x1000, data)

	if !w.Contains(0x1000) {
		t.Fatal("expected window to contain its own origin")
	}
	if !w.Contains(0x1007) {
		t.Fatal("expected window to contain its last byte")
	}
	if w.Contains(0x1008) {
		t.Fatal("expected window to not contain one past the end")
	}
	if w.Contains(0xfff) {
		t.Fatal("expected window to not contain one before the start")
	}

	view, n := w.View(0x1002)
	if n != 6 {
		t.Fatalf("expected 6 bytes remaining, got %d", n)
	}
	if !bytes.Equal(view, []byte{2, 3, 4, 5, 6, 7}) {
		t.Fatalf("unexpected view contents: %v", view)
	}
}

func TestViewOutOfRange(t *testing.T) {
	w := New(0x1000, make([]byte, 4))
	if v, n := w.View(0x2000); v != nil || n != 0 {
		t.Fatalf("expected (nil, 0) for out-of-range address, got (%v, %d)", v, n)
	}
}

func TestRelocate(t *testing.T) {
	w := New(0x1000, []byte{0xAA})
	w.Relocate(0x2000)
	if w.Orig() != 0x2000 {
		t.Fatalf("expected relocated origin 0x2000, got 0x%x", w.Orig())
	}
	// Data is untouched by relocation.
	data, _ := w.Get()
	if data[0] != 0xAA {
		t.Fatal("relocate must not touch backing bytes")
	}
}

func TestAliasing(t *testing.T) {
	// A segment window and a text window sharing the same backing array.
	backing := make([]byte, 16)
	segment := New(0x4000, backing)
	text := New(0x4008, backing[8:])

	text.Get()
	data, _ := text.Get()
	data[0] = 0x90

	segData, _ := segment.Get()
	if segData[8] != 0x90 {
		t.Fatal("write through text window must be visible through aliasing segment window")
	}
}

func TestNilReceiver(t *testing.T) {
	var w *Window
	if w.Contains(0) {
		t.Fatal("nil window must not contain any address")
	}
	if got := w.Orig(); got != 0 {
		t.Fatalf("nil window Orig() = %d, want 0", got)
	}
	if data, n := w.Get(); data != nil || n != 0 {
		t.Fatalf("nil window Get() = (%v, %d), want (nil, 0)", data, n)
	}
	w.Relocate(5) // must not panic
	w.Init(1, nil)
}
