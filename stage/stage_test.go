// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rewiresec/clrand/elfbin"
	"github.com/rewiresec/clrand/internal/testelf"
)

func openFixture(t *testing.T, opts testelf.Options) (*elfbin.Binary, uint64) {
	t.Helper()
	data, textVaddr := testelf.Build(opts)
	path := filepath.Join(t.TempDir(), "fixture.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := elfbin.Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b, textVaddr
}

func TestStageCopiesTextAndZeroesTail(t *testing.T) {
	code := []byte{0x53, 0x41, 0x54, 0x90, 0x41, 0x5c, 0x5b, 0xc3}
	b, textVaddr := openFixture(t, testelf.Options{
		Funcs:      []testelf.Func{{Code: code}},
		ExtraMemsz: 4096,
	})
	defer b.Close()

	sec, err := b.FindSection(".text")
	if err != nil {
		t.Fatalf("FindSection: %v", err)
	}
	seg, err := b.FindSegment(sec.Addr)
	if err != nil {
		t.Fatalf("FindSegment: %v", err)
	}

	st, err := New(b, sec, seg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer st.Close()

	view, n := st.Text.View(textVaddr)
	if n < len(code) {
		t.Fatalf("text view too short: %d", n)
	}
	for i, want := range code {
		if view[i] != want {
			t.Fatalf("text byte %d = 0x%x, want 0x%x", i, view[i], want)
		}
	}

	// The tail beyond the file's content (ExtraMemsz) must be zero.
	segData, segLen := st.Segment.Get()
	tail := segData[segLen-4096:]
	for i, b := range tail {
		if b != 0 {
			t.Fatalf("expected zero-filled tail, byte %d = 0x%x", i, b)
		}
	}
}

func TestStageAliasing(t *testing.T) {
	code := []byte{0x50, 0x58, 0xc3}
	b, textVaddr := openFixture(t, testelf.Options{Funcs: []testelf.Func{{Code: code}}})
	defer b.Close()

	sec, _ := b.FindSection(".text")
	seg, _ := b.FindSegment(sec.Addr)
	st, err := New(b, sec, seg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer st.Close()

	view, _ := st.Text.View(textVaddr)
	view[0] = 0xF4 // hlt, arbitrary marker

	segView, _ := st.Segment.View(textVaddr)
	if segView[0] != 0xF4 {
		t.Fatal("write through text window must be visible through segment window")
	}
}

func TestStageRejectsNonLoadableSegment(t *testing.T) {
	b, _ := openFixture(t, testelf.Options{Funcs: []testelf.Func{{Code: []byte{0xc3}}}})
	defer b.Close()

	sec, _ := b.FindSection(".text")
	fakeSeg := &elfbin.Segment{Type: 0 /* not PT_LOAD */, Vaddr: sec.Addr, Memsz: sec.Size, Filesz: sec.Size}
	_, err := New(b, sec, fakeSeg, nil)
	if err == nil {
		t.Fatal("expected an error for a non-PT_LOAD segment")
	}
}

func TestPageRounding(t *testing.T) {
	cases := []struct{ in, down, up uint64 }{
		{0, 0, 0},
		{1, 0, PageSize},
		{PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, 2 * PageSize},
	}
	for _, c := range cases {
		if got := pageDown(c.in); got != c.down {
			t.Errorf("pageDown(%d) = %d, want %d", c.in, got, c.down)
		}
		if got := pageUp(c.in); got != c.up {
			t.Errorf("pageUp(%d) = %d, want %d", c.in, got, c.up)
		}
	}
}
