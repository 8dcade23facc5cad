// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfmeta

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"
)

// buildNamedAbbrev declares a compile_unit and a subprogram with
// DW_AT_name (DW_FORM_string), DW_AT_low_pc (addr) and DW_AT_high_pc
// (data8).
func buildNamedAbbrev() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x01, 0x11, 0x01, 0x00, 0x00})
	b.Write([]byte{
		0x02, 0x2e, 0x00,
		0x03, 0x08, // name, string
		0x11, 0x01, // low_pc, addr
		0x12, 0x07, // high_pc, data8
		0x00, 0x00,
	})
	b.WriteByte(0x00)
	return b.Bytes()
}

func buildNamedInfo(name string, lowpc, length uint64) []byte {
	var body bytes.Buffer
	body.WriteByte(0x01) // compile_unit

	body.WriteByte(0x02) // subprogram
	body.WriteString(name)
	body.WriteByte(0x00)
	binary.Write(&body, binary.LittleEndian, lowpc)
	binary.Write(&body, binary.LittleEndian, length)

	body.WriteByte(0x00)

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(4))
	binary.Write(&unit, binary.LittleEndian, uint32(0))
	unit.WriteByte(8)
	unit.Write(body.Bytes())

	var full bytes.Buffer
	binary.Write(&full, binary.LittleEndian, uint32(unit.Len()))
	full.Write(unit.Bytes())
	return full.Bytes()
}

func newNamedTestData(t *testing.T, info []byte) *dwarf.Data {
	t.Helper()
	d, err := dwarf.New(buildNamedAbbrev(), nil, nil, info, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	return d
}

func TestLookupFunctionFindsByName(t *testing.T) {
	d := newNamedTestData(t, buildNamedInfo("target", 0x2000, 0x40))
	p := &Provider{data: d}

	fn, err := p.LookupFunction("target")
	if err != nil {
		t.Fatalf("LookupFunction: %v", err)
	}
	if fn.Addr != 0x2000 || fn.Len != 0x40 {
		t.Fatalf("unexpected function record: %+v", fn)
	}
}

func TestLookupFunctionNotFound(t *testing.T) {
	d := newNamedTestData(t, buildNamedInfo("target", 0x2000, 0x40))
	p := &Provider{data: d}

	if _, err := p.LookupFunction("missing"); err == nil {
		t.Fatal("expected an error for a name not present in the DWARF data")
	}
}

func TestEntryForPCFindsContainingFunction(t *testing.T) {
	d := newNamedTestData(t, buildNamedInfo("target", 0x2000, 0x40))
	p := &Provider{data: d}

	fn, err := p.EntryForPC(0x2010)
	if err != nil {
		t.Fatalf("EntryForPC: %v", err)
	}
	if fn.Addr != 0x2000 {
		t.Fatalf("unexpected function record: %+v", fn)
	}

	if _, err := p.EntryForPC(0x9999); err == nil {
		t.Fatal("expected an error for a pc outside every function")
	}
}
