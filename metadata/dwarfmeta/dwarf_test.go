// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfmeta

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
	"testing"

	"github.com/rewiresec/clrand/metadata"
)

// buildAbbrev constructs a minimal .debug_abbrev table with three
// declarations: (1) a compile unit with no attributes and children,
// (2) a subprogram with DW_AT_low_pc (DW_FORM_addr) and DW_AT_high_pc
// (DW_FORM_data8, a constant-class form denoting a length), and (3) a
// subprogram with DW_AT_low_pc only.
func buildAbbrev() []byte {
	var b bytes.Buffer
	// Abbrev 1: compile_unit, has children, no attributes.
	b.Write([]byte{0x01, 0x11, 0x01, 0x00, 0x00})
	// Abbrev 2: subprogram, no children, low_pc(addr) + high_pc(data8).
	b.Write([]byte{0x02, 0x2e, 0x00, 0x11, 0x01, 0x12, 0x07, 0x00, 0x00})
	// Abbrev 3: subprogram, no children, low_pc(addr) only.
	b.Write([]byte{0x03, 0x2e, 0x00, 0x11, 0x01, 0x00, 0x00})
	b.WriteByte(0x00) // table terminator
	return b.Bytes()
}

// buildInfo constructs a minimal .debug_info unit containing one compile
// unit with one subprogram child whose low_pc/high_pc are given. With
// skipHighpc the child uses abbrev 3 and carries no high_pc at all.
func buildInfo(lowpc, length uint64, skipHighpc bool) []byte {
	var body bytes.Buffer
	body.WriteByte(0x01) // abbrev code 1: compile_unit

	if skipHighpc {
		body.WriteByte(0x03) // abbrev code 3: subprogram without high_pc
	} else {
		body.WriteByte(0x02) // abbrev code 2: subprogram
	}
	binary.Write(&body, binary.LittleEndian, lowpc)
	if !skipHighpc {
		binary.Write(&body, binary.LittleEndian, length)
	}

	body.WriteByte(0x00) // null entry: end of compile_unit's children

	var unit bytes.Buffer
	binary.Write(&unit, binary.LittleEndian, uint16(4)) // version
	binary.Write(&unit, binary.LittleEndian, uint32(0)) // abbrev_offset
	unit.WriteByte(8)                                   // addr_size
	unit.Write(body.Bytes())

	var full bytes.Buffer
	binary.Write(&full, binary.LittleEndian, uint32(unit.Len()))
	full.Write(unit.Bytes())
	return full.Bytes()
}

func newTestData(t *testing.T, info []byte) *dwarf.Data {
	t.Helper()
	d, err := dwarf.New(buildAbbrev(), nil, nil, info, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("dwarf.New: %v", err)
	}
	return d
}

func TestForeachFunctionFindsSubprogram(t *testing.T) {
	d := newTestData(t, buildInfo(0x1000, 0x20, false))
	p := &Provider{data: d}

	var got []metadata.Function
	err := p.ForeachFunction(func(fn metadata.Function) error {
		got = append(got, fn)
		return nil
	})
	if err != nil {
		t.Fatalf("ForeachFunction: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 function, got %d", len(got))
	}
	if got[0].Addr != 0x1000 || got[0].Len != 0x20 {
		t.Fatalf("unexpected function record: %+v", got[0])
	}
}

func TestForeachFunctionSkipsMissingHighpc(t *testing.T) {
	d := newTestData(t, buildInfo(0x1000, 0x20, true))
	p := &Provider{data: d}

	var got []metadata.Function
	err := p.ForeachFunction(func(fn metadata.Function) error {
		got = append(got, fn)
		return nil
	})
	if err != nil {
		t.Fatalf("ForeachFunction: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected DIE without high_pc to be skipped, got %d functions", len(got))
	}
}

func TestForeachFunctionCallbackError(t *testing.T) {
	d := newTestData(t, buildInfo(0x1000, 0x20, false))
	p := &Provider{data: d}

	sentinel := errStop{}
	err := p.ForeachFunction(func(metadata.Function) error {
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
}

type errStop struct{}

func (errStop) Error() string { return "stop" }
