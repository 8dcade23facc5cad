// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dwarfmeta

import (
	"debug/dwarf"
	"fmt"

	"github.com/rewiresec/clrand/errcode"
	"github.com/rewiresec/clrand/metadata"
)

// LookupFunction returns the function record for the named DW_TAG_subprogram
// DIE, for tooling that wants to target one function by name rather than
// walk every function in the binary.
func (p *Provider) LookupFunction(name string) (metadata.Function, error) {
	if p.data == nil {
		return metadata.Function{}, errcode.New(errcode.Invalid, nil)
	}

	r := p.data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return metadata.Function{}, errcode.New(errcode.Dwarf, err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		if nameAttr, _ := entry.Val(dwarf.AttrName).(string); nameAttr != name {
			continue
		}
		fn, ok := functionFromDIE(entry)
		if !ok {
			return metadata.Function{}, fmt.Errorf("subprogram %q has no usable low_pc/high_pc", name)
		}
		return fn, nil
	}
	return metadata.Function{}, fmt.Errorf("subprogram %q not found", name)
}

// EntryForPC returns the function record of the subprogram DIE whose
// [low_pc, high_pc) range contains pc.
func (p *Provider) EntryForPC(pc uint64) (metadata.Function, error) {
	if p.data == nil {
		return metadata.Function{}, errcode.New(errcode.Invalid, nil)
	}

	r := p.data.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return metadata.Function{}, errcode.New(errcode.Dwarf, err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		fn, ok := functionFromDIE(entry)
		if !ok || pc < fn.Addr || pc >= fn.Addr+fn.Len {
			continue
		}
		return fn, nil
	}
	return metadata.Function{}, fmt.Errorf("no subprogram contains pc %#x", pc)
}
