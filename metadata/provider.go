// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metadata declares the pluggable interface through which clrand
// enumerates functions in a binary. A single concrete implementation
// (DWARF, in package dwarfmeta) exists today, but the indirection is kept
// because other metadata sources — symbol tables, PDB files for
// cross-compiled targets — are anticipated.
package metadata

import "github.com/rewiresec/clrand/elfbin"

// Function is a function record: its entry address and byte length, as
// produced from debug information.
type Function struct {
	Addr uint64
	Len  uint64
}

// Provider enumerates functions found in a Binary. Implementations are
// expected to be used once per Binary: Init, any number of ForeachFunction
// calls, then Close.
type Provider interface {
	// Init prepares the provider to read metadata from binary.
	Init(binary *elfbin.Binary) error

	// Close releases any resources held by the provider. It must be
	// idempotent.
	Close() error

	// ForeachFunction invokes cb once per discovered function record, in
	// the provider's natural enumeration order. If cb returns a non-nil
	// error, iteration stops and that error is returned.
	ForeachFunction(cb func(Function) error) error
}
