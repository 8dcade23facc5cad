// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transform

import (
	"log/slog"

	"github.com/rewiresec/clrand/errcode"
	"github.com/rewiresec/clrand/metadata"
)

// Transformable is a function that has passed analysis and may safely be
// permuted: its prologue and every mirror-ordered epilogue, plus the
// permutation currently applied to the prologue's slot order.
type Transformable struct {
	Record    metadata.Function
	Prologue  InstructionSet
	Epilogues []InstructionSet
	Order     []int
}

// Engine holds the insertion-ordered set of Transformables discovered
// across a binary's functions. The zero value is ready to use.
type Engine struct {
	log  *slog.Logger
	list []*Transformable
}

// New returns an Engine that logs rejected functions to log (or the
// default logger, if nil).
func New(log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log}
}

// Transformables returns the engine's accepted functions in insertion
// order. The returned slice must not be mutated.
func (e *Engine) Transformables() []*Transformable {
	return e.list
}

// AddFunction analyzes one function's code, found at the local slice
// bytes (the text window's view of record.Addr, exactly record.Len bytes
// long), and appends a Transformable to the engine if it passes analysis.
//
// A rejection that stems from the function's own shape (no prologue,
// unmirrored epilogues, length mismatch) is soft: it is logged and
// AddFunction returns nil, leaving the function absent from the engine.
// A rejection that stems from an undecodable byte sequence is also soft,
// but is distinguished in the log message. AddFunction only
// returns a non-nil error for inputs that violate its own preconditions
// (bytes shorter than record.Len).
func (e *Engine) AddFunction(record metadata.Function, bytes []byte) error {
	if e.log == nil {
		e.log = slog.Default()
	}
	if uint64(len(bytes)) < record.Len {
		return errcode.New(errcode.Invalid, nil)
	}
	body := bytes[:record.Len]

	prologue, consumed, err := nextSet(body, record.Addr, pushPredicate, e.log)
	if err != nil {
		e.log.Debug("function rejected: invalid instruction while scanning prologue",
			"addr", record.Addr, "err", err)
		return nil
	}
	if prologue.NrInstrs() < 2 {
		e.log.Debug("function rejected: no randomizable prologue", "addr", record.Addr)
		return nil
	}

	total := consumed
	var epilogues []InstructionSet
	walk := body[consumed:]
	addr := record.Addr + uint64(consumed)
	for len(walk) > 0 {
		candidate, n, err := nextSet(walk, addr, popPredicate, e.log)
		if err != nil {
			e.log.Debug("function rejected: invalid instruction while scanning epilogues",
				"addr", record.Addr, "err", err)
			return nil
		}
		if n == 0 {
			break
		}
		walk = walk[n:]
		addr += uint64(n)
		total += n

		if candidate.NrInstrs() > 0 && mirrors(prologue, candidate) {
			epilogues = append(epilogues, candidate)
		}
	}

	if uint64(total) != record.Len {
		e.log.Debug("function rejected: decoded length does not match record length",
			"addr", record.Addr, "decoded", total, "want", record.Len)
		return nil
	}
	if len(epilogues) == 0 {
		e.log.Debug("function rejected: no epilogue mirrors the prologue", "addr", record.Addr)
		return nil
	}

	order := make([]int, prologue.NrInstrs())
	for i := range order {
		order[i] = i
	}

	e.list = append(e.list, &Transformable{
		Record:    record,
		Prologue:  prologue,
		Epilogues: epilogues,
		Order:     order,
	})
	return nil
}
