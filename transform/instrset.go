// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transform decodes a function's machine code, locates a
// permutable register-save prologue and its mirror-ordered epilogues, and
// re-encodes them under a drawn permutation without changing the
// function's byte length. This is the Go translation of the original
// librave's transform.c, generalized from DynamoRIO's instr_t to
// golang.org/x/arch/x86/x86asm.
package transform

import (
	"log/slog"

	"golang.org/x/arch/x86/x86asm"

	"github.com/rewiresec/clrand/errcode"
)

// Instruction is a single decoded instruction, retaining its own byte copy
// so that re-encoding later never mutates the source mapping it was
// decoded from.
type Instruction struct {
	Addr uint64
	Op   x86asm.Op
	Reg  x86asm.Reg // the pushed/popped register; zero value if not applicable
	raw  []byte     // owned copy of the originally decoded bytes
}

// Len reports the instruction's encoded length in bytes.
func (i Instruction) Len() int { return len(i.raw) }

// Encode returns the bytes this instruction should contribute to a
// rewrite. For the PUSH/POP-register instructions this engine permutes,
// the bytes are derived fresh from Op/Reg rather than replayed verbatim,
// since the instruction may be placed at a new slot position.
func (i Instruction) Encode() []byte {
	switch i.Op {
	case x86asm.PUSH:
		return encodePushReg(i.Reg)
	case x86asm.POP:
		return encodePopReg(i.Reg)
	default:
		return i.raw
	}
}

// InstructionSet is a contiguous run of instructions, all satisfying some
// predicate, decoded from a function body. start == end denotes an empty
// set.
type InstructionSet struct {
	Start, End uint64
	Instrs     []Instruction
}

// NrInstrs reports the number of instructions retained in the set.
func (s InstructionSet) NrInstrs() int { return len(s.Instrs) }

// Registers returns the sequence of operand registers of the set's
// instructions, in program order.
func (s InstructionSet) Registers() []x86asm.Reg {
	regs := make([]x86asm.Reg, len(s.Instrs))
	for i, instr := range s.Instrs {
		regs[i] = instr.Reg
	}
	return regs
}

// decodeOne decodes a single instruction from buf. addr, the instruction's
// original address, is not used: x86asm.Decode takes no address, and
// PUSH/POP of registers carry no PC-relative operands.
func decodeOne(buf []byte, addr uint64) (x86asm.Inst, error) {
	return x86asm.Decode(buf, 64)
}

// predicate classifies a decoded instruction for inclusion in an
// instruction set, returning the matched register when true.
type predicate func(inst x86asm.Inst) (x86asm.Reg, bool)

func pushPredicate(inst x86asm.Inst) (x86asm.Reg, bool) {
	if inst.Op != x86asm.PUSH {
		return 0, false
	}
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok || !isPermutableReg(reg) {
		return 0, false
	}
	return reg, true
}

func popPredicate(inst x86asm.Inst) (x86asm.Reg, bool) {
	if inst.Op != x86asm.POP {
		return 0, false
	}
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok || !isPermutableReg(reg) {
		return 0, false
	}
	return reg, true
}

// nextSet decodes instructions from buf (whose first byte is at virtual
// address orig) until test rejects one or buf is exhausted, collecting
// only the instructions test accepts. Leading rejected instructions are
// consumed without being added, advancing start==end, matching the
// original's treatment of a frame-pointer preamble ahead of the pushes it
// is hunting for. It returns the set and the total number of bytes
// decoded (accepted or not), or an error if the decoder rejects a byte
// sequence.
func nextSet(buf []byte, orig uint64, test predicate, log *slog.Logger) (InstructionSet, int, error) {
	set := InstructionSet{Start: orig, End: orig}
	walked := 0
	addr := orig

	for walked < len(buf) {
		inst, err := decodeOne(buf[walked:], addr)
		if err != nil {
			log.Debug("decoder rejected instruction", "addr", addr, "err", err)
			return set, walked, errcode.New(errcode.Transform, err)
		}
		if inst.Len <= 0 {
			return set, walked, errcode.New(errcode.Transform, nil)
		}

		raw := make([]byte, inst.Len)
		copy(raw, buf[walked:walked+inst.Len])

		reg, matched := x86asm.Reg(0), false
		if test != nil {
			reg, matched = test(inst)
		}

		if matched {
			set.Instrs = append(set.Instrs, Instruction{Addr: addr, Op: inst.Op, Reg: reg, raw: raw})
			addr += uint64(inst.Len)
			walked += inst.Len
			set.End = addr
			continue
		}

		// Non-matching instruction: stop here if the set is non-empty;
		// otherwise this instruction was a leading preamble and scanning
		// continues past it without adding it to the set.
		if len(set.Instrs) > 0 {
			break
		}
		addr += uint64(inst.Len)
		walked += inst.Len
		set.Start = addr
		set.End = addr
	}

	return set, walked, nil
}

// mirrors reports whether epilogue's destination registers are exactly
// the reverse of prologue's source registers, and that the two sets have
// equal length — the structural invariant a candidate epilogue must
// satisfy.
func mirrors(prologue, epilogue InstructionSet) bool {
	if prologue.NrInstrs() != epilogue.NrInstrs() {
		return false
	}
	pr := prologue.Registers()
	er := epilogue.Registers()
	n := len(pr)
	for i := 0; i < n; i++ {
		if er[i] != pr[n-1-i] {
			return false
		}
	}
	return true
}
