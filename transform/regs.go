// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transform

import "golang.org/x/arch/x86/x86asm"

// gpr64Index maps the sixteen 64-bit general-purpose registers to the
// 0-15 index used by the PUSH/POP opcode encoding (opcode base + index,
// with index >= 8 requiring a REX.B prefix byte).
var gpr64Index = map[x86asm.Reg]int{
	x86asm.RAX: 0,
	x86asm.RCX: 1,
	x86asm.RDX: 2,
	x86asm.RBX: 3,
	x86asm.RSP: 4,
	x86asm.RBP: 5,
	x86asm.RSI: 6,
	x86asm.RDI: 7,
	x86asm.R8:  8,
	x86asm.R9:  9,
	x86asm.R10: 10,
	x86asm.R11: 11,
	x86asm.R12: 12,
	x86asm.R13: 13,
	x86asm.R14: 14,
	x86asm.R15: 15,
}

// isPermutableReg reports whether reg is a general-purpose 64-bit register
// other than RBP, the predicate shared by the prologue and epilogue tests.
func isPermutableReg(reg x86asm.Reg) bool {
	idx, ok := gpr64Index[reg]
	return ok && reg != x86asm.RBP && idx >= 0
}

// encodePushReg returns the machine code for "push reg", reg a 64-bit GPR.
func encodePushReg(reg x86asm.Reg) []byte {
	return encodeRegOp(0x50, reg)
}

// encodePopReg returns the machine code for "pop reg", reg a 64-bit GPR.
func encodePopReg(reg x86asm.Reg) []byte {
	return encodeRegOp(0x58, reg)
}

// encodeRegOp encodes a single-byte opcode (PUSH/POP) with a register
// folded into its low three bits, prefixing a REX.B byte when the register
// is one of R8-R15.
func encodeRegOp(base byte, reg x86asm.Reg) []byte {
	idx := gpr64Index[reg]
	opcode := base + byte(idx&0x7)
	if idx >= 8 {
		return []byte{0x41, opcode}
	}
	return []byte{opcode}
}
