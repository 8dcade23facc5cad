// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package permute draws a random permutation for each of a transform
// engine's accepted functions and rewrites their prologue and
// mirror-ordered epilogues through a text window, in place. This is the
// Go translation of the original librave's random.c shuffle() combined
// with rave.c's randomize pass.
package permute

import (
	"log/slog"
	"math/rand"

	"github.com/rewiresec/clrand/errcode"
	"github.com/rewiresec/clrand/transform"
	"github.com/rewiresec/clrand/window"
)

// Source draws a uniform random integer in [0, n). *math/rand.Rand
// satisfies this interface, letting callers inject a seeded generator for
// deterministic runs; a nil Source falls back to the math/rand
// package-level generator.
type Source interface {
	Intn(n int) int
}

type globalSource struct{}

func (globalSource) Intn(n int) int { return rand.Intn(n) }

// Shuffle draws a uniform random permutation of order in place using
// Fisher-Yates: at position i, pick a uniform index in [i, n) and swap.
func Shuffle(order []int, src Source) {
	if src == nil {
		src = globalSource{}
	}
	n := len(order)
	for i := 0; i < n-1; i++ {
		j := i + src.Intn(n-i)
		order[i], order[j] = order[j], order[i]
	}
}

// DeriveEpilogueOrder computes the mirrored permutation that an epilogue
// must follow given the prologue's order, so that a PUSH at prologue
// position k is matched by a POP at epilogue position n-1-k in the new
// layout: eorder[i] = (n-1) - order[(n-1)-i].
func DeriveEpilogueOrder(order []int) []int {
	n := len(order)
	eorder := make([]int, n)
	for i := 0; i < n; i++ {
		eorder[i] = (n - 1) - order[(n-1)-i]
	}
	return eorder
}

// encodeSet writes set's instructions into text at set.Start, in the
// sequence given by order (order[i] is the index into set.Instrs placed
// at output position i). It fails with errcode.Transform if the encoded
// bytes would overrun [set.Start, set.End), or if they underrun it.
func encodeSet(text *window.Window, set transform.InstructionSet, order []int) error {
	dst, avail := text.View(set.Start)
	if dst == nil {
		return errcode.New(errcode.Transform, nil)
	}
	length := int(set.End - set.Start)
	if avail < length {
		return errcode.New(errcode.Transform, nil)
	}

	cursor := 0
	for _, slot := range order {
		instr := set.Instrs[slot]
		enc := instr.Encode()
		if cursor+len(enc) > length {
			return errcode.New(errcode.Transform, nil)
		}
		copy(dst[cursor:cursor+len(enc)], enc)
		cursor += len(enc)
	}
	if cursor != length {
		return errcode.New(errcode.Transform, nil)
	}
	return nil
}

// One draws a fresh permutation for tf, applies it to the prologue, and
// applies the derived mirrored permutation to every epilogue, rewriting
// text in place. tf.Order is updated to the newly drawn permutation.
func One(tf *transform.Transformable, text *window.Window, src Source) error {
	order := make([]int, len(tf.Order))
	copy(order, tf.Order)
	Shuffle(order, src)

	if err := encodeSet(text, tf.Prologue, order); err != nil {
		return err
	}

	eorder := DeriveEpilogueOrder(order)
	for _, epilogue := range tf.Epilogues {
		if err := encodeSet(text, epilogue, eorder); err != nil {
			return err
		}
	}

	tf.Order = order
	return nil
}

// All applies One to every Transformable held by eng, through text. It
// stops and returns the first error encountered; a partially-rewritten
// function is not rolled back, matching the no-transactional-semantics
// contract of the in-place rewrite.
func All(eng *transform.Engine, text *window.Window, src Source, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	for _, tf := range eng.Transformables() {
		if err := One(tf, text, src); err != nil {
			log.Error("permutation failed", "addr", tf.Record.Addr, "err", err)
			return err
		}
	}
	return nil
}
