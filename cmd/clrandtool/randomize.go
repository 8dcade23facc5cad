// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewiresec/clrand"
	"github.com/rewiresec/clrand/elfbin"
)

func newRandomizeCmd() *cobra.Command {
	var (
		outPath string
		seed    int64
		useSeed bool
	)

	cmd := &cobra.Command{
		Use:   "randomize <binary>",
		Short: "Permute every function's register-save prologue/epilogue and write the result back to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}
			var src rand.Source
			if useSeed {
				src = rand.NewSource(seed)
			}
			return runRandomize(args[0], outPath, src)
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "path to write the randomized binary to")
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed used when --deterministic is set")
	cmd.Flags().BoolVar(&useSeed, "deterministic", false, "draw permutations from --seed instead of the process-wide RNG")

	return cmd
}

// runRandomize loads path, randomizes its code layout, and writes the
// result to outPath. Writeback copies the original file and overwrites
// only the .text section's file-offset range with the randomized bytes;
// this tool does not itself relocate branches or fix up any other part
// of the file, matching the library's scope.
func runRandomize(path, outPath string, seedSource rand.Source) error {
	h := clrand.New()
	if seedSource != nil {
		h.SetSource(rand.New(seedSource))
	}
	if err := h.Init(path); err != nil {
		return fmt.Errorf("init %s: %w", path, err)
	}
	defer h.Close()

	if err := h.Randomize(); err != nil {
		return fmt.Errorf("randomize: %w", err)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	binary, err := elfbin.Open(path, nil)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", path, err)
	}
	defer binary.Close()

	text, err := binary.FindSection(".text")
	if err != nil {
		return fmt.Errorf("find .text: %w", err)
	}

	out := make([]byte, len(original))
	copy(out, original)
	copy(out[text.Offset:text.Offset+text.Size], h.Text())

	if err := os.WriteFile(outPath, out, 0o755); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("randomized %s (%d bytes of text), wrote %s\n", path, len(h.Text()), outPath)
	return nil
}
