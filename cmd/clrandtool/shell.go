// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/rewiresec/clrand"
)

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <binary>",
		Short: "Open an interactive shell for inspecting and randomizing one binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(args[0])
		},
	}
}

// runShell hosts a tiny REPL over one Handle: open, randomize, relocate,
// fault, code/text sizes, quit. It exists to exercise the library
// interactively; it is not itself respecified behavior.
func runShell(path string) error {
	h := clrand.New()
	if err := h.Init(path); err != nil {
		return fmt.Errorf("init %s: %w", path, err)
	}
	defer h.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "clrand> ",
		HistoryFile: "",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("loaded %s: %d randomizable function(s)\n", path, h.FunctionCount())

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil

		case "randomize":
			if err := h.Randomize(); err != nil {
				fmt.Printf("randomize: %v\n", err)
				continue
			}
			fmt.Println("ok")

		case "relocate":
			if len(fields) != 2 {
				fmt.Println("usage: relocate <hex address>")
				continue
			}
			addr, err := parseHexAddr(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			h.Relocate(addr)
			fmt.Println("ok")

		case "fault":
			if len(fields) != 2 {
				fmt.Println("usage: fault <hex address>")
				continue
			}
			addr, err := parseHexAddr(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			page := h.HandleFault(addr)
			if page == nil {
				fmt.Println("<no page>")
				continue
			}
			fmt.Printf("%d bytes\n", len(page))

		case "sizes":
			fmt.Printf("code: %d bytes, text: %d bytes\n", len(h.Code()), len(h.Text()))

		case "functions":
			fmt.Println(h.FunctionCount())

		case "lookup":
			if len(fields) != 2 {
				fmt.Println("usage: lookup <function name>")
				continue
			}
			fn, err := h.LookupFunction(fields[1])
			if err != nil {
				fmt.Printf("lookup: %v\n", err)
				continue
			}
			fmt.Printf("%s: addr=%#x len=%d\n", fields[1], fn.Addr, fn.Len)

		case "entryfor":
			if len(fields) != 2 {
				fmt.Println("usage: entryfor <hex address>")
				continue
			}
			addr, err := parseHexAddr(fields[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			fn, err := h.EntryForPC(addr)
			if err != nil {
				fmt.Printf("entryfor: %v\n", err)
				continue
			}
			fmt.Printf("addr=%#x len=%d\n", fn.Addr, fn.Len)

		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
}

func parseHexAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return v, nil
}
