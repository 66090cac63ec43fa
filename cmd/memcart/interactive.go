// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const prompt = "(memcart) "

func newInteractiveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interactive",
		Short: "run commands against one snapshot without reloading it",
		Long: `Interactive loads the snapshot once and reads commands from the
terminal. Any memcart command may be entered, without the global flags
that select the snapshot. Type "quit" or press Ctrl-D to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.interactive {
				return errors.New("already in interactive mode")
			}
			if _, err := a.target(cmd.Context()); err != nil {
				return err
			}
			return a.repl(cmd.Root())
		},
	}
}

func (a *app) repl(root *cobra.Command) error {
	var items []readline.PrefixCompleterInterface
	for _, c := range root.Commands() {
		items = append(items, readline.PcItem(c.Name()))
	}
	items = append(items, readline.PcItem("quit"))

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile(),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	a.interactive = true
	defer func() { a.interactive = false }()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("readline error: %w", err)
		}
		if a.execLine(line) {
			return nil
		}
	}
}

// execLine runs one line of interactive input and reports whether the
// session should end. Each line gets its own interrupt handler, so
// Ctrl-C stops a long scan without leaving the session.
func (a *app) execLine(line string) (quit bool) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "quit", "exit":
		return true
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return false
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".memcart_history")
}
