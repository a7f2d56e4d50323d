// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// styles renders CLI output. Every style is a no-op unless the writer is a
// terminal, so piped output stays plain text.
type styles struct {
	title lipgloss.Style
	key   lipgloss.Style
	value lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	dim   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return styles{title: plain, key: plain, value: plain, ok: plain, warn: plain, err: plain, dim: plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		key:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		value: lipgloss.NewStyle().Bold(true),
		ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		err:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		dim:   lipgloss.NewStyle().Faint(true),
	}
}

// lockedWriter serializes writes from concurrent exports.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printTitle writes a styled heading.
func (a *app) printTitle(format string, args ...any) {
	fmt.Fprintln(a.out, a.style.title.Render(fmt.Sprintf(format, args...)))
}

// printFields writes aligned "key: value" lines in the given order.
func (a *app) printFields(pairs ...any) {
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		if n := len(fmt.Sprint(pairs[i])); n > width {
			width = n
		}
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		k := fmt.Sprint(pairs[i])
		pad := strings.Repeat(" ", width-len(k))
		fmt.Fprintf(a.out, "  %s%s  %s\n", a.style.key.Render(k+":"), pad, a.style.value.Render(fmt.Sprint(pairs[i+1])))
	}
}

// printList writes one item per line, or a dimmed placeholder when empty.
func (a *app) printList(items []string, empty string) {
	if len(items) == 0 {
		fmt.Fprintln(a.out, a.style.dim.Render(empty))
		return
	}
	for _, it := range items {
		fmt.Fprintln(a.out, it)
	}
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
