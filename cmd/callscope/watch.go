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
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the bursts of events editors produce on save.
const watchDebounce = 500 * time.Millisecond

// watch rebuilds on every change under the build input until ctx ends.
// Build errors are reported and the watch continues.
func (a *app) watch(ctx context.Context, bf *buildFlags, patterns []string) error {
	root, err := bf.path()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := addWatches(w, root); err != nil {
		return err
	}
	var only string
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		only = filepath.Clean(root)
	}
	fmt.Fprintln(a.out, a.style.dim.Render("watching "+root+" (ctrl-c to stop)"))

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev, only) {
				continue
			}
			a.logger.Debug("input changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addWatches(w, ev.Name); err != nil {
						a.logger.Warn("watching new directory", slog.String("path", ev.Name), slog.String("error", err.Error()))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			trigger = timer.C

		case <-trigger:
			trigger = nil
			if err := a.runBuild(ctx, bf, patterns); err != nil {
				fmt.Fprintln(a.out, a.style.err.Render("build failed: "+err.Error()))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// addWatches watches root, and every directory below it when root is a
// directory. Hidden directories are skipped.
func addWatches(w *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		// Watch the parent so editors that replace the file are still seen.
		return w.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

// relevant filters out hidden files and, when only is set, every other file.
func relevant(ev fsnotify.Event, only string) bool {
	if only != "" && filepath.Clean(ev.Name) != only {
		return false
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
