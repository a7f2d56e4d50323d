// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package java converts Java source files into a callscope program model.
//
// Parsing uses tree-sitter. Conversion runs in two passes: the first collects
// every type, field and method declaration across all files, the second lowers
// method bodies into call and allocation sites using those declarations to
// type receivers and pick overloads.
package java

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/callscope/services/callscope/model"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "callscope.frontend.java"

var (
	// ErrNoSources is returned when there is nothing to parse.
	ErrNoSources = errors.New("java: no source files")

	// ErrFileTooLarge is returned for a file above MaxFileSize.
	ErrFileTooLarge = errors.New("java: file too large")

	// ErrTooManyFiles is returned when the input exceeds MaxFiles.
	ErrTooManyFiles = errors.New("java: too many files")

	// ErrInvalidContent is returned for content that is not UTF-8.
	ErrInvalidContent = errors.New("java: invalid content")
)

// =============================================================================
// Options
// =============================================================================

// Options configures a Frontend.
type Options struct {
	// ExternalPrefixes mark library packages. Supertypes under these
	// prefixes are dropped from the model and calls to methods the model
	// cannot see on such types are skipped.
	ExternalPrefixes []string

	// Extensions selects files in ParseDir.
	Extensions []string

	MaxFileSize int64
	MaxFiles    int

	// Workers bounds concurrent tree-sitter parses.
	Workers int

	Logger *slog.Logger
}

// DefaultOptions returns the defaults used by NewFrontend.
func DefaultOptions() Options {
	return Options{
		ExternalPrefixes: []string{"java.", "javax.", "jdk.", "sun."},
		Extensions:       []string{".java"},
		MaxFileSize:      2 << 20,
		MaxFiles:         20000,
		Workers:          4,
	}
}

// Option modifies Options.
type Option func(*Options)

// WithExternalPrefixes replaces the library package prefixes.
func WithExternalPrefixes(prefixes ...string) Option {
	return func(o *Options) { o.ExternalPrefixes = append([]string(nil), prefixes...) }
}

// WithExtensions replaces the file extensions ParseDir accepts.
func WithExtensions(exts ...string) Option {
	return func(o *Options) {
		if len(exts) > 0 {
			o.Extensions = append([]string(nil), exts...)
		}
	}
}

// WithMaxFileSize bounds a single file. Non-positive values are ignored.
func WithMaxFileSize(n int64) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxFileSize = n
		}
	}
}

// WithMaxFiles bounds the number of files. Non-positive values are ignored.
func WithMaxFiles(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxFiles = n
		}
	}
}

// WithWorkers bounds concurrent parses. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithLogger sets the logger. Nil uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// =============================================================================
// Frontend
// =============================================================================

// Stats describes one conversion.
type Stats struct {
	Files       int `json:"files"`
	Classes     int `json:"classes"`
	Methods     int `json:"methods"`
	CallSites   int `json:"call_sites"`
	Allocations int `json:"allocations"`

	// SkippedCalls counts calls whose receiver could not be typed or whose
	// target lives only in a library supertype.
	SkippedCalls int `json:"skipped_calls"`

	// SyntaxErrors counts files tree-sitter reported errors for. Those files
	// are still converted as far as the tree allows.
	SyntaxErrors int `json:"syntax_errors"`

	// ExternalSupertypes counts dropped library supertypes.
	ExternalSupertypes int `json:"external_supertypes"`
}

// SkippedCall records one call that was left out of the model.
type SkippedCall struct {
	Method string `json:"method"`
	Line   int    `json:"line"`
	Call   string `json:"call"`
	Reason string `json:"reason"`
}

// Result is the output of a conversion.
type Result struct {
	Program *model.InMemoryProgram
	Stats   Stats
	Skipped []SkippedCall
}

// Frontend converts Java sources into program models.
//
// Thread Safety: Safe for concurrent use. Each Parse call owns its parsers.
type Frontend struct {
	opts   Options
	logger *slog.Logger
}

// NewFrontend creates a Frontend.
func NewFrontend(opts ...Option) *Frontend {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontend{opts: o, logger: logger.With(slog.String("component", "java_frontend"))}
}

// Options returns the effective options.
func (f *Frontend) Options() Options {
	return f.opts
}

// Parse converts a set of Java files into a program model.
//
// Description:
//
//	Every file is parsed with tree-sitter, then declarations from all files
//	are collected before any method body is lowered, so files may reference
//	each other in any order. Every public static void main(String[]) becomes
//	an entry point of the returned program.
//
// Inputs:
//
//	ctx - Cancellation context.
//	files - Source content keyed by path. Paths become ClassType.File.
//
// Outputs:
//
//	*Result - The program, conversion statistics and skipped calls.
//	error - ErrNoSources, ErrTooManyFiles, ErrFileTooLarge, ErrInvalidContent,
//	        context errors, or model construction errors.
func (f *Frontend) Parse(ctx context.Context, files map[string][]byte) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "JavaFrontend.Parse",
		trace.WithAttributes(attribute.Int("java.files", len(files))),
	)
	defer span.End()
	start := time.Now()

	res, err := f.parse(ctx, files)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("java.classes", res.Stats.Classes),
		attribute.Int("java.methods", res.Stats.Methods),
		attribute.Int("java.call_sites", res.Stats.CallSites),
		attribute.Int("java.skipped_calls", res.Stats.SkippedCalls),
	)
	f.logger.Info("java sources converted",
		slog.Int("files", res.Stats.Files),
		slog.Int("classes", res.Stats.Classes),
		slog.Int("methods", res.Stats.Methods),
		slog.Int("call_sites", res.Stats.CallSites),
		slog.Int("skipped_calls", res.Stats.SkippedCalls),
		slog.Int("entry_points", len(res.Program.EntryPoints())),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (f *Frontend) parse(ctx context.Context, files map[string][]byte) (*Result, error) {
	if len(files) == 0 {
		return nil, ErrNoSources
	}
	if len(files) > f.opts.MaxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), f.opts.MaxFiles)
	}

	paths := make([]string, 0, len(files))
	for path, src := range files {
		if int64(len(src)) > f.opts.MaxFileSize {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, len(src), f.opts.MaxFileSize)
		}
		if !utf8.Valid(src) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidContent, path)
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	units, err := f.parseTrees(ctx, paths, files)
	defer func() {
		for _, u := range units {
			if u != nil && u.tree != nil {
				u.tree.Close()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	st := newState(f.opts)
	st.stats.Files = len(units)
	for _, u := range units {
		if u.tree.RootNode().HasError() {
			st.stats.SyntaxErrors++
			f.logger.Warn("java file has syntax errors", slog.String("file", u.path))
		}
		st.declareUnit(u)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.link()

	prog, err := st.lower(ctx)
	if err != nil {
		return nil, err
	}
	if err := prog.Validate(); err != nil {
		return nil, fmt.Errorf("java: lowered program: %w", err)
	}
	for _, s := range st.skipped {
		f.logger.Debug("call skipped",
			slog.String("method", s.Method),
			slog.Int("line", s.Line),
			slog.String("call", s.Call),
			slog.String("reason", s.Reason),
		)
	}
	return &Result{Program: prog, Stats: st.stats, Skipped: st.skipped}, nil
}

// parseTrees parses every file concurrently. Trees are returned in path order.
func (f *Frontend) parseTrees(ctx context.Context, paths []string, files map[string][]byte) ([]*unit, error) {
	units := make([]*unit, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)
	for i, path := range paths {
		g.Go(func() error {
			parser := sitter.NewParser()
			defer parser.Close()
			parser.SetLanguage(java.GetLanguage())

			tree, err := parser.ParseCtx(gctx, nil, files[path])
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				return fmt.Errorf("java: parsing %s: %w", path, err)
			}
			units[i] = &unit{path: path, src: files[path], tree: tree}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return units, err
	}
	return units, nil
}

// ParseDir reads every source file under dir and converts them.
//
// Hidden directories are skipped. Paths in the model are relative to dir.
func (f *Frontend) ParseDir(ctx context.Context, dir string) (*Result, error) {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.accepts(path) {
			return nil
		}
		if len(files) >= f.opts.MaxFiles {
			return fmt.Errorf("%w: more than %d under %s", ErrTooManyFiles, f.opts.MaxFiles, dir)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > f.opts.MaxFileSize {
			return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrFileTooLarge, path, info.Size(), f.opts.MaxFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("java: reading %s: %w", dir, err)
	}
	return f.Parse(ctx, files)
}

func (f *Frontend) accepts(path string) bool {
	ext := filepath.Ext(path)
	for _, e := range f.opts.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
