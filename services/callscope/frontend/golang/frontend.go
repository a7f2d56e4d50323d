// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package golang converts Go packages into a callscope program model.
//
// Packages are loaded with golang.org/x/tools/go/packages and lowered from
// SSA form. Each package becomes a class of static methods whose static
// initializer is the package init. Each named non-interface type becomes a
// class of virtual methods holding its pointer method set. Interfaces that
// are declared in the loaded packages or invoked through become interface
// classes.
package golang

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/callscope/services/callscope/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

const tracerName = "callscope.frontend.golang"

var (
	// ErrLoad wraps package loading and type checking failures.
	ErrLoad = errors.New("golang: loading packages")

	// ErrNoPackages is returned when the patterns match nothing.
	ErrNoPackages = errors.New("golang: no packages matched")
)

// loadMode is everything SSA construction needs.
const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
	packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
	packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypesSizes

// Options configures a Frontend.
type Options struct {
	// Tests loads test variants of the packages.
	Tests bool

	// BuildTags are passed to the go tool.
	BuildTags []string

	// Env is appended to the process environment for the go tool.
	Env []string

	Logger *slog.Logger
}

// Option modifies Options.
type Option func(*Options)

// WithTests includes _test.go files.
func WithTests(enabled bool) Option {
	return func(o *Options) { o.Tests = enabled }
}

// WithBuildTags sets build tags.
func WithBuildTags(tags ...string) Option {
	return func(o *Options) { o.BuildTags = append([]string(nil), tags...) }
}

// WithEnv adds KEY=VALUE pairs to the go tool's environment.
func WithEnv(env ...string) Option {
	return func(o *Options) { o.Env = append(o.Env, env...) }
}

// WithLogger sets the logger. Nil uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// Stats describes one conversion.
type Stats struct {
	Packages    int `json:"packages"`
	Classes     int `json:"classes"`
	Interfaces  int `json:"interfaces"`
	Methods     int `json:"methods"`
	CallSites   int `json:"call_sites"`
	Allocations int `json:"allocations"`

	// ExternalCalls counts static calls into packages outside the load.
	ExternalCalls int `json:"external_calls"`

	// DynamicCalls counts calls through function values, which have no
	// static callee.
	DynamicCalls int `json:"dynamic_calls"`
}

// Result is the output of a conversion.
type Result struct {
	Program *model.InMemoryProgram
	Stats   Stats
}

// Frontend converts Go packages into program models.
//
// Thread Safety: Safe for concurrent use.
type Frontend struct {
	opts   Options
	logger *slog.Logger
}

// NewFrontend creates a Frontend.
func NewFrontend(opts ...Option) *Frontend {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Frontend{opts: o, logger: logger.With(slog.String("component", "go_frontend"))}
}

// Load type-checks the packages matching patterns under dir and converts
// them into a program model.
//
// Description:
//
//	Only the matched packages are modelled. Their dependencies are loaded
//	for type information; static calls into them are dropped and counted,
//	while interfaces from them that modelled code invokes become interface
//	classes. main.main of every matched main package is an entry point.
//
// Inputs:
//
//	ctx - Cancellation context, also passed to the go tool.
//	dir - Directory the go tool runs in.
//	patterns - Package patterns. Empty means "./...".
//
// Outputs:
//
//	*Result - The program and conversion statistics.
//	error - ErrLoad with the first package errors, ErrNoPackages, or model
//	        construction errors.
func (f *Frontend) Load(ctx context.Context, dir string, patterns ...string) (*Result, error) {
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "GoFrontend.Load",
		trace.WithAttributes(
			attribute.String("go.dir", dir),
			attribute.StringSlice("go.patterns", patterns),
		),
	)
	defer span.End()
	start := time.Now()

	res, err := f.load(ctx, dir, patterns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("go.packages", res.Stats.Packages),
		attribute.Int("go.classes", res.Stats.Classes),
		attribute.Int("go.call_sites", res.Stats.CallSites),
	)
	f.logger.Info("go packages converted",
		slog.String("dir", dir),
		slog.Int("packages", res.Stats.Packages),
		slog.Int("classes", res.Stats.Classes),
		slog.Int("methods", res.Stats.Methods),
		slog.Int("call_sites", res.Stats.CallSites),
		slog.Int("external_calls", res.Stats.ExternalCalls),
		slog.Int("dynamic_calls", res.Stats.DynamicCalls),
		slog.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (f *Frontend) load(ctx context.Context, dir string, patterns []string) (*Result, error) {
	cfg := &packages.Config{
		Context: ctx,
		Mode:    loadMode,
		Dir:     dir,
		Tests:   f.opts.Tests,
		Env:     append(os.Environ(), f.opts.Env...),
	}
	if len(f.opts.BuildTags) > 0 {
		cfg.BuildFlags = []string{"-tags=" + strings.Join(f.opts.BuildTags, ",")}
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []string
	packages.Visit(pkgs, nil, func(p *packages.Package) {
		for _, e := range p.Errors {
			errs = append(errs, e.Error())
		}
	})
	if len(errs) > 0 {
		if len(errs) > 5 {
			errs = append(errs[:5], fmt.Sprintf("and %d more", len(errs)-5))
		}
		return nil, fmt.Errorf("%w: %s", ErrLoad, strings.Join(errs, "; "))
	}

	roots := selectRoots(pkgs)
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoPackages, strings.Join(patterns, " "), dir)
	}

	prog, _ := ssautil.AllPackages(roots, ssa.InstantiateGenerics)
	prog.Build()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := newConverter(prog, roots)
	program, err := c.convert(ctx)
	if err != nil {
		return nil, err
	}
	if err := program.Validate(); err != nil {
		return nil, fmt.Errorf("golang: converted program: %w", err)
	}
	return &Result{Program: program, Stats: c.stats}, nil
}

// selectRoots keeps one package per import path. With tests enabled the
// test variant, which holds more files, replaces the plain package, and
// generated test mains are dropped.
func selectRoots(pkgs []*packages.Package) []*packages.Package {
	byPath := make(map[string]*packages.Package)
	var order []string
	for _, p := range pkgs {
		if p.Types == nil || strings.HasSuffix(p.PkgPath, ".test") {
			continue
		}
		prev, ok := byPath[p.PkgPath]
		if !ok {
			order = append(order, p.PkgPath)
			byPath[p.PkgPath] = p
			continue
		}
		if len(p.CompiledGoFiles) > len(prev.CompiledGoFiles) {
			byPath[p.PkgPath] = p
		}
	}
	out := make([]*packages.Package, 0, len(order))
	for _, path := range order {
		out = append(out, byPath[path])
	}
	return out
}
