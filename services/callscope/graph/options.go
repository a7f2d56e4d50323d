// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "log/slog"

// Default configuration values.
const (
	// DefaultBatchSize is the number of worklist methods scanned per iteration.
	DefaultBatchSize = 64

	// DefaultWorkers keeps construction single-threaded.
	DefaultWorkers = 1
)

// Progress is a snapshot of builder state after one fixpoint iteration.
//
// Reachable, Instantiated and Edges never decrease between successive
// reports of the same build.
type Progress struct {
	Iteration    int `json:"iteration"`
	Reachable    int `json:"reachable"`
	Instantiated int `json:"instantiated"`
	Edges        int `json:"edges"`
	Worklist     int `json:"worklist"`
	Pending      int `json:"pending"`
}

// ProgressFunc receives a Progress report after each iteration. It is called
// from the builder's goroutine and must not block for long.
type ProgressFunc func(Progress)

// BuilderOptions configures call graph construction.
type BuilderOptions struct {
	// Algorithm selects RTA (default) or CHA virtual call resolution.
	Algorithm Algorithm

	// Workers is the number of goroutines scanning worklist methods.
	// 1 keeps construction single-threaded.
	Workers int

	// BatchSize is the number of methods taken off the worklist per iteration.
	BatchSize int

	// StaticInitializers makes a class's <clinit> reachable when the class is
	// first touched.
	StaticInitializers bool

	// ExternalTypes are opaque library type names.
	ExternalTypes []string

	// ExternalPrefixes mark every type with one of these prefixes as opaque.
	ExternalPrefixes []string

	// MaxIterations aborts construction with ErrIterationLimit. 0 means no limit.
	MaxIterations int

	// Progress, if set, is invoked after each iteration.
	Progress ProgressFunc

	// Logger receives diagnostic output. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultBuilderOptions returns single-threaded RTA with static initializers.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		Algorithm:          AlgorithmRTA,
		Workers:            DefaultWorkers,
		BatchSize:          DefaultBatchSize,
		StaticInitializers: true,
	}
}

// BuilderOption is a functional option for configuring the Builder.
type BuilderOption func(*BuilderOptions)

// WithAlgorithm sets the virtual call resolution algorithm.
func WithAlgorithm(a Algorithm) BuilderOption {
	return func(o *BuilderOptions) {
		if a != "" {
			o.Algorithm = a
		}
	}
}

// WithWorkers sets the number of scan goroutines. Values below 1 are ignored.
func WithWorkers(n int) BuilderOption {
	return func(o *BuilderOptions) {
		if n >= 1 {
			o.Workers = n
		}
	}
}

// WithBatchSize sets the worklist batch size. Values below 1 are ignored.
func WithBatchSize(n int) BuilderOption {
	return func(o *BuilderOptions) {
		if n >= 1 {
			o.BatchSize = n
		}
	}
}

// WithStaticInitializers enables or disables static initializer reachability.
func WithStaticInitializers(enabled bool) BuilderOption {
	return func(o *BuilderOptions) {
		o.StaticInitializers = enabled
	}
}

// WithExternalTypes marks the given type names as opaque library types.
func WithExternalTypes(types ...string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ExternalTypes = append(o.ExternalTypes, types...)
	}
}

// WithExternalPrefixes marks types with any of the given prefixes as opaque.
func WithExternalPrefixes(prefixes ...string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ExternalPrefixes = append(o.ExternalPrefixes, prefixes...)
	}
}

// WithMaxIterations bounds the number of fixpoint iterations.
func WithMaxIterations(n int) BuilderOption {
	return func(o *BuilderOptions) {
		if n >= 0 {
			o.MaxIterations = n
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) BuilderOption {
	return func(o *BuilderOptions) {
		o.Progress = fn
	}
}

// WithLogger sets the builder's logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(o *BuilderOptions) {
		o.Logger = logger
	}
}
