// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hierarchy

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrCyclicHierarchy indicates the supertype relation contains a cycle.
	ErrCyclicHierarchy = errors.New("hierarchy: cyclic supertype relation")

	// ErrMissingSupertype indicates a class names a supertype absent from the model.
	ErrMissingSupertype = errors.New("hierarchy: supertype not defined")

	// ErrMissingInterface indicates a type names an interface absent from the model.
	ErrMissingInterface = errors.New("hierarchy: interface not defined")

	// ErrInvalidSupertype indicates a class extends an interface, implements
	// a class, or an interface extends a class.
	ErrInvalidSupertype = errors.New("hierarchy: invalid supertype")

	// ErrNilProgram is returned when New is called without a program.
	ErrNilProgram = errors.New("hierarchy: program must not be nil")
)

// HierarchyError reports an inconsistent type hierarchy.
//
// Description:
//
//	Type is the offending type. Reference is the supertype or interface it
//	names, when relevant. Cycle holds the cycle path for ErrCyclicHierarchy.
//	The error unwraps to its sentinel so callers can use errors.Is.
type HierarchyError struct {
	Type      string
	Reference string
	Cycle     []string
	Err       error
}

// Error implements error.
func (e *HierarchyError) Error() string {
	switch {
	case len(e.Cycle) > 0:
		return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Cycle, " -> "))
	case e.Reference != "":
		return fmt.Sprintf("%v: %s references %s", e.Err, e.Type, e.Reference)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.Type)
	}
}

// Unwrap returns the sentinel.
func (e *HierarchyError) Unwrap() error {
	return e.Err
}
