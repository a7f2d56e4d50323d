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

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrUnresolvedReference is the base of every UnresolvedReferenceError.
	ErrUnresolvedReference = errors.New("graph: unresolved reference")

	// ErrUnknownType indicates a call site or allocation names a type absent
	// from the model.
	ErrUnknownType = errors.New("graph: type not defined")

	// ErrUnknownMethod indicates the named type has no method with the target
	// signature.
	ErrUnknownMethod = errors.New("graph: method not defined")

	// ErrNotInstantiable indicates an allocation or constructor call on an
	// interface or abstract class.
	ErrNotInstantiable = errors.New("graph: type is not instantiable")

	// ErrUnknownEntryPoint indicates an entry-point ID that names no method.
	ErrUnknownEntryPoint = errors.New("graph: unknown entry point")

	// ErrNoEntryPoints is returned when construction is requested without entry points.
	ErrNoEntryPoints = errors.New("graph: no entry points")

	// ErrIterationLimit is returned when the fixpoint exceeds the configured
	// iteration limit.
	ErrIterationLimit = errors.New("graph: fixpoint iteration limit exceeded")

	// ErrNoRevisions is returned when attribution is requested for no revisions.
	ErrNoRevisions = errors.New("graph: no revisions to attribute")

	// ErrNilContext is returned when Build is called with a nil context.
	ErrNilContext = errors.New("graph: ctx must not be nil")

	// ErrNilHierarchy is returned when Build is called without a hierarchy.
	ErrNilHierarchy = errors.New("graph: hierarchy must not be nil")

	// ErrInvalidAlgorithm is returned for an unknown algorithm name.
	ErrInvalidAlgorithm = errors.New("graph: invalid algorithm")
)

// UnresolvedReferenceError reports a call site or allocation whose type or
// signature is absent from the program model.
//
// Description:
//
//	SiteID identifies the instruction, Method the method containing it.
//	Signature is empty for allocations. Reason is one of ErrUnknownType,
//	ErrUnknownMethod, or ErrNotInstantiable. errors.Is matches both
//	ErrUnresolvedReference and the reason.
type UnresolvedReferenceError struct {
	SiteID    string
	Method    string
	Type      string
	Signature string
	Reason    error
}

// Error implements error.
func (e *UnresolvedReferenceError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %s", e.Reason, e.Type)
	if e.Signature != "" {
		fmt.Fprintf(&b, ".%s", e.Signature)
	}
	fmt.Fprintf(&b, " at %s", e.SiteID)
	return b.String()
}

// Unwrap returns the base sentinel and the reason.
func (e *UnresolvedReferenceError) Unwrap() []error {
	return []error{ErrUnresolvedReference, e.Reason}
}

// UnresolvedReferences extracts every UnresolvedReferenceError from err,
// including those joined by errors.Join.
func UnresolvedReferences(err error) []*UnresolvedReferenceError {
	var out []*UnresolvedReferenceError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if u, ok := e.(*UnresolvedReferenceError); ok {
			out = append(out, u)
			return
		}
		switch x := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(x.Unwrap())
		}
	}
	walk(err)
	return out
}
