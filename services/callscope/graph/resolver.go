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
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/callscope/services/callscope/hierarchy"
	"github.com/AleutianAI/callscope/services/callscope/model"
)

// Algorithm selects how virtual calls are resolved.
type Algorithm string

const (
	// AlgorithmRTA intersects override sets with the instantiated types.
	AlgorithmRTA Algorithm = "rta"

	// AlgorithmCHA uses every override in the receiver's subtree.
	AlgorithmCHA Algorithm = "cha"
)

// ParseAlgorithm converts "rta" or "cha" (any case) into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(s))) {
	case AlgorithmRTA, "":
		return AlgorithmRTA, nil
	case AlgorithmCHA:
		return AlgorithmCHA, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAlgorithm, s)
	}
}

// Resolver computes the concrete targets of call sites.
//
// Description:
//
//	Static calls resolve to the statically named method, constructor calls
//	to the constructor declared on the receiver type, and virtual calls to
//	the receiver's override set, intersected with the instantiated types
//	under RTA. Types declared external are opaque: they produce no targets
//	and no error.
//
// Thread Safety:
//
//	Safe for concurrent use. Resolve only reads the hierarchy and the
//	instantiation set.
type Resolver struct {
	h                *hierarchy.Hierarchy
	algorithm        Algorithm
	externalTypes    map[string]bool
	externalPrefixes []string
}

// NewResolver returns a resolver over h.
func NewResolver(h *hierarchy.Hierarchy, algorithm Algorithm, externalTypes, externalPrefixes []string) *Resolver {
	ext := make(map[string]bool, len(externalTypes))
	for _, t := range externalTypes {
		ext[t] = true
	}
	return &Resolver{
		h:                h,
		algorithm:        algorithm,
		externalTypes:    ext,
		externalPrefixes: append([]string(nil), externalPrefixes...),
	}
}

// IsExternal reports whether typeName is an opaque library type. Types
// defined in the model are never external.
func (r *Resolver) IsExternal(typeName string) bool {
	if _, ok := r.h.Class(typeName); ok {
		return false
	}
	if r.externalTypes[typeName] {
		return true
	}
	for _, p := range r.externalPrefixes {
		if strings.HasPrefix(typeName, p) {
			return true
		}
	}
	return false
}

// ReceiverType returns the static receiver type of site, defaulting to the
// class of the calling method.
func (r *Resolver) ReceiverType(site *model.CallSite) string {
	if site.Receiver != "" {
		return site.Receiver
	}
	if m, ok := r.h.Method(site.Caller); ok {
		return m.Owner
	}
	if owner, _, err := model.SplitMethodID(site.Caller); err == nil {
		return owner
	}
	return ""
}

// Resolve returns the targets of site given the instantiated types.
//
// Description:
//
//	Returns an empty set for virtual calls whose live subtree has no
//	instantiated type yet; the builder revisits those sites when a relevant
//	type is instantiated. Under RTA an exact receiver is live only once its
//	own type is instantiated.
//
// Inputs:
//
//	site - The call site. Must not be nil.
//	inst - The current instantiation set. Only consulted for virtual calls
//	under RTA.
//
// Outputs:
//
//	[]*model.MethodDecl - Targets sorted by ID, no duplicates.
//	error - *UnresolvedReferenceError when the receiver type or target
//	signature is absent from the model.
func (r *Resolver) Resolve(site *model.CallSite, inst *InstantiationSet) ([]*model.MethodDecl, error) {
	recv := r.ReceiverType(site)
	if r.IsExternal(recv) {
		return nil, nil
	}
	cls, ok := r.h.Class(recv)
	if !ok {
		return nil, r.unresolved(site, recv, ErrUnknownType)
	}

	switch site.Kind {
	case model.CallStatic:
		m, ok := r.h.LookupStatic(recv, site.Target)
		if !ok {
			return nil, r.unresolved(site, recv, ErrUnknownMethod)
		}
		return []*model.MethodDecl{m}, nil

	case model.CallConstructor:
		if !cls.Instantiable() {
			return nil, r.unresolved(site, recv, ErrNotInstantiable)
		}
		m, ok := r.h.LookupConstructor(recv, site.Target)
		if !ok {
			return nil, r.unresolved(site, recv, ErrUnknownMethod)
		}
		return []*model.MethodDecl{m}, nil

	case model.CallVirtual:
		return r.resolveVirtual(site, recv, cls, inst)

	default:
		return nil, fmt.Errorf("graph: call site %s has unknown kind %v", site.ID, site.Kind)
	}
}

func (r *Resolver) resolveVirtual(site *model.CallSite, recv string, cls *model.ClassType, inst *InstantiationSet) ([]*model.MethodDecl, error) {
	if !r.h.Declares(recv, site.Target) {
		return nil, r.unresolved(site, recv, ErrUnknownMethod)
	}

	if site.ExactReceiver {
		if !cls.Instantiable() {
			return nil, r.unresolved(site, recv, ErrNotInstantiable)
		}
		m, ok := r.h.ResolveMethod(recv, site.Target)
		if !ok {
			return nil, r.unresolved(site, recv, ErrUnknownMethod)
		}
		if r.algorithm == AlgorithmRTA && !inst.Contains(recv) {
			return nil, nil
		}
		return []*model.MethodDecl{m}, nil
	}

	if r.algorithm == AlgorithmCHA {
		return r.h.ResolveOverrides(recv, site.Target), nil
	}

	seen := make(map[string]*model.MethodDecl)
	for typ, m := range r.h.DispatchTable(recv, site.Target) {
		if inst.Contains(typ) {
			seen[m.ID()] = m
		}
	}
	out := make([]*model.MethodDecl, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// ResolveFor returns the implementation site would reach on a receiver of
// runtime type typeName. Used for incremental re-resolution after typeName
// is newly instantiated. An exact site only reaches its own receiver type.
func (r *Resolver) ResolveFor(site *model.CallSite, typeName string) (*model.MethodDecl, bool) {
	recv := r.ReceiverType(site)
	if site.ExactReceiver && typeName != recv {
		return nil, false
	}
	m, ok := r.h.DispatchTable(recv, site.Target)[typeName]
	return m, ok
}

// CheckAllocation validates an allocation site.
//
// Outputs:
//
//	bool - True if the allocated type should be instantiated, false for
//	external types.
//	error - *UnresolvedReferenceError for unknown or non-instantiable types.
func (r *Resolver) CheckAllocation(a *model.AllocationSite) (bool, error) {
	if r.IsExternal(a.Type) {
		return false, nil
	}
	cls, ok := r.h.Class(a.Type)
	if !ok {
		return false, &UnresolvedReferenceError{SiteID: a.ID, Method: a.Method, Type: a.Type, Reason: ErrUnknownType}
	}
	if !cls.Instantiable() {
		return false, &UnresolvedReferenceError{SiteID: a.ID, Method: a.Method, Type: a.Type, Reason: ErrNotInstantiable}
	}
	return true, nil
}

func (r *Resolver) unresolved(site *model.CallSite, recv string, reason error) error {
	return &UnresolvedReferenceError{
		SiteID:    site.ID,
		Method:    site.Caller,
		Type:      recv,
		Signature: site.Target.Key(),
		Reason:    reason,
	}
}
