// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hierarchy stores the type hierarchy of a program model and answers
// subtype and method-resolution queries for the call graph engine.
//
// The supertype relation is a forest (single superclass per class) overlaid
// with interface sets. Override resolution follows single inheritance of
// implementation: the nearest declaration in the superclass chain shadows
// every ancestor's, and interface default methods are used only when no class
// in the chain declares the signature.
package hierarchy

import (
	"sort"
	"sync"

	"github.com/AleutianAI/callscope/services/callscope/model"
)

// Hierarchy is the immutable type hierarchy of a program.
//
// Description:
//
//	Built once by New. All query methods are read-only; the subtype and
//	dispatch-table caches are filled lazily under a lock.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Hierarchy struct {
	classes   map[string]*model.ClassType
	names     []string
	methods   map[string]*model.MethodDecl
	methodIDs []string

	// directSubs maps a type to the types naming it as superclass or interface.
	directSubs map[string][]string
	ancestors  map[string][]string

	mu        sync.RWMutex
	subtypes  map[string][]string
	dispatch  map[dispatchKey]map[string]*model.MethodDecl
	overrides map[dispatchKey][]*model.MethodDecl
}

type dispatchKey struct {
	declaring string
	sig       string
}

// New builds the hierarchy of the given program.
//
// Description:
//
//	Indexes classes and methods, verifies that every referenced supertype
//	and interface exists and has the right kind, and rejects cycles.
//	Checks run in sorted class order so the reported error is
//	deterministic.
//
// Inputs:
//
//	p - The program model. Must not be nil.
//
// Outputs:
//
//	*Hierarchy - The hierarchy, never nil on success.
//	error - *HierarchyError for missing, invalid, or cyclic supertypes;
//	ErrNilProgram if p is nil.
func New(p model.Program) (*Hierarchy, error) {
	if p == nil {
		return nil, ErrNilProgram
	}

	h := &Hierarchy{
		classes:    make(map[string]*model.ClassType),
		methods:    make(map[string]*model.MethodDecl),
		directSubs: make(map[string][]string),
		ancestors:  make(map[string][]string),
		subtypes:   make(map[string][]string),
		dispatch:   make(map[dispatchKey]map[string]*model.MethodDecl),
		overrides:  make(map[dispatchKey][]*model.MethodDecl),
	}

	for _, c := range p.Classes() {
		h.classes[c.Name] = c
		h.names = append(h.names, c.Name)
		for _, m := range c.Methods {
			id := m.ID()
			h.methods[id] = m
			h.methodIDs = append(h.methodIDs, id)
		}
	}
	sort.Strings(h.names)
	sort.Strings(h.methodIDs)

	if err := h.checkReferences(); err != nil {
		return nil, err
	}
	if err := h.checkCycles(); err != nil {
		return nil, err
	}

	for _, name := range h.names {
		for _, sup := range h.directSupertypes(name) {
			h.directSubs[sup] = append(h.directSubs[sup], name)
		}
	}
	for _, name := range h.names {
		h.ancestors[name] = h.computeAncestors(name)
	}
	return h, nil
}

// checkReferences verifies every supertype and interface reference.
func (h *Hierarchy) checkReferences() error {
	for _, name := range h.names {
		c := h.classes[name]
		if c.Super != "" {
			sup, ok := h.classes[c.Super]
			switch {
			case !ok:
				return &HierarchyError{Type: name, Reference: c.Super, Err: ErrMissingSupertype}
			case c.IsInterface || sup.IsInterface:
				return &HierarchyError{Type: name, Reference: c.Super, Err: ErrInvalidSupertype}
			}
		}
		for _, iface := range c.Interfaces {
			ic, ok := h.classes[iface]
			switch {
			case !ok:
				return &HierarchyError{Type: name, Reference: iface, Err: ErrMissingInterface}
			case !ic.IsInterface:
				return &HierarchyError{Type: name, Reference: iface, Err: ErrInvalidSupertype}
			}
		}
	}
	return nil
}

// directSupertypes returns the superclass (if any) followed by interfaces.
func (h *Hierarchy) directSupertypes(name string) []string {
	c := h.classes[name]
	out := make([]string, 0, 1+len(c.Interfaces))
	if c.Super != "" {
		out = append(out, c.Super)
	}
	return append(out, c.Interfaces...)
}

// checkCycles runs a three-colour DFS over the supertype edges.
func (h *Hierarchy) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(h.names))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		stack = append(stack, name)
		for _, sup := range h.directSupertypes(name) {
			switch color[sup] {
			case grey:
				start := 0
				for i, n := range stack {
					if n == sup {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), sup)
				return &HierarchyError{Type: sup, Cycle: cycle, Err: ErrCyclicHierarchy}
			case white:
				if err := visit(sup); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	for _, name := range h.names {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeAncestors returns self, the superclass chain, then interfaces
// breadth-first.
func (h *Hierarchy) computeAncestors(name string) []string {
	seen := map[string]bool{}
	var out []string
	var queue []string

	for c := name; c != ""; c = h.classes[c].Super {
		out = append(out, c)
		seen[c] = true
	}
	for _, c := range out {
		queue = append(queue, h.classes[c].Interfaces...)
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if seen[next] {
			continue
		}
		seen[next] = true
		out = append(out, next)
		queue = append(queue, h.classes[next].Interfaces...)
	}
	return out
}

// Class returns the class with the given name.
func (h *Hierarchy) Class(name string) (*model.ClassType, bool) {
	c, ok := h.classes[name]
	return c, ok
}

// Method returns the method with the given ID.
func (h *Hierarchy) Method(id string) (*model.MethodDecl, bool) {
	m, ok := h.methods[id]
	return m, ok
}

// Methods returns every declared method sorted by ID.
func (h *Hierarchy) Methods() []*model.MethodDecl {
	out := make([]*model.MethodDecl, 0, len(h.methodIDs))
	for _, id := range h.methodIDs {
		out = append(out, h.methods[id])
	}
	return out
}

// MethodIDs returns every declared method ID, sorted.
func (h *Hierarchy) MethodIDs() []string {
	out := make([]string, len(h.methodIDs))
	copy(out, h.methodIDs)
	return out
}

// Types returns every type name, sorted.
func (h *Hierarchy) Types() []string {
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Ancestors returns the supertypes of name including itself: the type, its
// superclass chain nearest first, then every interface reached transitively
// in breadth-first order. Unknown types return nil.
func (h *Hierarchy) Ancestors(name string) []string {
	a, ok := h.ancestors[name]
	if !ok {
		return nil
	}
	out := make([]string, len(a))
	copy(out, a)
	return out
}

// Superclasses returns the superclass chain of name, nearest first,
// excluding name itself.
func (h *Hierarchy) Superclasses(name string) []string {
	c, ok := h.classes[name]
	if !ok {
		return nil
	}
	var out []string
	for s := c.Super; s != ""; s = h.classes[s].Super {
		out = append(out, s)
	}
	return out
}

// IsSubtype reports whether sub is super or a transitive subtype of it.
func (h *Hierarchy) IsSubtype(sub, super string) bool {
	for _, a := range h.ancestors[sub] {
		if a == super {
			return true
		}
	}
	return false
}

// SubtypesOf returns name and all of its transitive subtypes, sorted.
//
// Description:
//
//	Covers subclasses, implementing classes, sub-interfaces, and their
//	implementors. The relation is reflexive: the result always contains
//	name itself. Unknown types return nil.
//
// Thread Safety:
//
//	Safe for concurrent use. The result must not be mutated.
func (h *Hierarchy) SubtypesOf(name string) []string {
	if _, ok := h.classes[name]; !ok {
		return nil
	}

	h.mu.RLock()
	cached, ok := h.subtypes[name]
	h.mu.RUnlock()
	if ok {
		return cached
	}

	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, sub := range h.directSubs[next] {
			if !seen[sub] {
				seen[sub] = true
				queue = append(queue, sub)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)

	h.mu.Lock()
	h.subtypes[name] = out
	h.mu.Unlock()
	return out
}
