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
	"sort"

	"github.com/AleutianAI/callscope/services/callscope/model"
)

// ResolveMethod returns the implementation invoked when sig is dispatched on
// an object whose runtime type is exactly typeName.
//
// Description:
//
//	Walks the superclass chain starting at typeName. The first virtual
//	declaration of sig wins; if it is abstract the signature has no
//	implementation on this type (an abstract redeclaration shadows inherited
//	bodies). When no class in the chain declares sig, non-abstract interface
//	methods are tried in ancestor order.
//
// Inputs:
//
//	typeName - The runtime type.
//	sig - The signature being dispatched.
//
// Outputs:
//
//	*model.MethodDecl - The implementation.
//	bool - False if the type is unknown or has no implementation.
func (h *Hierarchy) ResolveMethod(typeName string, sig model.MethodSignature) (*model.MethodDecl, bool) {
	if _, ok := h.classes[typeName]; !ok {
		return nil, false
	}
	key := sig.Key()

	for c := typeName; c != ""; c = h.classes[c].Super {
		cls := h.classes[c]
		if cls.IsInterface {
			break
		}
		m := cls.Method(key)
		if m == nil || m.Kind != model.MethodVirtual {
			continue
		}
		if m.Abstract {
			return nil, false
		}
		return m, true
	}

	for _, anc := range h.ancestors[typeName] {
		cls := h.classes[anc]
		if !cls.IsInterface {
			continue
		}
		if m := cls.Method(key); m != nil && m.Kind == model.MethodVirtual && !m.Abstract {
			return m, true
		}
	}
	return nil, false
}

// LookupStatic returns the statically bound target of sig on typeName.
//
// Description:
//
//	Used for static calls, super calls, and constructors chained through a
//	superclass. Returns the first non-abstract declaration in the superclass
//	chain regardless of method kind, except static initializers, which are
//	never called explicitly.
func (h *Hierarchy) LookupStatic(typeName string, sig model.MethodSignature) (*model.MethodDecl, bool) {
	if _, ok := h.classes[typeName]; !ok {
		return nil, false
	}
	key := sig.Key()
	for c := typeName; c != ""; c = h.classes[c].Super {
		m := h.classes[c].Method(key)
		if m == nil || m.Kind == model.MethodStaticInit {
			continue
		}
		if m.Abstract {
			return nil, false
		}
		return m, true
	}
	return nil, false
}

// LookupConstructor returns the constructor with the given signature declared
// directly on typeName. Constructors are never inherited.
func (h *Hierarchy) LookupConstructor(typeName string, sig model.MethodSignature) (*model.MethodDecl, bool) {
	c, ok := h.classes[typeName]
	if !ok {
		return nil, false
	}
	m := c.Method(sig.Key())
	if m == nil || m.Kind != model.MethodConstructor {
		return nil, false
	}
	return m, true
}

// Declares reports whether typeName or any of its ancestors declares sig.
func (h *Hierarchy) Declares(typeName string, sig model.MethodSignature) bool {
	key := sig.Key()
	for _, anc := range h.ancestors[typeName] {
		if h.classes[anc].Method(key) != nil {
			return true
		}
	}
	return false
}

// DispatchTable maps every concrete-or-abstract class in SubtypesOf(declaring)
// to the implementation of sig it would execute.
//
// Description:
//
//	Interfaces are omitted because they have no instances. Types without an
//	implementation (abstract shadowing, missing declaration) are omitted.
//	Tables are cached per (declaring, signature).
//
// Outputs:
//
//	map[string]*model.MethodDecl - Type name to implementation. Must not be
//	mutated by callers. Empty for unknown types.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (h *Hierarchy) DispatchTable(declaring string, sig model.MethodSignature) map[string]*model.MethodDecl {
	key := dispatchKey{declaring: declaring, sig: sig.Key()}

	h.mu.RLock()
	table, ok := h.dispatch[key]
	h.mu.RUnlock()
	if ok {
		return table
	}

	table = make(map[string]*model.MethodDecl)
	for _, sub := range h.SubtypesOf(declaring) {
		if h.classes[sub].IsInterface {
			continue
		}
		if m, ok := h.ResolveMethod(sub, sig); ok {
			table[sub] = m
		}
	}

	h.mu.Lock()
	if existing, ok := h.dispatch[key]; ok {
		table = existing
	} else {
		h.dispatch[key] = table
	}
	h.mu.Unlock()
	return table
}

// ResolveOverrides returns, for every type reachable via SubtypesOf(declaring),
// the most specific implementation of sig, deduplicated and sorted by ID.
//
// Description:
//
//	This is the Class Hierarchy Analysis target set of a virtual call whose
//	static receiver type is declaring. The result must not be mutated.
func (h *Hierarchy) ResolveOverrides(declaring string, sig model.MethodSignature) []*model.MethodDecl {
	key := dispatchKey{declaring: declaring, sig: sig.Key()}

	h.mu.RLock()
	cached, ok := h.overrides[key]
	h.mu.RUnlock()
	if ok {
		return cached
	}

	seen := make(map[string]*model.MethodDecl)
	for _, m := range h.DispatchTable(declaring, sig) {
		seen[m.ID()] = m
	}
	out := make([]*model.MethodDecl, 0, len(seen))
	for _, m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })

	h.mu.Lock()
	h.overrides[key] = out
	h.mu.Unlock()
	return out
}
