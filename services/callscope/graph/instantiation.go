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
	"sort"
	"sync"
)

// InstantiationSet is the monotonically growing set of types proven to be
// instantiated by a reachable allocation.
//
// Description:
//
//	There is no removal operation. Add reports whether the type was new,
//	which drives the builder's change detection.
//
// Thread Safety:
//
//	Safe for concurrent use.
type InstantiationSet struct {
	mu    sync.RWMutex
	types map[string]struct{}
	order []string
}

// NewInstantiationSet returns an empty set.
func NewInstantiationSet() *InstantiationSet {
	return &InstantiationSet{types: make(map[string]struct{})}
}

// Add inserts typeName and returns true if it was not already present.
func (s *InstantiationSet) Add(typeName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.types[typeName]; ok {
		return false
	}
	s.types[typeName] = struct{}{}
	s.order = append(s.order, typeName)
	return true
}

// Contains reports whether typeName has been instantiated.
func (s *InstantiationSet) Contains(typeName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.types[typeName]
	return ok
}

// Len returns the number of instantiated types.
func (s *InstantiationSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.types)
}

// Types returns the instantiated types, sorted.
func (s *InstantiationSet) Types() []string {
	s.mu.RLock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Order returns the instantiated types in discovery order.
func (s *InstantiationSet) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
