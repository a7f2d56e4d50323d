// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// FieldDecl is a field declared on a class.
type FieldDecl struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Static bool   `json:"static,omitempty" yaml:"static,omitempty"`
}

// ClassType is a class or interface in the program model.
//
// Description:
//
//	Super names the single supertype (empty for roots). Interfaces lists the
//	implemented (for classes) or extended (for interfaces) interface names.
//	A ClassType is owned by the program it was added to and must not be
//	mutated afterwards.
type ClassType struct {
	Name        string        `json:"name"`
	Super       string        `json:"super,omitempty"`
	Interfaces  []string      `json:"interfaces,omitempty"`
	IsInterface bool          `json:"is_interface,omitempty"`
	Abstract    bool          `json:"abstract,omitempty"`
	Methods     []*MethodDecl `json:"methods"`
	Fields      []FieldDecl   `json:"fields,omitempty"`
	File        string        `json:"file,omitempty"`
	Line        int           `json:"line,omitempty"`
}

// Method returns the method declared directly on the class with the given
// signature key, or nil.
func (c *ClassType) Method(sigKey string) *MethodDecl {
	for _, m := range c.Methods {
		if m.Signature.Key() == sigKey {
			return m
		}
	}
	return nil
}

// MethodsNamed returns the declared methods with the given name, in
// declaration order.
func (c *ClassType) MethodsNamed(name string) []*MethodDecl {
	var out []*MethodDecl
	for _, m := range c.Methods {
		if m.Signature.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// Field returns the declared field with the given name.
func (c *ClassType) Field(name string) (FieldDecl, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDecl{}, false
}

// StaticInit returns the class initializer, or nil.
func (c *ClassType) StaticInit() *MethodDecl {
	for _, m := range c.Methods {
		if m.Kind == MethodStaticInit {
			return m
		}
	}
	return nil
}

// Instantiable reports whether instances of the class may exist.
func (c *ClassType) Instantiable() bool {
	return !c.IsInterface && !c.Abstract
}

// MethodDecl is a method declared on a ClassType.
type MethodDecl struct {
	Owner     string          `json:"owner"`
	Signature MethodSignature `json:"signature"`
	Kind      MethodKind      `json:"kind"`
	Abstract  bool            `json:"abstract,omitempty"`
	Body      []Instruction   `json:"-"`
	Line      int             `json:"line,omitempty"`
}

// ID returns "Owner:name(params):ret".
func (m *MethodDecl) ID() string {
	return MethodID(m.Owner, m.Signature)
}

// String implements fmt.Stringer.
func (m *MethodDecl) String() string {
	return m.ID()
}

// Size is the method's weight for size-aware ranking: one for the
// declaration plus one per body instruction.
func (m *MethodDecl) Size() int {
	return len(m.Body) + 1
}

// CallSites returns the call sites of the body in order.
func (m *MethodDecl) CallSites() []*CallSite {
	var out []*CallSite
	for _, ins := range m.Body {
		if cs, ok := ins.(*CallSite); ok {
			out = append(out, cs)
		}
	}
	return out
}

// Allocations returns the allocation sites of the body in order.
func (m *MethodDecl) Allocations() []*AllocationSite {
	var out []*AllocationSite
	for _, ins := range m.Body {
		if as, ok := ins.(*AllocationSite); ok {
			out = append(out, as)
		}
	}
	return out
}

// Instruction is a body element relevant to call graph construction.
// It is implemented only by *CallSite and *AllocationSite.
type Instruction interface {
	// SiteID returns the program-unique identifier of the instruction.
	SiteID() string
	isInstruction()
}

// CallSite is an invocation inside a method body.
//
// Description:
//
//	Receiver is the static receiver type. It may be empty for static and
//	unqualified calls, in which case the caller's class is used.
//	ExactReceiver marks a receiver whose runtime type is exactly Receiver
//	(e.g. a fresh "new A().foo()"), making virtual dispatch monomorphic.
type CallSite struct {
	ID            string          `json:"id"`
	Caller        string          `json:"caller"`
	Receiver      string          `json:"receiver,omitempty"`
	Target        MethodSignature `json:"target"`
	Kind          CallKind        `json:"kind"`
	ExactReceiver bool            `json:"exact_receiver,omitempty"`
	Line          int             `json:"line,omitempty"`
}

// SiteID implements Instruction.
func (c *CallSite) SiteID() string { return c.ID }

func (*CallSite) isInstruction() {}

// AllocationSite is an expression creating a new instance of Type.
type AllocationSite struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Type   string `json:"type"`
	Line   int    `json:"line,omitempty"`
}

// SiteID implements Instruction.
func (a *AllocationSite) SiteID() string { return a.ID }

func (*AllocationSite) isInstruction() {}

// Program is the read-only view of a program model used by the engine.
//
// Implementations must return classes in a deterministic order and must
// not mutate them while the engine is running.
type Program interface {
	// Classes returns every class and interface of the program.
	Classes() []*ClassType

	// Class returns the class with the given name.
	Class(name string) (*ClassType, bool)
}

// Validator is implemented by programs that can check their own structural
// rules. The engine validates such programs before building.
type Validator interface {
	Validate() error
}

// InMemoryProgram is the standard Program implementation.
//
// Description:
//
//	Classes are kept in insertion order. AddClass normalizes the class:
//	method owners, call site callers, allocation methods, and empty site IDs
//	("<methodID>#<n>") are filled in so frontends can build bodies without
//	tracking identity.
//
// Thread Safety:
//
//	Not safe for concurrent mutation. Once fully built it may be read
//	concurrently.
type InMemoryProgram struct {
	classes     map[string]*ClassType
	order       []string
	entryPoints []string
}

// NewProgram returns an empty program.
func NewProgram() *InMemoryProgram {
	return &InMemoryProgram{
		classes: make(map[string]*ClassType),
	}
}

// AddClass adds a class to the program.
//
// Outputs:
//
//	error - ErrDuplicateClass if the name is taken, ErrDuplicateMethod if the
//	class declares a signature twice, ErrInvalidProgram for an empty name.
func (p *InMemoryProgram) AddClass(c *ClassType) error {
	if c == nil || c.Name == "" {
		return fmt.Errorf("%w: class must have a name", ErrInvalidProgram)
	}
	if _, exists := p.classes[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.Name)
	}

	seen := make(map[string]bool, len(c.Methods))
	for _, m := range c.Methods {
		if m == nil {
			return fmt.Errorf("%w: nil method in %s", ErrInvalidProgram, c.Name)
		}
		m.Owner = c.Name
		key := m.Signature.Key()
		if seen[key] {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateMethod, c.Name, key)
		}
		seen[key] = true
		normalizeBody(m)
	}

	p.classes[c.Name] = c
	p.order = append(p.order, c.Name)
	return nil
}

// normalizeBody fills in ownership and IDs of a method's instructions.
func normalizeBody(m *MethodDecl) {
	id := m.ID()
	for i, ins := range m.Body {
		switch s := ins.(type) {
		case *CallSite:
			s.Caller = id
			if s.ID == "" {
				s.ID = id + "#" + strconv.Itoa(i)
			}
		case *AllocationSite:
			s.Method = id
			if s.ID == "" {
				s.ID = id + "#" + strconv.Itoa(i)
			}
		}
	}
}

// MustAddClass is AddClass for fixtures; it panics on error.
func (p *InMemoryProgram) MustAddClass(c *ClassType) *InMemoryProgram {
	if err := p.AddClass(c); err != nil {
		panic(err)
	}
	return p
}

// AddEntryPoint records an entry-point method ID. Duplicates are ignored.
func (p *InMemoryProgram) AddEntryPoint(methodID string) {
	for _, e := range p.entryPoints {
		if e == methodID {
			return
		}
	}
	p.entryPoints = append(p.entryPoints, methodID)
}

// EntryPoints returns the recorded entry points in insertion order.
func (p *InMemoryProgram) EntryPoints() []string {
	out := make([]string, len(p.entryPoints))
	copy(out, p.entryPoints)
	return out
}

// Classes implements Program.
func (p *InMemoryProgram) Classes() []*ClassType {
	out := make([]*ClassType, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.classes[name])
	}
	return out
}

// Class implements Program.
func (p *InMemoryProgram) Class(name string) (*ClassType, bool) {
	c, ok := p.classes[name]
	return c, ok
}

// ClassNames returns the sorted class names.
func (p *InMemoryProgram) ClassNames() []string {
	names := make([]string, len(p.order))
	copy(names, p.order)
	sort.Strings(names)
	return names
}

// MethodCount returns the number of declared methods.
func (p *InMemoryProgram) MethodCount() int {
	n := 0
	for _, c := range p.classes {
		n += len(c.Methods)
	}
	return n
}

// Validate checks structural rules that AddClass does not.
//
// Description:
//
//	Reports every violation, joined: empty method names, more than one
//	static initializer per class, static initializers with parameters,
//	constructors on interfaces, constructor calls with no receiver, and
//	allocations with no type. Hierarchy consistency (missing or cyclic
//	supertypes) is checked by the hierarchy package, not here.
//
// Outputs:
//
//	error - nil, or an error wrapping ErrInvalidProgram.
func (p *InMemoryProgram) Validate() error {
	var errs []error
	for _, name := range p.order {
		c := p.classes[name]
		inits := 0
		for _, m := range c.Methods {
			if m.Signature.Name == "" {
				errs = append(errs, fmt.Errorf("%w: %s declares a method with no name", ErrInvalidProgram, c.Name))
				continue
			}
			switch m.Kind {
			case MethodStaticInit:
				inits++
				if len(m.Signature.Params) > 0 {
					errs = append(errs, fmt.Errorf("%w: static initializer %s takes parameters", ErrInvalidProgram, m.ID()))
				}
			case MethodConstructor:
				if c.IsInterface {
					errs = append(errs, fmt.Errorf("%w: interface %s declares constructor %s", ErrInvalidProgram, c.Name, m.ID()))
				}
			}
			for _, ins := range m.Body {
				switch s := ins.(type) {
				case *CallSite:
					if s.Kind == CallConstructor && s.Receiver == "" {
						errs = append(errs, fmt.Errorf("%w: constructor call %s has no receiver", ErrInvalidProgram, s.ID))
					}
					if s.Target.Name == "" {
						errs = append(errs, fmt.Errorf("%w: call %s has no target", ErrInvalidProgram, s.ID))
					}
				case *AllocationSite:
					if s.Type == "" {
						errs = append(errs, fmt.Errorf("%w: allocation %s has no type", ErrInvalidProgram, s.ID))
					}
				}
			}
		}
		if inits > 1 {
			errs = append(errs, fmt.Errorf("%w: %s declares %d static initializers", ErrInvalidProgram, c.Name, inits))
		}
	}
	return errors.Join(errs...)
}
