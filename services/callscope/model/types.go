// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the program model consumed by the call graph engine.
//
// A program model is a set of classes and interfaces, each declaring methods
// whose bodies are reduced to the two instructions the engine cares about:
// call sites and allocation sites. Frontends (model files, Java sources, Go
// packages) produce an InMemoryProgram; the engine reads it through the
// Program interface and never mutates it.
package model

import (
	"fmt"
	"strings"
)

// Reserved method names for constructors and static initializers.
const (
	ConstructorName = "<init>"
	StaticInitName  = "<clinit>"
	VoidType        = "void"
)

// CallKind determines how a call site is resolved.
type CallKind int

const (
	// CallStatic is a statically bound call: static methods, super calls,
	// private helpers. Exactly one target.
	CallStatic CallKind = iota

	// CallVirtual is dispatched on the runtime type of the receiver.
	CallVirtual

	// CallConstructor invokes the constructor of the receiver type and
	// instantiates it.
	CallConstructor
)

var callKindNames = map[CallKind]string{
	CallStatic:      "static",
	CallVirtual:     "virtual",
	CallConstructor: "constructor",
}

// String returns the lowercase name of the call kind.
func (k CallKind) String() string {
	if name, ok := callKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CallKind(%d)", int(k))
}

// ParseCallKind converts a name produced by String back into a CallKind.
func ParseCallKind(s string) (CallKind, error) {
	for k, name := range callKindNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown call kind %q", ErrInvalidProgram, s)
}

// MethodKind classifies a method declaration.
type MethodKind int

const (
	// MethodVirtual is an instance method that participates in overriding.
	MethodVirtual MethodKind = iota

	// MethodStatic is bound at compile time and never overridden.
	MethodStatic

	// MethodConstructor is an instance initializer named <init>.
	MethodConstructor

	// MethodStaticInit is the class initializer <clinit>(), run when the class
	// is first touched.
	MethodStaticInit
)

var methodKindNames = map[MethodKind]string{
	MethodVirtual:     "virtual",
	MethodStatic:      "static",
	MethodConstructor: "constructor",
	MethodStaticInit:  "static_init",
}

// String returns the lowercase name of the method kind.
func (k MethodKind) String() string {
	if name, ok := methodKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("MethodKind(%d)", int(k))
}

// ParseMethodKind converts a name produced by String back into a MethodKind.
func ParseMethodKind(s string) (MethodKind, error) {
	for k, name := range methodKindNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown method kind %q", ErrInvalidProgram, s)
}

// MethodSignature identifies a method within a class hierarchy.
//
// Description:
//
//	Two methods in related classes with equal signatures override one
//	another. The signature is name plus ordered parameter types plus return
//	type, rendered by Key as "name(p1,p2):ret".
//
// Thread Safety: MethodSignature is a value type; copies are independent
// as long as Params is not mutated after construction.
type MethodSignature struct {
	Name   string   `json:"name" yaml:"name"`
	Params []string `json:"params" yaml:"params"`
	Return string   `json:"return" yaml:"return"`
}

// Key returns the canonical "name(p1,p2):ret" form used for lookups.
func (s MethodSignature) Key() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	b.WriteString(strings.Join(s.Params, ","))
	b.WriteString("):")
	if s.Return == "" {
		b.WriteString(VoidType)
	} else {
		b.WriteString(s.Return)
	}
	return b.String()
}

// String implements fmt.Stringer.
func (s MethodSignature) String() string {
	return s.Key()
}

// Equal reports whether two signatures have the same key.
func (s MethodSignature) Equal(other MethodSignature) bool {
	return s.Key() == other.Key()
}

// ParseSignature parses "name(p1,p2):ret" into a MethodSignature.
//
// Description:
//
//	The return type is optional and defaults to void. Whitespace around
//	parameter types is trimmed. Nested parentheses are not supported.
//
// Inputs:
//
//	s - The signature text, e.g. "foo(int,String):void" or "bar()".
//
// Outputs:
//
//	MethodSignature - The parsed signature.
//	error - ErrInvalidSignature when the text is malformed.
func ParseSignature(s string) (MethodSignature, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	closeIdx := strings.LastIndexByte(s, ')')
	if open <= 0 || closeIdx < open {
		return MethodSignature{}, fmt.Errorf("%w: %q", ErrInvalidSignature, s)
	}

	sig := MethodSignature{
		Name:   strings.TrimSpace(s[:open]),
		Params: []string{},
		Return: VoidType,
	}
	if inner := strings.TrimSpace(s[open+1 : closeIdx]); inner != "" {
		for _, p := range strings.Split(inner, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				return MethodSignature{}, fmt.Errorf("%w: empty parameter in %q", ErrInvalidSignature, s)
			}
			sig.Params = append(sig.Params, p)
		}
	}

	rest := strings.TrimSpace(s[closeIdx+1:])
	if rest != "" {
		if !strings.HasPrefix(rest, ":") {
			return MethodSignature{}, fmt.Errorf("%w: unexpected %q after parameters", ErrInvalidSignature, rest)
		}
		ret := strings.TrimSpace(rest[1:])
		if ret == "" {
			return MethodSignature{}, fmt.Errorf("%w: empty return type in %q", ErrInvalidSignature, s)
		}
		sig.Return = ret
	}
	if strings.ContainsAny(sig.Name, "(): ") {
		return MethodSignature{}, fmt.Errorf("%w: bad method name %q", ErrInvalidSignature, sig.Name)
	}
	return sig, nil
}

// MethodID builds the identifier "Owner:name(params):ret" for a method.
func MethodID(owner string, sig MethodSignature) string {
	return owner + ":" + sig.Key()
}

// SplitMethodID splits a method ID into its owner and signature parts.
func SplitMethodID(id string) (owner string, sig MethodSignature, err error) {
	open := strings.IndexByte(id, '(')
	if open < 0 {
		return "", MethodSignature{}, fmt.Errorf("%w: method id %q", ErrInvalidSignature, id)
	}
	sep := strings.LastIndexByte(id[:open], ':')
	if sep <= 0 {
		return "", MethodSignature{}, fmt.Errorf("%w: method id %q has no owner", ErrInvalidSignature, id)
	}
	sig, err = ParseSignature(id[sep+1:])
	if err != nil {
		return "", MethodSignature{}, err
	}
	return id[:sep], sig, nil
}
