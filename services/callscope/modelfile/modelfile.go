// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modelfile reads program models written as YAML documents.
//
// A document lists classes with their methods, and each method body is a
// sequence of "new" and "call" statements. JSON documents are accepted as
// YAML.
package modelfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/callscope/services/callscope/model"
	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds model documents read from disk.
const MaxFileSize = 64 << 20

// ErrInvalidModelFile wraps every document error.
var ErrInvalidModelFile = errors.New("modelfile: invalid model file")

// Document is the decoded form of a model file.
type Document struct {
	EntryPoints []string   `yaml:"entry_points" json:"entry_points"`
	Classes     []ClassDoc `yaml:"classes" json:"classes"`
}

// ClassDoc describes one class or interface.
type ClassDoc struct {
	Name       string            `yaml:"name" json:"name"`
	Super      string            `yaml:"super,omitempty" json:"super,omitempty"`
	Interfaces []string          `yaml:"interfaces,omitempty" json:"interfaces,omitempty"`
	Interface  bool              `yaml:"interface,omitempty" json:"interface,omitempty"`
	Abstract   bool              `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Fields     []model.FieldDecl `yaml:"fields,omitempty" json:"fields,omitempty"`
	Methods    []MethodDoc       `yaml:"methods,omitempty" json:"methods,omitempty"`
	File       string            `yaml:"file,omitempty" json:"file,omitempty"`
	Line       int               `yaml:"line,omitempty" json:"line,omitempty"`
}

// MethodDoc describes one method.
type MethodDoc struct {
	Name     string         `yaml:"name" json:"name"`
	Params   []string       `yaml:"params,omitempty" json:"params,omitempty"`
	Returns  string         `yaml:"returns,omitempty" json:"returns,omitempty"`
	Kind     string         `yaml:"kind,omitempty" json:"kind,omitempty"`
	Abstract bool           `yaml:"abstract,omitempty" json:"abstract,omitempty"`
	Line     int            `yaml:"line,omitempty" json:"line,omitempty"`
	Body     []StatementDoc `yaml:"body,omitempty" json:"body,omitempty"`
}

// StatementDoc is a "new" or a "call" statement. Exactly one of New and
// Call must be set.
type StatementDoc struct {
	ID   string `yaml:"id,omitempty" json:"id,omitempty"`
	Line int    `yaml:"line,omitempty" json:"line,omitempty"`

	// New allocates the named type. Args are the constructor parameter types.
	New  string   `yaml:"new,omitempty" json:"new,omitempty"`
	Args []string `yaml:"args,omitempty" json:"args,omitempty"`

	// Call names the target method. When Params is nil and Returns is
	// empty the signature is looked up by name on the receiver type.
	Call     string   `yaml:"call,omitempty" json:"call,omitempty"`
	Params   []string `yaml:"params,omitempty" json:"params,omitempty"`
	Returns  string   `yaml:"returns,omitempty" json:"returns,omitempty"`
	Receiver string   `yaml:"receiver,omitempty" json:"receiver,omitempty"`
	Kind     string   `yaml:"kind,omitempty" json:"kind,omitempty"`
	Exact    bool     `yaml:"exact,omitempty" json:"exact,omitempty"`
}

// Load reads and parses the model file at path.
func Load(path string) (*model.InMemoryProgram, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("modelfile: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds maximum size (%d > %d)", ErrInvalidModelFile, path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelfile: reading %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a model document and converts it into a program.
func Parse(data []byte) (*model.InMemoryProgram, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelFile, err)
	}
	return doc.Program()
}

// Program converts the document into a program model.
//
// Description:
//
//	Runs in two passes. The first collects every class and method
//	declaration. The second lowers statement bodies, which may refer to
//	classes declared later in the document: a "new" statement emits an
//	allocation followed by a constructor call when the allocated class
//	declares a constructor of matching arity, and an unqualified "call"
//	becomes a static call when the named method is static and a virtual
//	call otherwise.
//
// Outputs:
//
//	*model.InMemoryProgram - The program with the document's entry points.
//	error - ErrInvalidModelFile naming the offending position, or a model
//	error for duplicate classes or methods.
func (d *Document) Program() (*model.InMemoryProgram, error) {
	idx := newDeclIndex(d)

	p := model.NewProgram()
	for ci, cd := range d.Classes {
		pos := fmt.Sprintf("classes[%d]", ci)
		if cd.Name == "" {
			return nil, fmt.Errorf("%w: %s: class name is required", ErrInvalidModelFile, pos)
		}
		c := &model.ClassType{
			Name:        cd.Name,
			Super:       cd.Super,
			Interfaces:  cd.Interfaces,
			IsInterface: cd.Interface,
			Abstract:    cd.Abstract,
			Fields:      cd.Fields,
			File:        cd.File,
			Line:        cd.Line,
		}
		for mi, md := range cd.Methods {
			mpos := fmt.Sprintf("%s.methods[%d]", pos, mi)
			m, err := idx.method(md, mpos)
			if err != nil {
				return nil, err
			}
			for si, sd := range md.Body {
				ins, err := idx.lower(cd.Name, sd, fmt.Sprintf("%s.body[%d]", mpos, si))
				if err != nil {
					return nil, err
				}
				m.Body = append(m.Body, ins...)
			}
			c.Methods = append(c.Methods, m)
		}
		if err := p.AddClass(c); err != nil {
			return nil, fmt.Errorf("%s: %w", pos, err)
		}
	}
	for _, ep := range d.EntryPoints {
		p.AddEntryPoint(ep)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// declIndex is the first-pass view of the document's declarations.
type declIndex struct {
	classes map[string]*ClassDoc
}

func newDeclIndex(d *Document) *declIndex {
	idx := &declIndex{classes: make(map[string]*ClassDoc, len(d.Classes))}
	for i := range d.Classes {
		idx.classes[d.Classes[i].Name] = &d.Classes[i]
	}
	return idx
}

// method converts a declaration without its body.
func (x *declIndex) method(md MethodDoc, pos string) (*model.MethodDecl, error) {
	kind, err := methodKind(md)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidModelFile, pos, err)
	}
	name := md.Name
	ret := md.Returns
	switch kind {
	case model.MethodConstructor:
		name, ret = model.ConstructorName, model.VoidType
	case model.MethodStaticInit:
		if len(md.Params) > 0 {
			return nil, fmt.Errorf("%w: %s: static initializer takes no parameters", ErrInvalidModelFile, pos)
		}
		name, ret = model.StaticInitName, model.VoidType
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %s: method name is required", ErrInvalidModelFile, pos)
	}
	m := model.NewMethod(model.Sig(name, ret, md.Params...), kind)
	m.Abstract = md.Abstract
	m.Line = md.Line
	if m.Abstract && len(md.Body) > 0 {
		return nil, fmt.Errorf("%w: %s: abstract method %s has a body", ErrInvalidModelFile, pos, name)
	}
	return m, nil
}

func methodKind(md MethodDoc) (model.MethodKind, error) {
	if md.Kind != "" {
		return model.ParseMethodKind(md.Kind)
	}
	switch md.Name {
	case model.ConstructorName:
		return model.MethodConstructor, nil
	case model.StaticInitName:
		return model.MethodStaticInit, nil
	default:
		return model.MethodVirtual, nil
	}
}

// lower converts one statement into instructions.
func (x *declIndex) lower(owner string, sd StatementDoc, pos string) ([]model.Instruction, error) {
	switch {
	case sd.New != "" && sd.Call != "":
		return nil, fmt.Errorf("%w: %s: statement has both new and call", ErrInvalidModelFile, pos)
	case sd.New != "":
		return x.lowerNew(sd), nil
	case sd.Call != "":
		cs, err := x.lowerCall(owner, sd, pos)
		if err != nil {
			return nil, err
		}
		return []model.Instruction{cs}, nil
	default:
		return nil, fmt.Errorf("%w: %s: statement needs new or call", ErrInvalidModelFile, pos)
	}
}

func (x *declIndex) lowerNew(sd StatementDoc) []model.Instruction {
	alloc := &model.AllocationSite{Type: sd.New, Line: sd.Line}
	if sd.ID != "" {
		alloc.ID = sd.ID
	}
	out := []model.Instruction{alloc}

	cd, ok := x.classes[sd.New]
	if !ok {
		return out
	}
	var ctors []MethodDoc
	for _, md := range cd.Methods {
		if k, err := methodKind(md); err == nil && k == model.MethodConstructor {
			ctors = append(ctors, md)
		}
	}
	if len(ctors) == 0 {
		return out
	}

	target := model.ConstructorSig(sd.Args...)
	for _, c := range ctors {
		if len(c.Params) == len(sd.Args) {
			target = model.ConstructorSig(c.Params...)
			break
		}
	}
	call := &model.CallSite{Receiver: sd.New, Target: target, Kind: model.CallConstructor, Line: sd.Line}
	if sd.ID != "" {
		call.ID = sd.ID + ".init"
	}
	return append(out, call)
}

func (x *declIndex) lowerCall(owner string, sd StatementDoc, pos string) (*model.CallSite, error) {
	recv := sd.Receiver
	if recv == "" {
		recv = owner
	}

	target := model.Sig(sd.Call, sd.Returns, sd.Params...)
	var found *MethodDoc
	if sd.Params == nil && sd.Returns == "" {
		if md := x.lookupByName(recv, sd.Call); md != nil {
			found = md
			target = model.Sig(md.Name, md.Returns, md.Params...)
		}
	} else {
		found = x.lookupBySig(recv, target)
	}

	var kind model.CallKind
	switch {
	case sd.Kind != "":
		k, err := model.ParseCallKind(sd.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidModelFile, pos, err)
		}
		if k == model.CallConstructor {
			return nil, fmt.Errorf("%w: %s: use a new statement for constructors", ErrInvalidModelFile, pos)
		}
		kind = k
	case found != nil && isStatic(*found):
		kind = model.CallStatic
	default:
		kind = model.CallVirtual
	}

	cs := &model.CallSite{
		ID:            sd.ID,
		Receiver:      sd.Receiver,
		Target:        target,
		Kind:          kind,
		ExactReceiver: sd.Exact && kind == model.CallVirtual,
		Line:          sd.Line,
	}
	return cs, nil
}

func isStatic(md MethodDoc) bool {
	k, err := methodKind(md)
	return err == nil && k == model.MethodStatic
}

// lookupByName finds the first method called name on typ or its supertypes,
// walking the superclass chain before interfaces.
func (x *declIndex) lookupByName(typ, name string) *MethodDoc {
	return x.walk(typ, func(md *MethodDoc) bool { return md.Name == name })
}

func (x *declIndex) lookupBySig(typ string, sig model.MethodSignature) *MethodDoc {
	return x.walk(typ, func(md *MethodDoc) bool {
		return model.Sig(md.Name, md.Returns, md.Params...).Equal(sig)
	})
}

func (x *declIndex) walk(typ string, match func(*MethodDoc) bool) *MethodDoc {
	seen := make(map[string]bool)
	queue := []string{typ}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		cd, ok := x.classes[name]
		if !ok {
			continue
		}
		for i := range cd.Methods {
			if match(&cd.Methods[i]) {
				return &cd.Methods[i]
			}
		}
		if cd.Super != "" {
			queue = append([]string{cd.Super}, queue...)
		}
		queue = append(queue, cd.Interfaces...)
	}
	return nil
}
