// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package java

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/callscope/services/callscope/model"
	sitter "github.com/smacker/go-tree-sitter"
)

// Reasons recorded on SkippedCall.
const (
	reasonUntyped  = "receiver type unknown"
	reasonLibrary  = "inherited from library type"
	reasonNoObject = "java.lang.Object method"
)

// =============================================================================
// Pass 2: Bodies
// =============================================================================

// lower converts every declaration into the program model.
func (s *state) lower(ctx context.Context) (*model.InMemoryProgram, error) {
	prog := model.NewProgram()
	for _, ci := range s.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ct := s.lowerClass(ci)
		if err := prog.AddClass(ct); err != nil {
			return nil, fmt.Errorf("java: %s: %w", ci.unit.path, err)
		}
		s.stats.Classes++
		s.stats.Methods += len(ct.Methods)
		for _, m := range ct.Methods {
			s.stats.CallSites += len(m.CallSites())
			s.stats.Allocations += len(m.Allocations())
		}
		for _, m := range ci.methods {
			if isMain(m) {
				prog.AddEntryPoint(model.MethodID(ci.name, m.sig))
			}
		}
	}
	return prog, nil
}

// isMain matches public static void main(String[]) and its varargs form.
func isMain(m *methodInfo) bool {
	return m.name == "main" && m.public && m.kind == model.MethodStatic &&
		m.retRaw == model.VoidType && len(m.paramRaw) == 1 && sigType(m.paramRaw[0]) == "String[]"
}

func (s *state) lowerClass(ci *classInfo) *model.ClassType {
	ct := &model.ClassType{
		Name:        ci.name,
		Super:       ci.super,
		Interfaces:  ci.interfaces,
		IsInterface: ci.isInterface,
		Abstract:    ci.isAbstract,
		File:        ci.unit.path,
		Line:        ci.line,
	}
	for _, f := range ci.fieldOrder {
		ct.Fields = append(ct.Fields, model.FieldDecl{Name: f.name, Type: f.typ, Static: f.static})
	}

	seen := make(map[string]bool)
	add := func(m *model.MethodDecl) {
		key := m.Signature.Key()
		if seen[key] {
			return
		}
		seen[key] = true
		ct.Methods = append(ct.Methods, m)
	}

	if clinit := s.lowerStaticInit(ci); clinit != nil {
		add(clinit)
	}
	for _, m := range ci.ctors {
		add(s.lowerCtor(ci, m))
	}
	for _, m := range ci.methods {
		decl := &model.MethodDecl{Signature: m.sig, Kind: m.kind, Abstract: m.abstract, Line: m.line}
		if m.body != nil {
			l := s.newLowerer(ci, m)
			l.walk(m.body)
			decl.Body = l.body
		}
		add(decl)
	}
	return ct
}

// lowerStaticInit builds <clinit> from enum constants, static field
// initializers and static blocks in source order.
func (s *state) lowerStaticInit(ci *classInfo) *model.MethodDecl {
	if len(ci.enumConsts) == 0 && len(ci.staticInits) == 0 {
		return nil
	}
	l := s.newLowerer(ci, &methodInfo{owner: ci, name: model.StaticInitName, kind: model.MethodStaticInit})
	for _, c := range ci.enumConsts {
		args := c.ChildByFieldName("arguments")
		if args != nil {
			l.walk(args)
		}
		l.emitNew(ci.name, argCount(args), lineOf(c))
		if body := c.ChildByFieldName("body"); body != nil {
			l.walkAnonymous(body)
		}
	}
	for _, n := range ci.staticInits {
		l.walkInitializer(n)
	}
	m := model.StaticInit(l.body...)
	m.Line = ci.line
	return m
}

// lowerCtor builds a constructor body: the explicit or implicit this/super
// call, then instance initializers unless the constructor delegates to
// this(...), then the constructor's own statements.
func (s *state) lowerCtor(ci *classInfo, m *methodInfo) *model.MethodDecl {
	l := s.newLowerer(ci, m)

	var explicit *sitter.Node
	var rest []*sitter.Node
	if m.body != nil {
		for i := 0; i < int(m.body.NamedChildCount()); i++ {
			c := m.body.NamedChild(i)
			if explicit == nil && len(rest) == 0 && c.Type() == "explicit_constructor_invocation" {
				explicit = c
				continue
			}
			rest = append(rest, c)
		}
	}

	delegates := false
	if explicit != nil {
		delegates = l.ctorInvocation(explicit)
	} else if sup := s.implicitSuperCtor(ci); sup != nil {
		cs := model.StaticCall(sup.owner.name, sup.sig)
		cs.Line = m.line
		l.emit(cs)
	}
	if !delegates {
		for _, n := range ci.instanceInits {
			l.walkInitializer(n)
		}
	}
	for _, n := range rest {
		l.walk(n)
	}

	decl := &model.MethodDecl{Signature: m.sig, Kind: model.MethodConstructor, Body: l.body, Line: m.line}
	return decl
}

// =============================================================================
// Lowerer
// =============================================================================

// exprType is the inferred static type of an expression.
type exprType struct {
	name string

	// exact is set when the runtime type is known to be name.
	exact bool

	// static is set when the expression names a class rather than a value.
	static bool
}

// lowerer walks one method body, emitting instructions in evaluation order.
type lowerer struct {
	s      *state
	class  *classInfo
	method *methodInfo
	id     string
	locals map[string]string
	body   []model.Instruction
}

func (s *state) newLowerer(ci *classInfo, m *methodInfo) *lowerer {
	l := &lowerer{s: s, class: ci, method: m, locals: make(map[string]string)}
	if m.sig.Name == "" && m.kind == model.MethodStaticInit {
		l.id = model.MethodID(ci.name, model.StaticInitSig())
	} else {
		l.id = model.MethodID(ci.name, m.sig)
	}
	for i, name := range m.paramNames {
		if i < len(m.paramTypes) {
			l.locals[name] = m.paramTypes[i]
		}
	}
	return l
}

func (l *lowerer) src() []byte { return l.class.unit.src }

func (l *lowerer) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(l.src())
}

func (l *lowerer) resolve(raw string) string {
	return l.s.resolveType(raw, l.class, l.method.typeParams)
}

func (l *lowerer) emit(ins model.Instruction) {
	l.body = append(l.body, ins)
}

func (l *lowerer) skip(n *sitter.Node, reason string) {
	call := l.text(n)
	if i := strings.IndexByte(call, '\n'); i >= 0 {
		call = call[:i]
	}
	l.s.stats.SkippedCalls++
	l.s.skipped = append(l.s.skipped, SkippedCall{Method: l.id, Line: lineOf(n), Call: call, Reason: reason})
}

// walkInitializer lowers a field initializer or an initializer block.
func (l *lowerer) walkInitializer(n *sitter.Node) {
	if n.Type() == "variable_declarator" {
		if v := n.ChildByFieldName("value"); v != nil {
			l.walk(v)
		}
		return
	}
	l.walk(n)
}

func (l *lowerer) walk(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "method_invocation":
		l.call(n)
	case "object_creation_expression":
		l.newExpr(n)
	case "explicit_constructor_invocation":
		l.ctorInvocation(n)
	case "local_variable_declaration":
		l.localDecl(n)
	case "enhanced_for_statement":
		l.walk(n.ChildByFieldName("value"))
		name := l.text(n.ChildByFieldName("name"))
		raw := typeText(n.ChildByFieldName("type"), l.src())
		if raw == "var" {
			t, _ := l.typeOf(n.ChildByFieldName("value"))
			raw = strings.TrimSuffix(t.name, "[]")
			l.locals[name] = raw
		} else {
			l.locals[name] = l.resolve(raw)
		}
		l.walk(n.ChildByFieldName("body"))
	case "catch_formal_parameter":
		if ct := firstNamedOf(n, "catch_type"); ct != nil && ct.NamedChildCount() > 0 {
			l.locals[l.text(n.ChildByFieldName("name"))] = l.resolve(typeText(ct.NamedChild(0), l.src()))
		}
	case "resource":
		if t := n.ChildByFieldName("type"); t != nil {
			l.walk(n.ChildByFieldName("value"))
			l.locals[l.text(n.ChildByFieldName("name"))] = l.resolve(typeText(t, l.src()))
			return
		}
		l.walkChildren(n)
	case "lambda_expression":
		l.lambdaParams(n.ChildByFieldName("parameters"))
		l.walk(n.ChildByFieldName("body"))
	case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
		// Local type declarations are not part of the model.
	default:
		l.walkChildren(n)
	}
}

func (l *lowerer) walkChildren(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		l.walk(n.NamedChild(i))
	}
}

func (l *lowerer) localDecl(n *sitter.Node) {
	raw := typeText(n.ChildByFieldName("type"), l.src())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		value := d.ChildByFieldName("value")
		l.walk(value)
		name := l.text(d.ChildByFieldName("name"))
		if raw == "var" {
			t, ok := l.typeOf(value)
			if ok && !t.static {
				l.locals[name] = t.name
			} else {
				l.locals[name] = ""
			}
			continue
		}
		l.locals[name] = l.resolve(raw + dims(d.ChildByFieldName("dimensions"), l.src()))
	}
}

// lambdaParams shadows lambda parameters. Typed parameters keep their type;
// inferred ones are untyped.
func (l *lowerer) lambdaParams(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		l.locals[l.text(n)] = ""
	case "formal_parameters":
		names, raws, _ := formalParameters(n, l.src())
		for i, name := range names {
			l.locals[name] = l.resolve(raws[i])
		}
	default:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "identifier" {
				l.locals[l.text(c)] = ""
			}
		}
	}
}

// walkAnonymous folds an anonymous class body into the enclosing method.
func (l *lowerer) walkAnonymous(body *sitter.Node) {
	for i := 0; i < int(body.NamedChildCount()); i++ {
		m := body.NamedChild(i)
		switch m.Type() {
		case "method_declaration":
			if params := m.ChildByFieldName("parameters"); params != nil {
				names, raws, _ := formalParameters(params, l.src())
				for j, name := range names {
					l.locals[name] = l.resolve(raws[j])
				}
			}
			l.walk(m.ChildByFieldName("body"))
		case "field_declaration":
			for j := 0; j < int(m.NamedChildCount()); j++ {
				if d := m.NamedChild(j); d.Type() == "variable_declarator" {
					l.walkInitializer(d)
				}
			}
		case "block":
			l.walk(m)
		}
	}
}

// =============================================================================
// Calls and Allocations
// =============================================================================

func argCount(args *sitter.Node) int {
	if args == nil {
		return 0
	}
	n := 0
	for i := 0; i < int(args.NamedChildCount()); i++ {
		switch args.NamedChild(i).Type() {
		case "line_comment", "block_comment", "comment":
		default:
			n++
		}
	}
	return n
}

func placeholder(name string, n int) model.MethodSignature {
	params := make([]string, n)
	for i := range params {
		params[i] = "?"
	}
	return model.Sig(name, model.VoidType, params...)
}

func (l *lowerer) call(n *sitter.Node) {
	obj := n.ChildByFieldName("object")
	args := n.ChildByFieldName("arguments")
	if obj != nil {
		l.walk(obj)
	}
	l.walk(args)

	cs, _, reason := l.target(n)
	if cs == nil {
		l.skip(n, reason)
		return
	}
	cs.Line = lineOf(n)
	l.emit(cs)
}

// target resolves a method invocation to a call site and, when the callee is
// in the model, its declaration. A nil site comes with the skip reason.
func (l *lowerer) target(n *sitter.Node) (*model.CallSite, *methodInfo, string) {
	obj := n.ChildByFieldName("object")
	name := l.text(n.ChildByFieldName("name"))
	arity := argCount(n.ChildByFieldName("arguments"))

	if obj == nil {
		return l.unqualified(name, arity)
	}
	if obj.Type() == "super" {
		sup := l.class.super
		if sup == "" {
			if l.class.opaque {
				return nil, nil, reasonLibrary
			}
			return nil, nil, reasonNoObject
		}
		if m := l.s.findMethod(sup, name, arity); m != nil {
			return model.StaticCall(sup, m.sig), m, ""
		}
		return l.missing(sup, name, arity, model.CallStatic)
	}

	t, ok := l.typeOf(obj)
	if !ok {
		return nil, nil, reasonUntyped
	}
	base, arr := splitArray(t.name)
	if arr != "" || primitives[base] {
		return nil, nil, reasonUntyped
	}
	if _, known := l.s.classes[t.name]; !known {
		// Library or undefined receiver: the engine decides which.
		if t.static {
			return model.StaticCall(t.name, placeholder(name, arity)), nil, ""
		}
		return model.VirtualCall(t.name, placeholder(name, arity)), nil, ""
	}

	m := l.s.findMethod(t.name, name, arity)
	if m == nil {
		kind := model.CallVirtual
		if t.static {
			kind = model.CallStatic
		}
		return l.missing(t.name, name, arity, kind)
	}
	if t.static || m.kind == model.MethodStatic {
		return model.StaticCall(t.name, m.sig), m, ""
	}
	cs := model.VirtualCall(t.name, m.sig)
	cs.ExactReceiver = t.exact
	return cs, m, ""
}

// unqualified resolves a bare name(args) call against the enclosing classes
// and static imports.
func (l *lowerer) unqualified(name string, arity int) (*model.CallSite, *methodInfo, string) {
	for c := l.class; c != nil; c = c.outer {
		m := l.s.findMethod(c.name, name, arity)
		if m == nil {
			if l.s.opaque(c.name) {
				return nil, nil, reasonLibrary
			}
			continue
		}
		recv := c.name
		if c == l.class {
			recv = ""
		}
		if m.kind == model.MethodStatic {
			return model.StaticCall(recv, m.sig), m, ""
		}
		return model.VirtualCall(recv, m.sig), m, ""
	}

	u := l.class.unit
	if cls, ok := u.staticImports[name]; ok {
		if m := l.s.findMethod(cls, name, arity); m != nil {
			return model.StaticCall(cls, m.sig), m, ""
		}
		return model.StaticCall(cls, placeholder(name, arity)), nil, ""
	}
	for _, cls := range u.staticWildcards {
		if m := l.s.findMethod(cls, name, arity); m != nil {
			return model.StaticCall(cls, m.sig), m, ""
		}
	}
	if objectMethods[name] {
		return nil, nil, reasonNoObject
	}
	return model.VirtualCall("", placeholder(name, arity)), nil, ""
}

// missing handles a call to a method the model class does not declare.
func (l *lowerer) missing(class, name string, arity int, kind model.CallKind) (*model.CallSite, *methodInfo, string) {
	if objectMethods[name] {
		return nil, nil, reasonNoObject
	}
	if l.s.opaque(class) {
		return nil, nil, reasonLibrary
	}
	return &model.CallSite{Receiver: class, Target: placeholder(name, arity), Kind: kind}, nil, ""
}

func (l *lowerer) newExpr(n *sitter.Node) {
	args := n.ChildByFieldName("arguments")
	l.walk(args)

	typ := l.resolve(typeText(n.ChildByFieldName("type"), l.src()))
	anon := firstNamedOf(n, "class_body")
	if anon != nil {
		l.walkAnonymous(anon)
		if ci, ok := l.s.classes[typ]; ok && (ci.isInterface || ci.isAbstract) {
			return
		}
	}
	if typ == "" {
		// Malformed source; tree-sitter gave the expression no type.
		return
	}
	l.emitNew(typ, argCount(args), lineOf(n))
}

// emitNew emits an allocation and, when typ declares constructors, the
// constructor call matching the argument count.
func (l *lowerer) emitNew(typ string, arity, line int) {
	a := model.Alloc(typ)
	a.Line = line
	l.emit(a)

	ci, ok := l.s.classes[typ]
	if !ok || len(ci.ctors) == 0 {
		return
	}
	var cs *model.CallSite
	if m := l.s.findCtor(typ, arity); m != nil {
		cs = model.ConstructorCall(typ, m.sig.Params...)
	} else {
		cs = model.ConstructorCall(typ, placeholder("", arity).Params...)
	}
	cs.Line = line
	l.emit(cs)
}

// ctorInvocation lowers this(...) or super(...). It reports whether the call
// delegates to another constructor of the same class.
func (l *lowerer) ctorInvocation(n *sitter.Node) bool {
	args := n.ChildByFieldName("arguments")
	l.walk(args)
	arity := argCount(args)

	ctor := n.ChildByFieldName("constructor")
	this := ctor != nil && ctor.Type() == "this"
	target := l.class.super
	if this {
		target = l.class.name
	}
	if target == "" {
		return this
	}
	if m := l.s.findCtor(target, arity); m != nil {
		cs := model.StaticCall(target, m.sig)
		cs.Line = lineOf(n)
		l.emit(cs)
	} else if !l.s.opaque(target) {
		cs := model.StaticCall(target, model.ConstructorSig(placeholder("", arity).Params...))
		cs.Line = lineOf(n)
		l.emit(cs)
	}
	return this
}

// =============================================================================
// Receiver Typing
// =============================================================================

// typeOf infers the static type of an expression.
func (l *lowerer) typeOf(n *sitter.Node) (exprType, bool) {
	if n == nil {
		return exprType{}, false
	}
	switch n.Type() {
	case "identifier":
		return l.identType(l.text(n))

	case "this":
		return exprType{name: l.class.name}, true

	case "field_access":
		return l.fieldAccessType(n)

	case "method_invocation":
		_, m, _ := l.target(n)
		if m == nil || m.ret == "" || m.ret == model.VoidType {
			return exprType{}, false
		}
		return exprType{name: m.ret}, true

	case "object_creation_expression":
		typ := l.resolve(typeText(n.ChildByFieldName("type"), l.src()))
		return exprType{name: typ, exact: firstNamedOf(n, "class_body") == nil}, true

	case "cast_expression":
		return exprType{name: l.resolve(typeText(n.ChildByFieldName("type"), l.src()))}, true

	case "parenthesized_expression":
		if n.NamedChildCount() > 0 {
			return l.typeOf(n.NamedChild(0))
		}

	case "string_literal":
		return exprType{name: "java.lang.String", exact: true}, true

	case "array_access":
		t, ok := l.typeOf(n.ChildByFieldName("array"))
		if ok && strings.HasSuffix(t.name, "[]") {
			return exprType{name: strings.TrimSuffix(t.name, "[]")}, true
		}

	case "scoped_identifier", "scoped_type_identifier", "type_identifier":
		if q := l.s.lookupClass(stripGenerics(l.text(n)), l.class); q != "" {
			return exprType{name: q, static: true}, true
		}
	}
	return exprType{}, false
}

// identType types a bare identifier: local, field, then class name.
func (l *lowerer) identType(name string) (exprType, bool) {
	if t, ok := l.locals[name]; ok {
		return exprType{name: t}, t != ""
	}
	for c := l.class; c != nil; c = c.outer {
		if f := l.s.findField(c.name, name); f != nil {
			return exprType{name: f.typ}, f.typ != ""
		}
	}
	if q := l.s.lookupClass(name, l.class); q != "" {
		return exprType{name: q, static: true}, true
	}
	if isTypeName(name) {
		// An undeclared class; the engine reports it.
		return exprType{name: name, static: true}, true
	}
	return exprType{}, false
}

// fieldAccessType types obj.field, including qualified class names.
func (l *lowerer) fieldAccessType(n *sitter.Node) (exprType, bool) {
	obj := n.ChildByFieldName("object")
	field := l.text(n.ChildByFieldName("field"))

	if obj != nil && obj.Type() == "super" {
		if f := l.s.findField(l.class.super, field); f != nil {
			return exprType{name: f.typ}, f.typ != ""
		}
		return exprType{}, false
	}

	ot, ok := l.typeOf(obj)
	if !ok {
		// a.b.C where a.b is a package.
		if q := l.s.lookupClass(l.text(n), l.class); q != "" {
			return exprType{name: q, static: true}, true
		}
		return exprType{}, false
	}
	if f := l.s.findField(ot.name, field); f != nil {
		return exprType{name: f.typ}, f.typ != ""
	}
	if ot.static {
		nested := ot.name + "." + field
		if _, ok := l.s.classes[nested]; ok {
			return exprType{name: nested, static: true}, true
		}
	}
	return exprType{}, false
}

// isTypeName reports whether an identifier follows the class naming
// convention and is not an all-caps constant.
func isTypeName(name string) bool {
	if name == "" || name[0] < 'A' || name[0] > 'Z' {
		return false
	}
	return strings.ToUpper(name) != name || len(name) == 1
}
