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
	"strings"

	"github.com/AleutianAI/callscope/services/callscope/model"
	sitter "github.com/smacker/go-tree-sitter"
)

// javaLang lists the java.lang types sources use without an import.
var javaLang = map[string]bool{
	"Object": true, "String": true, "StringBuilder": true, "StringBuffer": true,
	"System": true, "Math": true, "StrictMath": true, "Integer": true, "Long": true,
	"Double": true, "Float": true, "Short": true, "Byte": true, "Boolean": true,
	"Character": true, "Number": true, "Void": true, "Class": true, "Enum": true,
	"Record": true, "Thread": true, "ThreadLocal": true, "Runnable": true,
	"Runtime": true, "Process": true, "Iterable": true, "Comparable": true,
	"CharSequence": true, "AutoCloseable": true, "Cloneable": true,
	"Throwable": true, "Exception": true, "Error": true, "RuntimeException": true,
	"IllegalArgumentException": true, "IllegalStateException": true,
	"NullPointerException": true, "UnsupportedOperationException": true,
	"IndexOutOfBoundsException": true, "ArithmeticException": true,
	"ClassCastException": true, "InterruptedException": true,
	"CloneNotSupportedException": true, "StackOverflowError": true,
	"OutOfMemoryError": true, "AssertionError": true, "Override": true,
	"Deprecated": true, "SuppressWarnings": true, "FunctionalInterface": true,
	"SafeVarargs": true,
}

// objectMethods are inherited by every class from java.lang.Object.
var objectMethods = map[string]bool{
	"toString": true, "equals": true, "hashCode": true, "getClass": true,
	"clone": true, "finalize": true, "notify": true, "notifyAll": true, "wait": true,
}

var primitives = map[string]bool{
	"int": true, "long": true, "short": true, "byte": true, "char": true,
	"float": true, "double": true, "boolean": true, "void": true,
}

// =============================================================================
// Declaration Index
// =============================================================================

// unit is one parsed file.
type unit struct {
	path string
	src  []byte
	tree *sitter.Tree

	pkg             string
	imports         map[string]string // simple name -> qualified name
	wildcards       []string          // on-demand import packages
	staticImports   map[string]string // member name -> qualified class
	staticWildcards []string
}

type fieldInfo struct {
	name    string
	typeRaw string
	typ     string
	static  bool
}

type methodInfo struct {
	owner      *classInfo
	name       string
	kind       model.MethodKind
	abstract   bool
	public     bool
	variadic   bool
	paramNames []string
	paramRaw   []string
	paramTypes []string
	retRaw     string
	ret        string
	typeParams map[string]bool
	sig        model.MethodSignature
	node       *sitter.Node
	body       *sitter.Node
	line       int

	// synthetic constructors have no source node.
	synthetic bool
}

func (m *methodInfo) arityMatches(n int) bool {
	if m.variadic {
		return n >= len(m.paramRaw)-1
	}
	return n == len(m.paramRaw)
}

type classInfo struct {
	name   string
	simple string
	unit   *unit
	outer  *classInfo
	node   *sitter.Node
	line   int

	isInterface bool
	isAbstract  bool
	isEnum      bool
	typeParams  map[string]bool

	superRaw   string
	ifaceRaw   []string
	super      string
	interfaces []string

	// opaque is set when a supertype lives outside the model. Methods the
	// model cannot find on such a class may come from the library.
	opaque bool

	fields        map[string]*fieldInfo
	fieldOrder    []*fieldInfo
	methods       []*methodInfo
	ctors         []*methodInfo
	staticInits   []*sitter.Node
	instanceInits []*sitter.Node
	enumConsts    []*sitter.Node
}

// state carries one conversion.
type state struct {
	opts    Options
	classes map[string]*classInfo
	order   []*classInfo
	stats   Stats
	skipped []SkippedCall
}

func newState(opts Options) *state {
	return &state{opts: opts, classes: make(map[string]*classInfo)}
}

func (s *state) external(name string) bool {
	if _, ok := s.classes[name]; ok {
		return false
	}
	for _, p := range s.opts.ExternalPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// =============================================================================
// Pass 1: Declarations
// =============================================================================

func (s *state) declareUnit(u *unit) {
	u.imports = make(map[string]string)
	u.staticImports = make(map[string]string)
	root := u.tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "package_declaration":
			if name := firstNamedOf(n, "scoped_identifier", "identifier"); name != nil {
				u.pkg = name.Content(u.src)
			}
		case "import_declaration":
			s.declareImport(u, n)
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			s.declareClass(u, n, nil)
		}
	}
}

func (s *state) declareImport(u *unit, n *sitter.Node) {
	var static, wildcard bool
	for i := 0; i < int(n.ChildCount()); i++ {
		switch n.Child(i).Type() {
		case "static":
			static = true
		case "asterisk":
			wildcard = true
		}
	}
	nameNode := firstNamedOf(n, "scoped_identifier", "identifier")
	if nameNode == nil {
		return
	}
	path := nameNode.Content(u.src)
	switch {
	case static && wildcard:
		u.staticWildcards = append(u.staticWildcards, path)
	case static:
		if i := strings.LastIndexByte(path, '.'); i > 0 {
			u.staticImports[path[i+1:]] = path[:i]
		}
	case wildcard:
		u.wildcards = append(u.wildcards, path)
	default:
		u.imports[lastSegment(path)] = path
	}
}

func (s *state) declareClass(u *unit, n *sitter.Node, outer *classInfo) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	simple := nameNode.Content(u.src)
	name := simple
	switch {
	case outer != nil:
		name = outer.name + "." + simple
	case u.pkg != "":
		name = u.pkg + "." + simple
	}
	if _, dup := s.classes[name]; dup {
		return
	}

	mods := modifiers(n)
	ci := &classInfo{
		name:       name,
		simple:     simple,
		unit:       u,
		outer:      outer,
		node:       n,
		line:       lineOf(n),
		isAbstract: mods["abstract"],
		typeParams: typeParameters(n.ChildByFieldName("type_parameters"), u.src),
		fields:     make(map[string]*fieldInfo),
	}

	switch n.Type() {
	case "interface_declaration":
		ci.isInterface = true
		if ext := firstNamedOf(n, "extends_interfaces"); ext != nil {
			ci.ifaceRaw = typeList(ext, u.src)
		}
	case "class_declaration":
		if sup := n.ChildByFieldName("superclass"); sup != nil && sup.NamedChildCount() > 0 {
			ci.superRaw = typeText(sup.NamedChild(0), u.src)
		}
		if ifs := n.ChildByFieldName("interfaces"); ifs != nil {
			ci.ifaceRaw = typeList(ifs, u.src)
		}
	case "enum_declaration":
		ci.isEnum = true
		ci.opaque = true
		if ifs := n.ChildByFieldName("interfaces"); ifs != nil {
			ci.ifaceRaw = typeList(ifs, u.src)
		}
	case "record_declaration":
		ci.opaque = true
		if ifs := n.ChildByFieldName("interfaces"); ifs != nil {
			ci.ifaceRaw = typeList(ifs, u.src)
		}
		s.declareRecordComponents(ci, n.ChildByFieldName("parameters"))
	}

	s.classes[name] = ci
	s.order = append(s.order, ci)
	if body := n.ChildByFieldName("body"); body != nil {
		s.declareMembers(ci, body)
	}
}

// declareRecordComponents adds a field, an accessor and the canonical
// constructor for each record component.
func (s *state) declareRecordComponents(ci *classInfo, params *sitter.Node) {
	if params == nil {
		return
	}
	names, raws, variadic := formalParameters(params, ci.unit.src)
	for i, name := range names {
		f := &fieldInfo{name: name, typeRaw: raws[i]}
		ci.fields[name] = f
		ci.fieldOrder = append(ci.fieldOrder, f)
		ci.methods = append(ci.methods, &methodInfo{
			owner: ci, name: name, kind: model.MethodVirtual, public: true,
			retRaw: raws[i], line: ci.line, synthetic: true,
		})
	}
	ci.ctors = append(ci.ctors, &methodInfo{
		owner: ci, name: model.ConstructorName, kind: model.MethodConstructor,
		paramNames: names, paramRaw: raws, variadic: variadic,
		retRaw: model.VoidType, line: ci.line, synthetic: true,
	})
}

func (s *state) declareMembers(ci *classInfo, body *sitter.Node) {
	src := ci.unit.src
	for i := 0; i < int(body.NamedChildCount()); i++ {
		n := body.NamedChild(i)
		switch n.Type() {
		case "enum_constant":
			ci.enumConsts = append(ci.enumConsts, n)
		case "enum_body_declarations":
			s.declareMembers(ci, n)
		case "field_declaration", "constant_declaration":
			static := ci.isInterface || modifiers(n)["static"]
			raw := typeText(n.ChildByFieldName("type"), src)
			for j := 0; j < int(n.NamedChildCount()); j++ {
				d := n.NamedChild(j)
				if d.Type() != "variable_declarator" {
					continue
				}
				name := d.ChildByFieldName("name")
				if name == nil {
					continue
				}
				f := &fieldInfo{name: name.Content(src), typeRaw: raw + dims(d.ChildByFieldName("dimensions"), src), static: static}
				ci.fields[f.name] = f
				ci.fieldOrder = append(ci.fieldOrder, f)
				if d.ChildByFieldName("value") != nil {
					if static {
						ci.staticInits = append(ci.staticInits, d)
					} else {
						ci.instanceInits = append(ci.instanceInits, d)
					}
				}
			}
		case "method_declaration":
			ci.methods = append(ci.methods, s.declareMethod(ci, n))
		case "constructor_declaration", "compact_constructor_declaration":
			m := s.declareMethod(ci, n)
			if n.Type() == "compact_constructor_declaration" && len(ci.ctors) > 0 && ci.ctors[0].synthetic {
				// The compact form supplies the canonical constructor's body.
				canon := ci.ctors[0]
				canon.node, canon.body, canon.synthetic, canon.line = n, m.body, false, m.line
				continue
			}
			ci.ctors = append(ci.ctors, m)
		case "static_initializer":
			if b := firstNamedOf(n, "block"); b != nil {
				ci.staticInits = append(ci.staticInits, b)
			}
		case "block":
			ci.instanceInits = append(ci.instanceInits, n)
		case "class_declaration", "interface_declaration", "enum_declaration", "record_declaration":
			s.declareClass(ci.unit, n, ci)
		}
	}
}

func (s *state) declareMethod(ci *classInfo, n *sitter.Node) *methodInfo {
	src := ci.unit.src
	mods := modifiers(n)
	m := &methodInfo{
		owner:      ci,
		node:       n,
		line:       lineOf(n),
		public:     mods["public"] || ci.isInterface,
		typeParams: typeParameters(n.ChildByFieldName("type_parameters"), src),
		body:       n.ChildByFieldName("body"),
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		m.paramNames, m.paramRaw, m.variadic = formalParameters(params, src)
	}

	switch n.Type() {
	case "constructor_declaration", "compact_constructor_declaration":
		m.name = model.ConstructorName
		m.kind = model.MethodConstructor
		m.retRaw = model.VoidType
		return m
	}

	if name := n.ChildByFieldName("name"); name != nil {
		m.name = name.Content(src)
	}
	m.retRaw = typeText(n.ChildByFieldName("type"), src) + dims(n.ChildByFieldName("dimensions"), src)
	switch {
	case mods["static"]:
		m.kind = model.MethodStatic
	default:
		m.kind = model.MethodVirtual
		m.abstract = m.body == nil
	}
	return m
}

// =============================================================================
// Linking
// =============================================================================

// link resolves type names now that every declaration is known, and
// synthesizes default constructors.
func (s *state) link() {
	for _, ci := range s.order {
		if ci.superRaw != "" {
			sup := s.resolveType(ci.superRaw, ci, nil)
			if s.external(sup) {
				ci.opaque = true
				s.stats.ExternalSupertypes++
			} else {
				ci.super = sup
			}
		}
		for _, raw := range ci.ifaceRaw {
			it := s.resolveType(raw, ci, nil)
			if s.external(it) {
				ci.opaque = true
				s.stats.ExternalSupertypes++
				continue
			}
			ci.interfaces = append(ci.interfaces, it)
		}
		for _, f := range ci.fieldOrder {
			f.typ = s.resolveType(f.typeRaw, ci, nil)
		}
		for _, m := range append(append([]*methodInfo(nil), ci.methods...), ci.ctors...) {
			s.linkMethod(m)
		}
	}

	// Default constructors need resolved supertypes, so they come second.
	done := make(map[*classInfo]bool)
	for _, ci := range s.order {
		s.synthesizeCtor(ci, done)
	}
}

// synthesizeCtor adds a no-argument constructor to a class without one when
// it has instance initializers or its superclass has a no-argument
// constructor to chain to. Superclasses are handled first.
func (s *state) synthesizeCtor(ci *classInfo, done map[*classInfo]bool) {
	if done[ci] {
		return
	}
	done[ci] = true
	if sup, ok := s.classes[ci.super]; ok {
		s.synthesizeCtor(sup, done)
	}
	if ci.isInterface || len(ci.ctors) > 0 {
		return
	}
	if len(ci.instanceInits) == 0 && s.implicitSuperCtor(ci) == nil {
		return
	}
	m := &methodInfo{
		owner: ci, name: model.ConstructorName, kind: model.MethodConstructor,
		public: true, retRaw: model.VoidType, line: ci.line, synthetic: true,
	}
	s.linkMethod(m)
	ci.ctors = append(ci.ctors, m)
}

func (s *state) linkMethod(m *methodInfo) {
	m.paramTypes = make([]string, len(m.paramRaw))
	sigParams := make([]string, len(m.paramRaw))
	for i, raw := range m.paramRaw {
		m.paramTypes[i] = s.resolveType(raw, m.owner, m.typeParams)
		sigParams[i] = sigType(raw)
	}
	m.ret = s.resolveType(m.retRaw, m.owner, m.typeParams)
	if m.kind == model.MethodConstructor {
		m.sig = model.ConstructorSig(sigParams...)
		return
	}
	m.sig = model.Sig(m.name, sigType(m.retRaw), sigParams...)
}

// implicitSuperCtor returns the no-argument constructor of ci's superclass.
func (s *state) implicitSuperCtor(ci *classInfo) *methodInfo {
	return s.findCtor(ci.super, 0)
}

// =============================================================================
// Type Resolution
// =============================================================================

// resolveType maps a source type name to a model type name. Primitives and
// arrays keep their shape. Names that resolve nowhere are returned as written
// so the engine can report them.
func (s *state) resolveType(raw string, from *classInfo, methodTypeParams map[string]bool) string {
	base, arr := splitArray(raw)
	if base == "" || primitives[base] || base == "var" {
		return raw
	}
	if methodTypeParams[base] {
		return "java.lang.Object" + arr
	}
	for c := from; c != nil; c = c.outer {
		if c.typeParams[base] {
			return "java.lang.Object" + arr
		}
	}
	if q := s.lookupClass(base, from); q != "" {
		return q + arr
	}
	return raw
}

// lookupClass finds the qualified name a simple or dotted name refers to
// from inside class from. It returns "" when nothing matches.
func (s *state) lookupClass(name string, from *classInfo) string {
	if dot := strings.IndexByte(name, '.'); dot > 0 {
		if _, ok := s.classes[name]; ok {
			return name
		}
		if head := s.lookupClass(name[:dot], from); head != "" {
			return head + name[dot:]
		}
		return ""
	}

	for c := from; c != nil; c = c.outer {
		if c.simple == name {
			return c.name
		}
		if _, ok := s.classes[c.name+"."+name]; ok {
			return c.name + "." + name
		}
	}
	if from == nil {
		if _, ok := s.classes[name]; ok {
			return name
		}
		return ""
	}

	u := from.unit
	if q, ok := u.imports[name]; ok {
		return q
	}
	local := name
	if u.pkg != "" {
		local = u.pkg + "." + name
	}
	if _, ok := s.classes[local]; ok {
		return local
	}
	for _, w := range u.wildcards {
		if _, ok := s.classes[w+"."+name]; ok {
			return w + "." + name
		}
	}
	if javaLang[name] {
		return "java.lang." + name
	}
	for _, w := range u.wildcards {
		if s.external(w + ".") {
			return w + "." + name
		}
	}
	return ""
}

// =============================================================================
// Method and Field Lookup
// =============================================================================

// findMethod returns the first method named name taking n arguments, looking
// at class, then its superclasses, then its interfaces. Exact arity wins over
// a variadic match within each class.
func (s *state) findMethod(class, name string, n int) *methodInfo {
	seen := make(map[string]bool)
	queue := []string{class}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		ci, ok := s.classes[cur]
		if !ok {
			continue
		}
		var variadic *methodInfo
		for _, m := range ci.methods {
			if m.name != name || !m.arityMatches(n) {
				continue
			}
			if !m.variadic {
				return m
			}
			if variadic == nil {
				variadic = m
			}
		}
		if variadic != nil {
			return variadic
		}
		if ci.super != "" {
			queue = append(queue, ci.super)
		}
		queue = append(queue, ci.interfaces...)
	}
	return nil
}

func (s *state) findCtor(class string, n int) *methodInfo {
	ci, ok := s.classes[class]
	if !ok {
		return nil
	}
	for _, m := range ci.ctors {
		if m.arityMatches(n) {
			return m
		}
	}
	return nil
}

func (s *state) findField(class, name string) *fieldInfo {
	for c := class; c != ""; {
		ci, ok := s.classes[c]
		if !ok {
			return nil
		}
		if f, ok := ci.fields[name]; ok {
			return f
		}
		c = ci.super
	}
	return nil
}

// opaque reports whether class or one of its ancestors has a library
// supertype.
func (s *state) opaque(class string) bool {
	seen := make(map[string]bool)
	var walk func(string) bool
	walk = func(c string) bool {
		if seen[c] {
			return false
		}
		seen[c] = true
		ci, ok := s.classes[c]
		if !ok {
			return false
		}
		if ci.opaque {
			return true
		}
		if ci.super != "" && walk(ci.super) {
			return true
		}
		for _, i := range ci.interfaces {
			if walk(i) {
				return true
			}
		}
		return false
	}
	return walk(class)
}

// =============================================================================
// Syntax Helpers
// =============================================================================

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func firstNamedOf(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

// modifiers returns the modifier keywords of a declaration.
func modifiers(n *sitter.Node) map[string]bool {
	out := make(map[string]bool)
	mods := firstNamedOf(n, "modifiers")
	if mods == nil {
		return out
	}
	for i := 0; i < int(mods.ChildCount()); i++ {
		c := mods.Child(i)
		if !c.IsNamed() {
			out[c.Type()] = true
		}
	}
	return out
}

func typeParameters(n *sitter.Node, src []byte) map[string]bool {
	if n == nil {
		return nil
	}
	out := make(map[string]bool)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		tp := n.NamedChild(i)
		if tp.Type() != "type_parameter" {
			continue
		}
		if id := firstNamedOf(tp, "type_identifier", "identifier"); id != nil {
			out[id.Content(src)] = true
		}
	}
	return out
}

// typeList returns the types named under a super_interfaces or
// extends_interfaces node.
func typeList(n *sitter.Node, src []byte) []string {
	list := firstNamedOf(n, "type_list")
	if list == nil {
		list = n
	}
	var out []string
	for i := 0; i < int(list.NamedChildCount()); i++ {
		if t := typeText(list.NamedChild(i), src); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// formalParameters returns parameter names and type texts. A trailing
// varargs parameter is reported as an array.
func formalParameters(n *sitter.Node, src []byte) (names, raws []string, variadic bool) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		switch p.Type() {
		case "formal_parameter":
			name := p.ChildByFieldName("name")
			if name == nil {
				continue
			}
			names = append(names, name.Content(src))
			raws = append(raws, typeText(p.ChildByFieldName("type"), src)+dims(p.ChildByFieldName("dimensions"), src))
		case "spread_parameter":
			var typ, name *sitter.Node
			for j := 0; j < int(p.NamedChildCount()); j++ {
				c := p.NamedChild(j)
				switch {
				case c.Type() == "modifiers":
				case c.Type() == "variable_declarator":
					name = c.ChildByFieldName("name")
				case c.Type() == "identifier" && typ != nil:
					name = c
				case typ == nil:
					typ = c
				}
			}
			if name == nil {
				continue
			}
			names = append(names, name.Content(src))
			raws = append(raws, typeText(typ, src)+"[]")
			variadic = true
		}
	}
	return names, raws, variadic
}

// typeText returns a type's erased source text: generic arguments and
// annotations removed, array dimensions kept.
func typeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "generic_type":
		if base := firstNamedOf(n, "type_identifier", "scoped_type_identifier"); base != nil {
			return typeText(base, src)
		}
	case "array_type":
		return typeText(n.ChildByFieldName("element"), src) + dims(n.ChildByFieldName("dimensions"), src)
	case "annotated_type":
		if c := n.NamedChildCount(); c > 0 {
			return typeText(n.NamedChild(int(c)-1), src)
		}
	}
	return stripGenerics(n.Content(src))
}

// dims renders a dimensions node as "[]" pairs.
func dims(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return strings.Repeat("[]", strings.Count(n.Content(src), "["))
}

func stripGenerics(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>':
			depth--
		case depth == 0 && r != ' ' && r != '\t' && r != '\n':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func splitArray(raw string) (base, arr string) {
	if i := strings.IndexByte(raw, '['); i >= 0 {
		return raw[:i], raw[i:]
	}
	return raw, ""
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// sigType is the type text used in method signatures: the simple name with
// array dimensions.
func sigType(raw string) string {
	base, arr := splitArray(raw)
	return lastSegment(base) + arr
}
