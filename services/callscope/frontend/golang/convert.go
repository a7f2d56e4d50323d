// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package golang

import (
	"context"
	"fmt"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"github.com/AleutianAI/callscope/services/callscope/model"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// converter lowers one SSA program.
type converter struct {
	prog    *ssa.Program
	roots   []*packages.Package
	project map[*types.Package]bool

	classes  map[string]*model.ClassType
	concrete map[string]*types.Named
	ifaces   map[string]*types.Named

	// instances maps a generic function to its instantiations.
	instances map[*ssa.Function][]*ssa.Function

	stats Stats
}

func newConverter(prog *ssa.Program, roots []*packages.Package) *converter {
	c := &converter{
		prog:      prog,
		roots:     roots,
		project:   make(map[*types.Package]bool, len(roots)),
		classes:   make(map[string]*model.ClassType),
		concrete:  make(map[string]*types.Named),
		ifaces:    make(map[string]*types.Named),
		instances: make(map[*ssa.Function][]*ssa.Function),
	}
	for _, r := range roots {
		c.project[r.Types] = true
	}
	return c
}

func (c *converter) convert(ctx context.Context) (*model.InMemoryProgram, error) {
	for _, r := range c.roots {
		c.declarePackage(r)
	}

	funcs := c.functions()
	for _, fn := range funcs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.lowerFunction(fn)
	}
	c.addForwarders()
	c.buildInterfaces()
	c.linkImplements()

	prog := model.NewProgram()
	names := make([]string, 0, len(c.classes))
	for name := range c.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ct := c.classes[name]
		if err := prog.AddClass(ct); err != nil {
			return nil, fmt.Errorf("golang: %w", err)
		}
		c.stats.Methods += len(ct.Methods)
		for _, m := range ct.Methods {
			c.stats.CallSites += len(m.CallSites())
			c.stats.Allocations += len(m.Allocations())
		}
	}
	c.stats.Packages = len(c.roots)
	c.stats.Classes = len(names)
	c.stats.Interfaces = len(c.ifaces)

	for _, r := range c.roots {
		if r.Name != "main" {
			continue
		}
		mainSig := model.Sig("main", model.VoidType)
		if cls, ok := prog.Class(r.PkgPath); ok && cls.Method(mainSig.Key()) != nil {
			prog.AddEntryPoint(model.MethodID(r.PkgPath, mainSig))
		}
	}
	return prog, nil
}

// =============================================================================
// Declarations
// =============================================================================

func (c *converter) declarePackage(p *packages.Package) {
	pkgClass := &model.ClassType{Name: p.PkgPath}
	if len(p.GoFiles) > 0 {
		pkgClass.File = p.GoFiles[0]
		pkgClass.Line = 1
	}
	c.classes[p.PkgPath] = pkgClass

	scope := p.Types.Scope()
	for _, name := range scope.Names() {
		tn, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || tn.IsAlias() {
			continue
		}
		named, ok := tn.Type().(*types.Named)
		if !ok {
			continue
		}
		if types.IsInterface(named) {
			if named.TypeParams().Len() == 0 && named.Underlying().(*types.Interface).NumMethods() > 0 {
				c.ifaces[className(named)] = named
			}
			continue
		}
		c.declareConcrete(named)
	}
}

func (c *converter) declareConcrete(named *types.Named) {
	name := className(named)
	pos := c.prog.Fset.Position(named.Obj().Pos())
	ct := &model.ClassType{Name: name, File: pos.Filename, Line: pos.Line}
	if st, ok := named.Underlying().(*types.Struct); ok {
		for i := 0; i < st.NumFields(); i++ {
			f := st.Field(i)
			ct.Fields = append(ct.Fields, model.FieldDecl{Name: f.Name(), Type: typeToken(f.Type())})
		}
	}
	c.classes[name] = ct
	c.concrete[name] = named
}

// functions returns every source-level function of the modelled packages
// plus their synthesized package initializers, sorted by name. Closures are
// folded into their parent and instantiations into their generic origin.
func (c *converter) functions() []*ssa.Function {
	var out []*ssa.Function
	for fn := range ssautil.AllFunctions(c.prog) {
		if fn.Pkg == nil || !c.project[fn.Pkg.Pkg] || fn.Parent() != nil {
			continue
		}
		if origin := fn.Origin(); origin != nil {
			c.instances[origin] = append(c.instances[origin], fn)
			continue
		}
		if fn.Synthetic != "" && !isPackageInit(fn) {
			continue
		}
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	for _, list := range c.instances {
		sort.Slice(list, func(i, j int) bool { return list[i].String() < list[j].String() })
	}
	return out
}

func isPackageInit(fn *ssa.Function) bool {
	return fn.Synthetic != "" && fn.Name() == "init" && fn.Signature.Recv() == nil
}

// member returns the class and signature that model fn.
func (c *converter) member(fn *ssa.Function) (string, model.MethodSignature, model.MethodKind) {
	if recv := fn.Signature.Recv(); recv != nil {
		if named := namedOf(recv.Type()); named != nil {
			return className(named), signature(fn.Name(), fn.Signature), model.MethodVirtual
		}
	}
	if isPackageInit(fn) {
		return fn.Pkg.Pkg.Path(), model.StaticInitSig(), model.MethodStaticInit
	}
	return fn.Pkg.Pkg.Path(), signature(funcName(fn), fn.Signature), model.MethodStatic
}

// funcName renames the numbered init functions SSA creates for each
// func init() so the name is a valid method name.
func funcName(fn *ssa.Function) string {
	return strings.ReplaceAll(fn.Name(), "#", "$")
}

// =============================================================================
// Bodies
// =============================================================================

func (c *converter) lowerFunction(fn *ssa.Function) {
	class, sig, kind := c.member(fn)
	ct, ok := c.classes[class]
	if !ok {
		// Methods of types declared inside functions have no class.
		return
	}
	if ct.Method(sig.Key()) != nil {
		return
	}

	var body []model.Instruction
	c.lowerBlocks(fn, &body)
	for _, inst := range c.instances[fn] {
		c.lowerBlocks(inst, &body)
	}
	ct.Methods = append(ct.Methods, &model.MethodDecl{
		Signature: sig,
		Kind:      kind,
		Body:      body,
		Line:      c.line(fn.Pos()),
	})
}

func (c *converter) lowerBlocks(fn *ssa.Function, body *[]model.Instruction) {
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			switch x := instr.(type) {
			case ssa.CallInstruction:
				if cs := c.lowerCall(x); cs != nil {
					cs.Line = c.line(x.Pos())
					*body = append(*body, cs)
				}
			case *ssa.MakeInterface:
				if a := c.lowerMakeInterface(x); a != nil {
					a.Line = c.line(x.Pos())
					*body = append(*body, a)
				}
			}
		}
	}
	for _, anon := range fn.AnonFuncs {
		c.lowerBlocks(anon, body)
	}
}

// lowerCall converts a call, go or defer. It returns nil for calls that are
// left out of the model.
func (c *converter) lowerCall(ci ssa.CallInstruction) *model.CallSite {
	common := ci.Common()
	if common.IsInvoke() {
		iface, ok := c.interfaceRef(common.Value.Type())
		if !ok {
			c.stats.DynamicCalls++
			return nil
		}
		sig, _ := common.Method.Type().(*types.Signature)
		return model.VirtualCall(iface, signature(common.Method.Name(), sig))
	}
	if _, ok := common.Value.(*ssa.Builtin); ok {
		return nil
	}

	callee := common.StaticCallee()
	if callee == nil {
		c.stats.DynamicCalls++
		return nil
	}
	if callee.Parent() != nil {
		// Closure bodies are already part of the caller.
		return nil
	}
	callee = c.canonical(callee)
	switch {
	case callee == nil:
		c.stats.DynamicCalls++
		return nil
	case isPackageInit(callee):
		// Package initializers run through static-initializer reachability.
		return nil
	case callee.Pkg == nil || !c.project[callee.Pkg.Pkg]:
		c.stats.ExternalCalls++
		return nil
	}
	class, sig, _ := c.member(callee)
	if _, ok := c.classes[class]; !ok {
		return nil
	}
	return model.StaticCall(class, sig)
}

// canonical maps instantiations to their origin and synthetic wrappers to
// the declared function they wrap. It returns nil when there is none, as for
// interface method thunks.
func (c *converter) canonical(fn *ssa.Function) *ssa.Function {
	if origin := fn.Origin(); origin != nil {
		fn = origin
	}
	if fn.Synthetic == "" || isPackageInit(fn) {
		return fn
	}
	obj, ok := fn.Object().(*types.Func)
	if !ok {
		return nil
	}
	target := c.prog.FuncValue(obj)
	if target == nil || target == fn {
		return nil
	}
	if origin := target.Origin(); origin != nil {
		target = origin
	}
	return target
}

func (c *converter) lowerMakeInterface(x *ssa.MakeInterface) *model.AllocationSite {
	named := namedOf(x.X.Type())
	if named == nil {
		return nil
	}
	name := className(named)
	if _, ok := c.concrete[name]; !ok {
		return nil
	}
	return model.Alloc(name)
}

// interfaceRef registers the interface invoked through and returns its
// class name. Unnamed interfaces have no class.
func (c *converter) interfaceRef(t types.Type) (string, bool) {
	named, ok := types.Unalias(t).(*types.Named)
	if !ok || !types.IsInterface(named) || named.Origin().TypeParams().Len() > 0 {
		return "", false
	}
	name := className(named)
	c.ifaces[name] = named
	return name, true
}

// =============================================================================
// Types
// =============================================================================

// addForwarders gives each concrete class the methods promoted into its
// pointer method set through embedding. A forwarder calls the embedded
// type's method.
func (c *converter) addForwarders() {
	for _, name := range sortedKeys(c.concrete) {
		named := c.concrete[name]
		if named.TypeParams().Len() > 0 {
			continue
		}
		ct := c.classes[name]
		ms := c.prog.MethodSets.MethodSet(types.NewPointer(named))
		for i := 0; i < ms.Len(); i++ {
			sel := ms.At(i)
			if len(sel.Index()) < 2 {
				continue
			}
			obj, ok := sel.Obj().(*types.Func)
			if !ok {
				continue
			}
			fsig := obj.Type().(*types.Signature)
			sig := signature(obj.Name(), fsig)
			if ct.Method(sig.Key()) != nil {
				continue
			}
			recv := namedOf(fsig.Recv().Type())
			if recv == nil {
				continue
			}
			var call *model.CallSite
			switch target := className(recv); {
			case types.IsInterface(recv):
				iface, ok := c.interfaceRef(recv)
				if !ok {
					continue
				}
				call = model.VirtualCall(iface, sig)
			case c.concrete[target] != nil:
				call = model.StaticCall(target, sig)
			default:
				continue
			}
			ct.Methods = append(ct.Methods, model.VirtualMethod(sig, call))
		}
	}
}

// buildInterfaces creates a class for every registered interface. An
// interface extends another when its method set is a strict superset.
func (c *converter) buildInterfaces() {
	names := sortedKeys(c.ifaces)
	for _, name := range names {
		named := c.ifaces[name]
		ct := &model.ClassType{Name: name, IsInterface: true}
		if named.Obj().Pkg() != nil {
			pos := c.prog.Fset.Position(named.Obj().Pos())
			ct.File, ct.Line = pos.Filename, pos.Line
		}
		ms := c.prog.MethodSets.MethodSet(named)
		for i := 0; i < ms.Len(); i++ {
			obj, ok := ms.At(i).Obj().(*types.Func)
			if !ok {
				continue
			}
			ct.Methods = append(ct.Methods, model.AbstractMethod(signature(obj.Name(), obj.Type().(*types.Signature))))
		}

		iface := named.Underlying().(*types.Interface)
		for _, other := range names {
			if other == name {
				continue
			}
			o := c.ifaces[other].Underlying().(*types.Interface)
			if types.Implements(named, o) && !types.Implements(c.ifaces[other], iface) {
				ct.Interfaces = append(ct.Interfaces, other)
			}
		}
		c.classes[name] = ct
	}
}

// linkImplements lists on each concrete class the interfaces its value or
// pointer type implements.
func (c *converter) linkImplements() {
	names := sortedKeys(c.ifaces)
	for _, name := range sortedKeys(c.concrete) {
		named := c.concrete[name]
		if named.TypeParams().Len() > 0 {
			continue
		}
		ptr := types.NewPointer(named)
		for _, iname := range names {
			iface := c.ifaces[iname].Underlying().(*types.Interface)
			if iface.NumMethods() == 0 {
				continue
			}
			if types.Implements(named, iface) || types.Implements(ptr, iface) {
				c.classes[name].Interfaces = append(c.classes[name].Interfaces, iname)
			}
		}
	}
}

func (c *converter) line(pos token.Pos) int {
	if !pos.IsValid() {
		return 0
	}
	return c.prog.Fset.Position(pos).Line
}

// namedOf returns the generic origin of t's named type, looking through one
// pointer.
func namedOf(t types.Type) *types.Named {
	t = types.Unalias(t)
	if p, ok := t.(*types.Pointer); ok {
		t = types.Unalias(p.Elem())
	}
	named, ok := t.(*types.Named)
	if !ok {
		return nil
	}
	return named.Origin()
}

// className is "importpath.Name", or just the name for predeclared types
// such as error.
func className(named *types.Named) string {
	obj := named.Obj()
	if obj.Pkg() == nil {
		return obj.Name()
	}
	return obj.Pkg().Path() + "." + obj.Name()
}

// signature renders a Go signature in model form. Results are joined with
// ";" and the receiver is omitted.
func signature(name string, sig *types.Signature) model.MethodSignature {
	if sig == nil {
		return model.Sig(name, model.VoidType)
	}
	params := make([]string, sig.Params().Len())
	for i := range params {
		t := sig.Params().At(i).Type()
		if sig.Variadic() && i == len(params)-1 {
			if s, ok := t.(*types.Slice); ok {
				params[i] = "..." + typeToken(s.Elem())
				continue
			}
		}
		params[i] = typeToken(t)
	}
	ret := model.VoidType
	if n := sig.Results().Len(); n > 0 {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = typeToken(sig.Results().At(i).Type())
		}
		ret = strings.Join(parts, ";")
	}
	return model.Sig(name, ret, params...)
}

// typeToken renders a type without characters that are special in method
// keys. Named types are qualified by package name.
func typeToken(t types.Type) string {
	switch t := t.(type) {
	case *types.Alias:
		return typeToken(types.Unalias(t))
	case *types.Basic:
		return t.Name()
	case *types.Named:
		obj := t.Origin().Obj()
		if obj.Pkg() == nil {
			return obj.Name()
		}
		return obj.Pkg().Name() + "." + obj.Name()
	case *types.TypeParam:
		return t.Obj().Name()
	case *types.Pointer:
		return "*" + typeToken(t.Elem())
	case *types.Slice:
		return "[]" + typeToken(t.Elem())
	case *types.Array:
		return fmt.Sprintf("[%d]%s", t.Len(), typeToken(t.Elem()))
	case *types.Map:
		return "map[" + typeToken(t.Key()) + "]" + typeToken(t.Elem())
	case *types.Chan:
		return "chan " + typeToken(t.Elem())
	case *types.Signature:
		return "func"
	case *types.Struct:
		return "struct"
	case *types.Interface:
		if t.Empty() {
			return "any"
		}
		return "interface"
	default:
		return "?"
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
