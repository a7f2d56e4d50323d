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
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/hierarchy"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	mainID    = "CallGraphs:main(String[]):void"
	doStuffID = "CallGraphs:doStuff():void"
	aFooID    = "A:foo():void"
	aBarID    = "A:bar():void"
	bFooID    = "B:foo():void"
)

var (
	sigFoo  = model.Sig("foo", "")
	sigBar  = model.Sig("bar", "")
	sigMain = model.Sig("main", "", "String[]")
)

type fixtureOpts struct {
	// defineB adds B extends A overriding foo.
	defineB bool

	// fieldDispatch adds field.foo() to doStuff, a virtual call on A.
	fieldDispatch bool
}

// callGraphsProgram models the CallGraphs fixture:
//
//	class CallGraphs {
//	    static A field;
//	    static void main(String[] args) { field = new B(); doStuff(); }
//	    static void doStuff() { new A().foo(); }
//	}
//	class A { void foo() { bar(); } void bar() {} }
func callGraphsProgram(t *testing.T, opts fixtureOpts) *model.InMemoryProgram {
	t.Helper()

	doStuff := []model.Instruction{
		model.Alloc("A"),
		model.ExactCall("A", sigFoo),
	}
	if opts.fieldDispatch {
		doStuff = append(doStuff, &model.CallSite{
			ID:       "CallGraphs.doStuff#field.foo",
			Receiver: "A",
			Target:   sigFoo,
			Kind:     model.CallVirtual,
		})
	}

	cg := model.Class("CallGraphs", "",
		model.StaticMethod(sigMain,
			model.Alloc("B"),
			model.StaticCall("", model.Sig("doStuff", "")),
		),
		model.StaticMethod(model.Sig("doStuff", ""), doStuff...),
	)
	cg.Fields = []model.FieldDecl{{Name: "field", Type: "A", Static: true}}

	p := model.NewProgram().
		MustAddClass(cg).
		MustAddClass(model.Class("A", "",
			model.VirtualMethod(sigFoo, model.VirtualCall("", sigBar)),
			model.VirtualMethod(sigBar),
		))
	if opts.defineB {
		p.MustAddClass(model.Class("B", "A", model.VirtualMethod(sigFoo)))
	}
	p.AddEntryPoint(mainID)
	return p
}

// shapesProgram builds n Shape implementations, each allocated by its own
// static factory, plus one virtual area() call on Shape from main.
func shapesProgram(t *testing.T, n int) *model.InMemoryProgram {
	t.Helper()

	area := model.Sig("area", "double")
	p := model.NewProgram()
	p.MustAddClass(model.Interface("Shape", nil, model.AbstractMethod(area)))

	var helpers []*model.MethodDecl
	for i := 0; i < 5; i++ {
		helpers = append(helpers, model.StaticMethod(model.Sig(fmt.Sprintf("h%d", i), "")))
	}
	p.MustAddClass(model.Class("Helper", "", helpers...))

	var factories []*model.MethodDecl
	mainBody := []model.Instruction{model.VirtualCall("Shape", area)}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("S%02d", i)
		c := model.Class(name, "",
			model.VirtualMethod(area, model.StaticCall("Helper", model.Sig(fmt.Sprintf("h%d", i%5), ""))),
		)
		c.Interfaces = []string{"Shape"}
		p.MustAddClass(c)

		factory := model.Sig("make"+name, "Shape")
		factories = append(factories, model.StaticMethod(factory, model.Alloc(name)))
		mainBody = append(mainBody, model.StaticCall("Main", factory))
	}
	factories = append(factories, model.StaticMethod(sigMain, mainBody...))
	p.MustAddClass(model.Class("Main", "", factories...))
	p.AddEntryPoint("Main:main(String[]):void")
	return p
}

func mustHierarchy(t *testing.T, p model.Program) *hierarchy.Hierarchy {
	t.Helper()
	h, err := hierarchy.New(p)
	if err != nil {
		t.Fatalf("hierarchy.New: %v", err)
	}
	return h
}

func mustBuild(t *testing.T, p *model.InMemoryProgram, opts ...BuilderOption) *CallGraph {
	t.Helper()
	res, err := BuildCallGraph(context.Background(), p, p.EntryPoints(), opts...)
	if err != nil {
		t.Fatalf("BuildCallGraph: %v", err)
	}
	if res == nil || res.Graph == nil {
		t.Fatal("BuildCallGraph returned nil graph")
	}
	return res.Graph
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// setupTestTracer installs an in-memory exporter as the global tracer provider.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}
