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
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var javaPrefixes = graph.WithExternalPrefixes("java.", "javax.")

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func parseSources(t *testing.T, files map[string]string) *Result {
	t.Helper()
	in := make(map[string][]byte, len(files))
	for k, v := range files {
		in[k] = []byte(v)
	}
	res, err := NewFrontend().Parse(context.Background(), in)
	require.NoError(t, err)
	return res
}

// sites renders each instruction of a body as "call <kind> <receiver>.<key>"
// or "new <type>".
func sites(body []model.Instruction) []string {
	var out []string
	for _, ins := range body {
		switch x := ins.(type) {
		case *model.CallSite:
			s := "call " + x.Kind.String() + " " + x.Receiver + "." + x.Target.Key()
			if x.ExactReceiver {
				s += " exact"
			}
			out = append(out, s)
		case *model.AllocationSite:
			out = append(out, "new "+x.Type)
		}
	}
	return out
}

func method(t *testing.T, p *model.InMemoryProgram, id string) *model.MethodDecl {
	t.Helper()
	owner, sig, err := model.SplitMethodID(id)
	require.NoError(t, err)
	c, ok := p.Class(owner)
	require.True(t, ok, "class %s", owner)
	m := c.Method(sig.Key())
	require.NotNil(t, m, "method %s", id)
	return m
}

// =============================================================================
// Fixture
// =============================================================================

func TestParseDir_UndefinedAllocation(t *testing.T) {
	res, err := NewFrontend().ParseDir(context.Background(), filepath.Join("testdata", "undefined"))
	require.NoError(t, err)

	p := res.Program
	require.Equal(t, []string{"CallGraphs:main(String[]):void"}, p.EntryPoints())
	require.Equal(t, []string{"A", "CallGraphs"}, p.ClassNames())
	require.Equal(t, 1, res.Stats.SkippedCalls, "System.out.println has no typed receiver")
	require.Equal(t, reasonUntyped, res.Skipped[0].Reason)

	require.Equal(t, []string{
		"new B",
		"call static .doStuff():void",
	}, sites(method(t, p, "CallGraphs:main(String[]):void").Body))
	require.Equal(t, []string{
		"new A",
		"call virtual A.foo():void exact",
	}, sites(method(t, p, "CallGraphs:doStuff():void").Body))
	require.Equal(t, []string{"call virtual .bar():void"}, sites(method(t, p, "A:foo():void").Body))

	_, err = graph.BuildCallGraph(context.Background(), p, p.EntryPoints(), javaPrefixes)
	require.ErrorIs(t, err, graph.ErrUnresolvedReference)
	refs := graph.UnresolvedReferences(err)
	require.Len(t, refs, 1)
	require.Equal(t, "B", refs[0].Type)
}

func TestParseDir_DefinedAllocation(t *testing.T) {
	res, err := NewFrontend().ParseDir(context.Background(), filepath.Join("testdata", "defined"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Stats.Files, "hidden directories and other extensions are skipped")

	b, ok := res.Program.Class("B")
	require.True(t, ok)
	require.Equal(t, "A", b.Super)
	require.Equal(t, "B.java", b.File)

	built, err := graph.BuildCallGraph(context.Background(), res.Program, res.Program.EntryPoints(), javaPrefixes)
	require.NoError(t, err)
	require.Equal(t, []string{
		"A:bar():void",
		"A:foo():void",
		"CallGraphs:doStuff():void",
		"CallGraphs:main(String[]):void",
	}, built.Graph.NodeIDs())
	require.True(t, built.Graph.IsInstantiated("B"))
	require.False(t, built.Graph.IsReachableID("B:foo():void"), "the exact receiver of foo is A")
}

// =============================================================================
// Receivers
// =============================================================================

const appMain = `package app;

import java.util.List;

public class Main {
    private Repo repo = new Repo();
    static Registry registry;

    static {
        registry = Registry.create();
    }

    public static void main(String... args) {
        Main m = new Main();
        m.run(args.length);
    }

    void run(int n) {
        this.repo.find(n).render();
        Object o = repo;
        ((Repo) o).close();
        var r = new Repo();
        r.close();
        List<String> names = null;
        names.size();
        helper(n, n);
        Runnable task = () -> repo.close();
    }

    void helper(int a, int b) { }
    void helper(int a) { }
}
`

const appTypes = `package app;

class Repo {
    Item find(int id) { return new Item(id); }
    void close() { }
}

class Item {
    private final int id;
    Item(int id) { this.id = id; }
    void render() { }
}

class Registry {
    static Registry create() { return new Registry(); }
}
`

func TestParse_ReceiverInference(t *testing.T) {
	res := parseSources(t, map[string]string{"app/Main.java": appMain, "app/Types.java": appTypes})
	p := res.Program

	require.Equal(t, []string{"app.Main:main(String[]):void"}, p.EntryPoints())
	require.Equal(t, []string{"app.Item", "app.Main", "app.Registry", "app.Repo"}, p.ClassNames())
	require.Zero(t, res.Stats.SkippedCalls)

	require.Equal(t, []string{
		"call virtual app.Repo.find(int):Item",
		"call virtual app.Item.render():void",
		"call virtual app.Repo.close():void",
		"call virtual app.Repo.close():void",
		"call virtual java.util.List.size():void",
		"call virtual .helper(int,int):void",
		"call virtual app.Repo.close():void",
	}, sites(method(t, p, "app.Main:run(int):void").Body))

	require.Equal(t, []string{
		"new app.Main",
		"call constructor app.Main.<init>():void",
		"call virtual app.Main.run(int):void",
	}, sites(method(t, p, "app.Main:main(String[]):void").Body))

	require.Equal(t, []string{
		"call static app.Registry.create():Registry",
	}, sites(method(t, p, "app.Main:<clinit>():void").Body))

	require.Equal(t, []string{"new app.Repo"}, sites(method(t, p, "app.Main:<init>():void").Body),
		"field initializers are folded into the synthesized constructor")

	require.Equal(t, []string{
		"new app.Item",
		"call constructor app.Item.<init>(int):void",
	}, sites(method(t, p, "app.Repo:find(int):Item").Body))

	built, err := graph.BuildCallGraph(context.Background(), p, p.EntryPoints(), javaPrefixes)
	require.NoError(t, err)
	for _, id := range []string{
		"app.Main:<clinit>():void",
		"app.Registry:create():Registry",
		"app.Repo:find(int):Item",
		"app.Item:<init>(int):void",
		"app.Item:render():void",
		"app.Main:helper(int,int):void",
	} {
		require.True(t, built.Graph.IsReachableID(id), id)
	}
	require.False(t, built.Graph.IsReachableID("app.Main:helper(int):void"), "overloads are chosen by arity")
	require.Equal(t, 1, built.Stats.ExternalSkipped, "List.size is a library call")
}

// =============================================================================
// Hierarchy
// =============================================================================

const shapesSrc = `package shapes;

public interface Shape {
    double area();
    default String describe() { return "area " + area(); }
}

abstract class Base implements Shape {
    protected int sides;
    Base(int sides) { this.sides = sides; }
    public abstract double area();
}

class Square extends Base {
    static int count;
    static { count = 0; }
    Square() { super(4); }
    public double area() { return 1.0; }
}

class Circle implements Shape {
    public double area() { return 3.14; }
}

class Failure extends RuntimeException {
    void report() { getMessage(); }
}
`

const shapesApp = `package shapes;

public class App {
    public static void main(String[] args) {
        Shape s = new Square();
        s.describe();
        s.area();
        new Failure().report();
    }
}
`

const anonymousMain = `package app;

interface Task { void run(); }

abstract class Base { abstract void go(); }

class Impl { void act() {} }

public class Main {
    static void helper() {}

    public static void main(String[] args) {
        Task t = new Task() { public void run() { helper(); } };
        Base b = new Base() { void go() { new Impl(); } };
        Impl i = new Impl() { void act() { helper(); } };
    }
}
`

func TestParse_AnonymousClassesFold(t *testing.T) {
	res := parseSources(t, map[string]string{"app/Main.java": anonymousMain})
	p := res.Program

	require.Equal(t, []string{"app.Base", "app.Impl", "app.Main", "app.Task"}, p.ClassNames(),
		"anonymous classes are not declared")

	body := sites(method(t, p, "app.Main:main(String[]):void").Body)
	require.NotContains(t, body, "new app.Task", "an interface is never allocated")
	require.NotContains(t, body, "new app.Base", "an abstract class is never allocated")

	impls, helpers := 0, 0
	for _, s := range body {
		if s == "new app.Impl" {
			impls++
		}
		if strings.HasSuffix(s, ".helper():void") {
			helpers++
		}
	}
	require.Equal(t, 2, impls, "one from Base's anonymous body, one for the concrete base: %v", body)
	require.Equal(t, 2, helpers, "anonymous method calls belong to main: %v", body)
}

func TestParse_Hierarchy(t *testing.T) {
	res := parseSources(t, map[string]string{"Shape.java": shapesSrc, "App.java": shapesApp})
	p := res.Program

	shape, ok := p.Class("shapes.Shape")
	require.True(t, ok)
	require.True(t, shape.IsInterface)
	require.True(t, shape.Method("area():double").Abstract)
	require.False(t, shape.Method("describe():String").Abstract, "default methods have bodies")

	base, _ := p.Class("shapes.Base")
	require.True(t, base.Abstract)
	require.Equal(t, []string{"shapes.Shape"}, base.Interfaces)

	failure, _ := p.Class("shapes.Failure")
	require.Empty(t, failure.Super, "library supertypes are dropped")
	require.Equal(t, 1, res.Stats.ExternalSupertypes)
	require.Equal(t, 1, res.Stats.SkippedCalls)
	require.Equal(t, reasonLibrary, res.Skipped[0].Reason)

	require.Equal(t, []string{"call static shapes.Base.<init>(int):void"},
		sites(method(t, p, "shapes.Square:<init>():void").Body))
	require.NotNil(t, method(t, p, "shapes.Square:<clinit>():void"))

	require.Equal(t, []string{
		"new shapes.Square",
		"call constructor shapes.Square.<init>():void",
		"call virtual shapes.Shape.describe():String",
		"call virtual shapes.Shape.area():double",
		"new shapes.Failure",
		"call virtual shapes.Failure.report():void exact",
	}, sites(method(t, p, "shapes.App:main(String[]):void").Body))

	tests := []struct {
		algorithm       graph.Algorithm
		circleReachable bool
	}{
		{algorithm: graph.AlgorithmRTA, circleReachable: false},
		{algorithm: graph.AlgorithmCHA, circleReachable: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			built, err := graph.BuildCallGraph(context.Background(), p, p.EntryPoints(),
				javaPrefixes, graph.WithAlgorithm(tt.algorithm))
			require.NoError(t, err)
			for _, id := range []string{
				"shapes.Square:<init>():void",
				"shapes.Base:<init>(int):void",
				"shapes.Square:<clinit>():void",
				"shapes.Shape:describe():String",
				"shapes.Square:area():double",
				"shapes.Failure:report():void",
			} {
				require.True(t, built.Graph.IsReachableID(id), id)
			}
			require.Equal(t, tt.circleReachable, built.Graph.IsReachableID("shapes.Circle:area():double"))
		})
	}
}

// =============================================================================
// Nested Types, Enums, Records, Varargs
// =============================================================================

const utilSrc = `public class Util {
    enum Color { RED, GREEN("g"); Color() {} Color(String s) {} }

    static class Node {
        Node next;
        Node next() { return next; }
    }

    record Point(int x, int y) {
        int sum() { return x() + y(); }
    }

    static void log(String fmt, Object... args) { }
    static void log(String msg) { }

    static void run() {
        log("a");
        log("a", 1, 2);
        Node n = new Node();
        n.next().next();
        Point p = new Point(1, 2);
        p.sum();
        Color c = Color.RED;
        c.ordinal();
    }
}
`

func TestParse_NestedEnumsRecordsVarargs(t *testing.T) {
	res := parseSources(t, map[string]string{"Util.java": utilSrc})
	p := res.Program

	require.Equal(t, []string{"Util", "Util.Color", "Util.Node", "Util.Point"}, p.ClassNames())
	require.Empty(t, p.EntryPoints())

	require.Equal(t, []string{
		"call static .log(String):void",
		"call static .log(String,Object[]):void",
		"new Util.Node",
		"call virtual Util.Node.next():Node",
		"call virtual Util.Node.next():Node",
		"new Util.Point",
		"call constructor Util.Point.<init>(int,int):void",
		"call virtual Util.Point.sum():int",
	}, sites(method(t, p, "Util:run():void").Body))
	require.Equal(t, 1, res.Stats.SkippedCalls, "ordinal comes from java.lang.Enum")

	require.Equal(t, []string{
		"new Util.Color",
		"call constructor Util.Color.<init>():void",
		"new Util.Color",
		"call constructor Util.Color.<init>(String):void",
	}, sites(method(t, p, "Util.Color:<clinit>():void").Body))

	require.Equal(t, []string{
		"call virtual .x():int",
		"call virtual .y():int",
	}, sites(method(t, p, "Util.Point:sum():int").Body))
}

// =============================================================================
// Errors and Options
// =============================================================================

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string][]byte
		opts  []Option
		want  error
	}{
		{name: "empty", files: nil, want: ErrNoSources},
		{name: "too large", files: map[string][]byte{"A.java": []byte("class A {}")}, opts: []Option{WithMaxFileSize(4)}, want: ErrFileTooLarge},
		{name: "too many", files: map[string][]byte{"A.java": nil, "B.java": nil}, opts: []Option{WithMaxFiles(1)}, want: ErrTooManyFiles},
		{name: "not utf8", files: map[string][]byte{"A.java": {0xff, 0xfe}}, want: ErrInvalidContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrontend(tt.opts...).Parse(context.Background(), tt.files)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParse_SyntaxErrorsAreCounted(t *testing.T) {
	res := parseSources(t, map[string]string{
		"Ok.java":     "class Ok { void f() {} }",
		"Broken.java": "class Broken { void f( { }",
	})
	require.Equal(t, 1, res.Stats.SyntaxErrors)
	_, ok := res.Program.Class("Ok")
	require.True(t, ok)
}

func TestParse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFrontend().Parse(ctx, map[string][]byte{"A.java": []byte("class A {}")})
	require.ErrorIs(t, err, context.Canceled)
}

func TestParse_Span(t *testing.T) {
	exporter := setupTestTracer(t)
	parseSources(t, map[string]string{"Util.java": utilSrc})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "JavaFrontend.Parse", spans[0].Name)
}

func TestOptions(t *testing.T) {
	f := NewFrontend(WithWorkers(0), WithExtensions(".jav"), WithExternalPrefixes("org."))
	o := f.Options()
	require.Equal(t, DefaultOptions().Workers, o.Workers)
	require.Equal(t, []string{".jav"}, o.Extensions)
	require.Equal(t, []string{"org."}, o.ExternalPrefixes)
}

func TestTypeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{in: "Map<String, List<Integer>>", want: "Map"},
		{in: "java.util.List<String>", want: "java.util.List"},
		{in: "int", want: "int"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, stripGenerics(tt.in))
	}
	require.Equal(t, "String[]", sigType("java.lang.String[]"))
	require.Equal(t, "Inner", sigType("Outer.Inner"))
	require.True(t, isTypeName("B"))
	require.False(t, isTypeName("MAX_SIZE"))
	require.False(t, isTypeName("value"))
}
