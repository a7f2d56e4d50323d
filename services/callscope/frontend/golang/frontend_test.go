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
	"go/token"
	"go/types"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/callscope/services/callscope/graph"
	"github.com/AleutianAI/callscope/services/callscope/model"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/tools/go/packages"
)

const (
	mainPkg = "example.com/shapes"
	geoPkg  = "example.com/shapes/geo"
)

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

// loadShapes converts testdata/shapes. The go tool runs offline so the
// fixture's standard library imports are all it can see.
func loadShapes(t *testing.T) *Result {
	t.Helper()
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go tool not available")
	}
	f := NewFrontend(WithEnv("GOWORK=off", "GOFLAGS=-mod=mod", "GOPROXY=off", "GOTOOLCHAIN=local"))
	res, err := f.Load(context.Background(), filepath.Join("testdata", "shapes"))
	require.NoError(t, err)
	return res
}

func sites(body []model.Instruction) []string {
	var out []string
	for _, ins := range body {
		switch x := ins.(type) {
		case *model.CallSite:
			out = append(out, "call "+x.Kind.String()+" "+x.Receiver+"."+x.Target.Key())
		case *model.AllocationSite:
			out = append(out, "new "+x.Type)
		}
	}
	return out
}

func class(t *testing.T, p *model.InMemoryProgram, name string) *model.ClassType {
	t.Helper()
	c, ok := p.Class(name)
	require.True(t, ok, "class %s", name)
	return c
}

// =============================================================================
// Conversion
// =============================================================================

func TestLoad_Classes(t *testing.T) {
	res := loadShapes(t)
	p := res.Program

	require.Equal(t, []string{mainPkg + ":main():void"}, p.EntryPoints())
	require.Equal(t, 2, res.Stats.Packages)
	require.Equal(t, 1, res.Stats.Interfaces)
	require.Positive(t, res.Stats.ExternalCalls, "fmt calls leave the model")

	shape := class(t, p, geoPkg+".Shape")
	require.True(t, shape.IsInterface)
	require.NotNil(t, shape.Method("Area():float64"))
	require.NotNil(t, shape.Method("Name():string"))

	for _, name := range []string{"Square", "Circle", "Triangle", "Labeled"} {
		c := class(t, p, geoPkg+"."+name)
		require.Equal(t, []string{geoPkg + ".Shape"}, c.Interfaces, name)
		require.NotNil(t, c.Method("Area():float64"), name)
	}

	geo := class(t, p, geoPkg)
	require.NotNil(t, geo.StaticInit())
	require.NotNil(t, geo.Method("init$1():void"))
	require.NotNil(t, geo.Method("NewSquare(float64):*geo.Square"))
	require.NotNil(t, geo.Method("Total([]geo.Shape):float64"))
	require.Equal(t, model.MethodStatic, geo.Method("Sides(string):int").Kind)

	report := class(t, p, mainPkg+".report")
	require.Equal(t, []model.FieldDecl{{Name: "w", Type: "io.Writer"}}, report.Fields)
}

func TestLoad_Bodies(t *testing.T) {
	res := loadShapes(t)
	p := res.Program

	mainFn := class(t, p, mainPkg).Method("main():void")
	require.NotNil(t, mainFn)
	require.Subset(t, sites(mainFn.Body), []string{
		"call static " + geoPkg + ".NewSquare(float64):*geo.Square",
		"new " + geoPkg + ".Square",
		"new " + geoPkg + ".Circle",
		"call static " + mainPkg + ".report.print(geo.Shape):void",
		"call static " + geoPkg + ".Total([]geo.Shape):float64",
	}, "closure bodies are folded into main")

	printFn := class(t, p, mainPkg+".report").Method("print(geo.Shape):void")
	require.NotNil(t, printFn)
	require.Equal(t, []string{
		"call virtual " + geoPkg + ".Shape.Name():string",
		"call virtual " + geoPkg + ".Shape.Area():float64",
	}, sites(printFn.Body))

	forward := class(t, p, geoPkg+".Labeled").Method("Area():float64")
	require.Equal(t, []string{"call static " + geoPkg + ".Square.Area():float64"}, sites(forward.Body))
}

func TestLoad_Reachability(t *testing.T) {
	res := loadShapes(t)
	p := res.Program

	tests := []struct {
		algorithm         graph.Algorithm
		triangleReachable bool
	}{
		{algorithm: graph.AlgorithmRTA, triangleReachable: false},
		{algorithm: graph.AlgorithmCHA, triangleReachable: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.algorithm), func(t *testing.T) {
			built, err := graph.BuildCallGraph(context.Background(), p, p.EntryPoints(), graph.WithAlgorithm(tt.algorithm))
			require.NoError(t, err)
			for _, id := range []string{
				mainPkg + ":main():void",
				mainPkg + ".report:print(geo.Shape):void",
				geoPkg + ":<clinit>():void",
				geoPkg + ":init$1():void",
				geoPkg + ".Square:Area():float64",
				geoPkg + ".Circle:Name():string",
			} {
				require.True(t, built.Graph.IsReachableID(id), id)
			}
			require.Equal(t, tt.triangleReachable, built.Graph.IsReachableID(geoPkg+".Triangle:Area():float64"))
			require.False(t, built.Graph.IsReachableID(geoPkg+":Sides(string):int"))
		})
	}
}

func TestLoad_Span(t *testing.T) {
	exporter := setupTestTracer(t)
	loadShapes(t)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "GoFrontend.Load", spans[0].Name)
}

func TestLoad_Errors(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go tool not available")
	}
	f := NewFrontend(WithEnv("GOWORK=off", "GOPROXY=off", "GOTOOLCHAIN=local"))
	_, err := f.Load(context.Background(), filepath.Join("testdata", "shapes"), "./missing")
	require.ErrorIs(t, err, ErrLoad)
}

// =============================================================================
// Helpers
// =============================================================================

func TestSignature(t *testing.T) {
	pkg := types.NewPackage("example.com/geo", "geo")
	shape := types.NewNamed(types.NewTypeName(token.NoPos, pkg, "Shape", nil), types.NewInterfaceType(nil, nil), nil)
	errType := types.Universe.Lookup("error").Type()

	params := types.NewTuple(
		types.NewVar(token.NoPos, pkg, "n", types.Typ[types.Int]),
		types.NewVar(token.NoPos, pkg, "names", types.NewSlice(types.Typ[types.String])),
	)
	results := types.NewTuple(
		types.NewVar(token.NoPos, pkg, "", types.NewPointer(shape)),
		types.NewVar(token.NoPos, pkg, "", errType),
	)
	sig := types.NewSignatureType(nil, nil, nil, params, results, true)
	require.Equal(t, "Make(int,...string):*geo.Shape;error", signature("Make", sig).Key())

	empty := types.NewSignatureType(nil, nil, nil, nil, nil, false)
	require.Equal(t, "Run():void", signature("Run", empty).Key())
}

func TestTypeToken(t *testing.T) {
	tests := []struct {
		typ  types.Type
		want string
	}{
		{types.Typ[types.Float64], "float64"},
		{types.NewMap(types.Typ[types.String], types.NewSlice(types.Typ[types.Int])), "map[string][]int"},
		{types.NewArray(types.Typ[types.Byte], 4), "[4]uint8"},
		{types.NewChan(types.SendRecv, types.Typ[types.Bool]), "chan bool"},
		{types.NewInterfaceType(nil, nil), "any"},
		{types.NewStruct(nil, nil), "struct"},
		{types.NewSignatureType(nil, nil, nil, nil, nil, false), "func"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, typeToken(tt.typ))
	}
}

func TestSelectRoots(t *testing.T) {
	plain := &packages.Package{PkgPath: "a", Types: types.NewPackage("a", "a"), CompiledGoFiles: []string{"a.go"}}
	variant := &packages.Package{PkgPath: "a", Types: types.NewPackage("a", "a"), CompiledGoFiles: []string{"a.go", "a_test.go"}}
	testMain := &packages.Package{PkgPath: "a.test", Types: types.NewPackage("a.test", "main")}
	other := &packages.Package{PkgPath: "b", Types: types.NewPackage("b", "b")}

	roots := selectRoots([]*packages.Package{plain, variant, testMain, other})
	require.Equal(t, []*packages.Package{variant, other}, roots)
}
