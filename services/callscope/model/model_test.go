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
	"testing"
)

func TestMethodSignature_Key(t *testing.T) {
	tests := []struct {
		name string
		sig  MethodSignature
		want string
	}{
		{"no params", Sig("foo", ""), "foo():void"},
		{"params and return", Sig("add", "int", "int", "int"), "add(int,int):int"},
		{"constructor", ConstructorSig("String"), "<init>(String):void"},
		{"empty return renders void", MethodSignature{Name: "bar"}, "bar():void"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sig.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSignature(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "foo()", want: "foo():void"},
		{in: "foo():int", want: "foo():int"},
		{in: " main( String[] ) : void ", want: "main(String[]):void"},
		{in: "put(K, V):V", want: "put(K,V):V"},
		{in: "foo", wantErr: true},
		{in: "(int)", wantErr: true},
		{in: "foo(int,)", wantErr: true},
		{in: "foo()int", wantErr: true},
		{in: "foo():", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sig, err := ParseSignature(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSignature) {
					t.Fatalf("ParseSignature(%q) error = %v, want ErrInvalidSignature", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignature(%q) unexpected error: %v", tt.in, err)
			}
			if sig.Key() != tt.want {
				t.Errorf("ParseSignature(%q).Key() = %q, want %q", tt.in, sig.Key(), tt.want)
			}
		})
	}
}

func TestSplitMethodID(t *testing.T) {
	owner, sig, err := SplitMethodID("com.acme.A:foo(int):void")
	if err != nil {
		t.Fatalf("SplitMethodID: %v", err)
	}
	if owner != "com.acme.A" {
		t.Errorf("owner = %q", owner)
	}
	if sig.Key() != "foo(int):void" {
		t.Errorf("sig = %q", sig.Key())
	}

	if _, _, err := SplitMethodID("foo()"); err == nil {
		t.Error("expected error for id without owner")
	}
}

func TestKindsRoundTrip(t *testing.T) {
	for _, k := range []CallKind{CallStatic, CallVirtual, CallConstructor} {
		got, err := ParseCallKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseCallKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	for _, k := range []MethodKind{MethodVirtual, MethodStatic, MethodConstructor, MethodStaticInit} {
		got, err := ParseMethodKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseMethodKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseCallKind("dynamic"); !errors.Is(err, ErrInvalidProgram) {
		t.Errorf("expected ErrInvalidProgram, got %v", err)
	}
}

func TestAddClass_NormalizesBody(t *testing.T) {
	call := VirtualCall("A", Sig("bar", ""))
	alloc := Alloc("A")
	p := NewProgram()
	p.MustAddClass(Class("A", "", VirtualMethod(Sig("foo", ""), alloc, call), VirtualMethod(Sig("bar", ""))))

	if call.Caller != "A:foo():void" {
		t.Errorf("call.Caller = %q", call.Caller)
	}
	if call.ID != "A:foo():void#1" {
		t.Errorf("call.ID = %q", call.ID)
	}
	if alloc.Method != "A:foo():void" || alloc.ID != "A:foo():void#0" {
		t.Errorf("alloc = %+v", alloc)
	}
	c, ok := p.Class("A")
	if !ok {
		t.Fatal("class A missing")
	}
	if c.Methods[1].Owner != "A" {
		t.Errorf("owner = %q", c.Methods[1].Owner)
	}
}

func TestAddClass_KeepsExplicitSiteIDs(t *testing.T) {
	call := VirtualCall("A", Sig("bar", ""))
	call.ID = "site-1"
	p := NewProgram()
	p.MustAddClass(Class("A", "", VirtualMethod(Sig("foo", ""), call), VirtualMethod(Sig("bar", ""))))
	if call.ID != "site-1" {
		t.Errorf("explicit ID overwritten: %q", call.ID)
	}
}

func TestAddClass_Errors(t *testing.T) {
	p := NewProgram()
	p.MustAddClass(Class("A", ""))

	if err := p.AddClass(Class("A", "")); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("duplicate class: got %v", err)
	}
	dup := Class("B", "", VirtualMethod(Sig("foo", "")), VirtualMethod(Sig("foo", "")))
	if err := p.AddClass(dup); !errors.Is(err, ErrDuplicateMethod) {
		t.Errorf("duplicate method: got %v", err)
	}
	if err := p.AddClass(&ClassType{}); !errors.Is(err, ErrInvalidProgram) {
		t.Errorf("empty name: got %v", err)
	}
	if _, ok := p.Class("B"); ok {
		t.Error("rejected class must not be added")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		class   *ClassType
		wantErr bool
	}{
		{
			name:  "valid",
			class: Class("A", "", StaticInit(Alloc("A")), Constructor(nil), VirtualMethod(Sig("foo", ""))),
		},
		{
			name:    "two static initializers",
			class:   Class("A", "", StaticInit(), NewMethod(Sig(StaticInitName, "", "int"), MethodStaticInit)),
			wantErr: true,
		},
		{
			name:    "interface constructor",
			class:   Interface("I", nil, Constructor(nil)),
			wantErr: true,
		},
		{
			name:    "constructor call without receiver",
			class:   Class("A", "", VirtualMethod(Sig("foo", ""), &CallSite{Kind: CallConstructor, Target: ConstructorSig()})),
			wantErr: true,
		},
		{
			name:    "allocation without type",
			class:   Class("A", "", VirtualMethod(Sig("foo", ""), &AllocationSite{})),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgram()
			p.MustAddClass(tt.class)
			err := p.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidProgram) {
				t.Errorf("Validate() = %v, want ErrInvalidProgram", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestEntryPoints_Deduplicated(t *testing.T) {
	p := NewProgram()
	p.AddEntryPoint("A:main():void")
	p.AddEntryPoint("A:main():void")
	p.AddEntryPoint("B:main():void")
	if got := p.EntryPoints(); len(got) != 2 {
		t.Errorf("EntryPoints() = %v", got)
	}
}

func TestMethodDecl_Accessors(t *testing.T) {
	m := VirtualMethod(Sig("foo", ""), Alloc("A"), VirtualCall("A", Sig("bar", "")), Alloc("B"))
	if len(m.CallSites()) != 1 {
		t.Errorf("CallSites() = %d", len(m.CallSites()))
	}
	if len(m.Allocations()) != 2 {
		t.Errorf("Allocations() = %d", len(m.Allocations()))
	}
	c := Class("A", "", m, StaticInit())
	if c.StaticInit() == nil {
		t.Error("StaticInit() = nil")
	}
	if c.Method("foo():void") != m {
		t.Error("Method lookup failed")
	}
	if !c.Instantiable() {
		t.Error("concrete class should be instantiable")
	}
}
