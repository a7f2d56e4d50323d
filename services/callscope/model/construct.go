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

// Constructors for building program models by hand. Owners, callers and
// site IDs are filled in by InMemoryProgram.AddClass.

// Sig builds a signature. An empty ret means void.
func Sig(name, ret string, params ...string) MethodSignature {
	if ret == "" {
		ret = VoidType
	}
	if params == nil {
		params = []string{}
	}
	return MethodSignature{Name: name, Params: params, Return: ret}
}

// ConstructorSig returns the signature of a constructor with the given
// parameter types.
func ConstructorSig(params ...string) MethodSignature {
	return Sig(ConstructorName, VoidType, params...)
}

// StaticInitSig returns the signature of a class initializer.
func StaticInitSig() MethodSignature {
	return Sig(StaticInitName, VoidType)
}

// NewMethod builds a method declaration.
func NewMethod(sig MethodSignature, kind MethodKind, body ...Instruction) *MethodDecl {
	return &MethodDecl{Signature: sig, Kind: kind, Body: body}
}

// VirtualMethod builds a virtual method.
func VirtualMethod(sig MethodSignature, body ...Instruction) *MethodDecl {
	return NewMethod(sig, MethodVirtual, body...)
}

// AbstractMethod builds an abstract virtual method with no body.
func AbstractMethod(sig MethodSignature) *MethodDecl {
	m := NewMethod(sig, MethodVirtual)
	m.Abstract = true
	return m
}

// StaticMethod builds a static method.
func StaticMethod(sig MethodSignature, body ...Instruction) *MethodDecl {
	return NewMethod(sig, MethodStatic, body...)
}

// Constructor builds a constructor taking the given parameter types.
func Constructor(params []string, body ...Instruction) *MethodDecl {
	return NewMethod(ConstructorSig(params...), MethodConstructor, body...)
}

// StaticInit builds a class initializer.
func StaticInit(body ...Instruction) *MethodDecl {
	return NewMethod(StaticInitSig(), MethodStaticInit, body...)
}

// StaticCall builds a statically bound call. An empty receiver means the
// caller's class.
func StaticCall(receiver string, target MethodSignature) *CallSite {
	return &CallSite{Receiver: receiver, Target: target, Kind: CallStatic}
}

// VirtualCall builds a virtual call on a receiver of static type receiver.
func VirtualCall(receiver string, target MethodSignature) *CallSite {
	return &CallSite{Receiver: receiver, Target: target, Kind: CallVirtual}
}

// ExactCall builds a virtual call whose receiver's runtime type is exactly
// receiver.
func ExactCall(receiver string, target MethodSignature) *CallSite {
	return &CallSite{Receiver: receiver, Target: target, Kind: CallVirtual, ExactReceiver: true}
}

// ConstructorCall builds a constructor invocation on typeName.
func ConstructorCall(typeName string, params ...string) *CallSite {
	return &CallSite{Receiver: typeName, Target: ConstructorSig(params...), Kind: CallConstructor}
}

// Alloc builds an allocation of typeName.
func Alloc(typeName string) *AllocationSite {
	return &AllocationSite{Type: typeName}
}

// Class builds a concrete class with an optional supertype.
func Class(name, super string, methods ...*MethodDecl) *ClassType {
	return &ClassType{Name: name, Super: super, Methods: methods}
}

// Interface builds an interface extending the given interfaces.
func Interface(name string, extends []string, methods ...*MethodDecl) *ClassType {
	return &ClassType{Name: name, Interfaces: extends, IsInterface: true, Methods: methods}
}
