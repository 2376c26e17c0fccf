package ir

// Capability layer for the temporal-safety passes: read-only
// predicates identifying safe-pointer types and key-check call sites.
// Multi-qualified storage is recorded by the Multiple field of Alloc
// and Global. Nothing in this file mutates the IR.

import "strings"

// Names of the runtime key-check helpers. Per-module variants carry a
// "<module>_" prefix.
const (
	MMPtrCheckFn      = "MMPtrKeyCheck"
	MMArrayPtrCheckFn = "MMArrayPtrKeyCheck"
)

// CheckKind distinguishes the two key-check helpers.
type CheckKind int

const (
	CheckSingle CheckKind = iota
	CheckArray
)

// IsSinglePtr reports whether t is the single-object safe pointer.
func IsSinglePtr(t Type) bool {
	_, ok := t.(*SinglePtrType)
	return ok
}

// IsArrayPtr reports whether t is the array safe pointer.
func IsArrayPtr(t Type) bool {
	_, ok := t.(*ArrayPtrType)
	return ok
}

// IsSafePtr reports whether t is one of the two safe-pointer kinds.
func IsSafePtr(t Type) bool { return IsSinglePtr(t) || IsArrayPtr(t) }

// Pointee returns the pointed-to type of a raw or safe pointer, or
// nil if t is not a pointer.
func Pointee(t Type) Type {
	switch t := t.(type) {
	case *PointerType:
		return t.Elem
	case *SinglePtrType:
		return t.Elem
	case *ArrayPtrType:
		return t.Elem
	}
	return nil
}

// ElemTypeOfPointer returns the element type of a raw pointer type,
// or nil if t is not a raw pointer.
func ElemTypeOfPointer(t Type) Type {
	if pt, ok := t.(*PointerType); ok {
		return pt.Elem
	}
	return nil
}

// AddrSpaceOf returns the address space of a raw pointer type.
func AddrSpaceOf(t Type) int {
	if pt, ok := t.(*PointerType); ok {
		return pt.AddrSpace
	}
	return 0
}

// IsCheckHelperName reports whether name names a key-check helper,
// either the plain spelling or a per-module variant.
func IsCheckHelperName(name string) bool {
	return strings.Contains(name, MMPtrCheckFn) || strings.Contains(name, MMArrayPtrCheckFn)
}

// IsCheckHelper reports whether f is one of the runtime key-check
// helpers.
func IsCheckHelper(f *Function) bool { return f != nil && IsCheckHelperName(f.Name()) }

// IsCheckCall reports whether instr is a direct call to a key-check
// helper.
func IsCheckCall(instr Instruction) bool {
	call, ok := instr.(*Call)
	if !ok {
		return false
	}
	return IsCheckHelper(call.StaticCallee())
}

// CheckCallKind returns the helper kind of a key-check call. The
// second result is false if instr is not a key-check call.
func CheckCallKind(instr Instruction) (CheckKind, bool) {
	call, ok := instr.(*Call)
	if !ok {
		return 0, false
	}
	callee := call.StaticCallee()
	if callee == nil {
		return 0, false
	}
	switch {
	case strings.Contains(callee.Name(), MMArrayPtrCheckFn):
		return CheckArray, true
	case strings.Contains(callee.Name(), MMPtrCheckFn):
		return CheckSingle, true
	}
	return 0, false
}

// CheckHelperSig returns the prototype of the key-check helper for
// kind: one pointer-to-representation-struct parameter, no result.
func CheckHelperSig(kind CheckKind) *FuncType {
	var agg Type
	if kind == CheckArray {
		agg = &StructType{Fields: []Type{PointerTo(I8), I64, PointerTo(I64)}}
	} else {
		agg = &StructType{Fields: []Type{PointerTo(I8), I64}}
	}
	return &FuncType{Params: []Type{PointerTo(agg)}, Return: Void}
}
