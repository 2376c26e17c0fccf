package ir

// This file defines the type system of the IR: fixed-width integers,
// raw pointers, structs, function types, and the two memory-safe
// pointer kinds. Safe pointers are first-class types whose in-memory
// representation is a small aggregate; the layout is fixed here and
// pattern-matched by the passes, never re-synthesized.

import (
	"bytes"
	"fmt"
	"strconv"
)

// A Type is the compile-time type of a Value.
type Type interface {
	String() string
}

// IntType is a fixed-width integer type.
type IntType struct {
	Width int // in bits
}

// PointerType is a raw (unsafe) pointer.
type PointerType struct {
	Elem      Type
	AddrSpace int
}

// StructType is an ordered aggregate of field types.
type StructType struct {
	Fields []Type
}

// SinglePtrType is a memory-safe pointer to a single object.
// Its in-memory representation is { Elem*, i64 } and it must be
// 16-byte aligned.
type SinglePtrType struct {
	Elem Type
}

// ArrayPtrType is a memory-safe pointer supporting pointer arithmetic.
// Its in-memory representation is { Elem*, i64, i64* } and it must be
// 32-byte aligned.
type ArrayPtrType struct {
	Elem Type
}

// FuncType is the signature of a function.
type FuncType struct {
	Params   []Type
	Return   Type // Void for procedures
	Variadic bool
}

// VoidType is the type of instructions that produce no value.
type VoidType struct{}

// Predeclared types.
var (
	Void = &VoidType{}
	I1   = &IntType{Width: 1}
	I8   = &IntType{Width: 8}
	I32  = &IntType{Width: 32}
	I64  = &IntType{Width: 64}
)

func (t *IntType) String() string { return "i" + strconv.Itoa(t.Width) }

func (t *PointerType) String() string {
	if t.AddrSpace != 0 {
		return fmt.Sprintf("%s addrspace(%d)*", t.Elem, t.AddrSpace)
	}
	return t.Elem.String() + "*"
}

func (t *StructType) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range t.Fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(f.String())
	}
	buf.WriteByte('}')
	return buf.String()
}

func (t *SinglePtrType) String() string { return "mmptr<" + t.Elem.String() + ">" }
func (t *ArrayPtrType) String() string  { return "mmarrayptr<" + t.Elem.String() + ">" }

func (t *FuncType) String() string {
	var buf bytes.Buffer
	buf.WriteString("func(")
	for i, p := range t.Params {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(p.String())
	}
	if t.Variadic {
		if len(t.Params) > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString("...")
	}
	buf.WriteByte(')')
	if _, ok := t.Return.(*VoidType); !ok {
		buf.WriteByte(' ')
		buf.WriteString(t.Return.String())
	}
	return buf.String()
}

func (t *VoidType) String() string { return "void" }

// PointerTo returns the raw pointer type to elem in address space 0.
func PointerTo(elem Type) *PointerType { return &PointerType{Elem: elem} }

// FieldTypes returns the ordered field types of an aggregate type.
// Safe-pointer types expose their representation struct fields.
// ok is false for non-aggregate types.
func FieldTypes(t Type) ([]Type, bool) {
	switch t := t.(type) {
	case *StructType:
		return t.Fields, true
	case *SinglePtrType:
		return []Type{PointerTo(t.Elem), I64}, true
	case *ArrayPtrType:
		return []Type{PointerTo(t.Elem), I64, PointerTo(I64)}, true
	}
	return nil, false
}

// FieldType returns the type of field i of aggregate type t.
// It panics if t is not an aggregate or i is out of range.
func FieldType(t Type, i int) Type {
	fields, ok := FieldTypes(t)
	if !ok {
		panic(fmt.Sprintf("FieldType: %s is not an aggregate", t))
	}
	return fields[i]
}

// TypesEqual reports whether two types are structurally identical.
func TypesEqual(a, b Type) bool {
	if a == b {
		return true
	}
	switch a := a.(type) {
	case *IntType:
		b, ok := b.(*IntType)
		return ok && a.Width == b.Width
	case *PointerType:
		b, ok := b.(*PointerType)
		return ok && a.AddrSpace == b.AddrSpace && TypesEqual(a.Elem, b.Elem)
	case *StructType:
		b, ok := b.(*StructType)
		if !ok || len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if !TypesEqual(a.Fields[i], b.Fields[i]) {
				return false
			}
		}
		return true
	case *SinglePtrType:
		b, ok := b.(*SinglePtrType)
		return ok && TypesEqual(a.Elem, b.Elem)
	case *ArrayPtrType:
		b, ok := b.(*ArrayPtrType)
		return ok && TypesEqual(a.Elem, b.Elem)
	case *FuncType:
		b, ok := b.(*FuncType)
		if !ok || a.Variadic != b.Variadic || len(a.Params) != len(b.Params) {
			return false
		}
		for i := range a.Params {
			if !TypesEqual(a.Params[i], b.Params[i]) {
				return false
			}
		}
		return TypesEqual(a.Return, b.Return)
	case *VoidType:
		_, ok := b.(*VoidType)
		return ok
	}
	return false
}
