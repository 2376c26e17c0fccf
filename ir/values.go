package ir

// This file defines the Value and Instruction interfaces and the
// non-instruction values: parameters, constants, and constant
// expressions. Functions and globals are defined in func.go and
// module.go.

import (
	"bytes"
	"fmt"
)

// A Value is an SSA value: the result of an instruction, a function
// parameter, a global, a function, or a constant.
type Value interface {
	// Name returns the value's name, e.g. "t3" or "main".
	Name() string

	// Type returns the value's type.
	Type() Type

	String() string
}

// An Instruction is a member of a basic block. Instructions that
// compute a result are also Values; Store and the terminators are not.
type Instruction interface {
	String() string

	// Parent returns the basic block the instruction belongs to,
	// or nil if it has not been inserted yet.
	Parent() *BasicBlock

	// Operands appends to rands the addresses of this instruction's
	// operand slots, permitting in-place mutation by the IR
	// container (use-list bookkeeping, RAUW).
	Operands(rands []*Value) []*Value

	setParent(*BasicBlock)
}

// userValue is implemented by every Value whose uses are tracked by a
// reverse use list: instruction results, parameters, globals, and
// functions. Constants are immutable and shared; they carry no use
// list.
type userValue interface {
	Value
	referrersOf() *[]Instruction
}

// register is the mixin for an instruction that computes a value.
// The name mirrors the "virtual register" the value occupies in the
// printed form.
type register struct {
	block     *BasicBlock
	typ       Type
	name      string // optional; registers print as t<num> when empty
	num       int    // assigned on first insertion into a function
	numbered  bool
	referrers []Instruction
}

func (r *register) Type() Type { return r.typ }

func (r *register) Name() string {
	if r.name != "" {
		return r.name
	}
	return fmt.Sprintf("t%d", r.num)
}

func (r *register) Parent() *BasicBlock         { return r.block }
func (r *register) setParent(b *BasicBlock)     { r.block = b }
func (r *register) referrersOf() *[]Instruction { return &r.referrers }
func (r *register) Referrers() *[]Instruction   { return &r.referrers }
func (r *register) SetName(name string)         { r.name = name }

// anInstruction is the mixin for an instruction that computes no
// value (Store and the terminators).
type anInstruction struct {
	block *BasicBlock
}

func (i *anInstruction) Parent() *BasicBlock     { return i.block }
func (i *anInstruction) setParent(b *BasicBlock) { i.block = b }

// A Param is a function parameter.
type Param struct {
	name      string
	typ       Type
	parent    *Function
	referrers []Instruction
}

func (p *Param) Name() string                { return p.name }
func (p *Param) Type() Type                  { return p.typ }
func (p *Param) String() string              { return "%" + p.name }
func (p *Param) Parent() *Function           { return p.parent }
func (p *Param) referrersOf() *[]Instruction { return &p.referrers }
func (p *Param) Referrers() *[]Instruction   { return &p.referrers }

// A Constant is a Value known at compile time.
type Constant interface {
	Value
	constant()
}

// ConstInt is an integer constant.
type ConstInt struct {
	Val int64
	typ Type
}

// NewConstInt returns an integer constant of the given type.
func NewConstInt(typ Type, val int64) *ConstInt {
	return &ConstInt{Val: val, typ: typ}
}

func (c *ConstInt) Name() string   { return fmt.Sprintf("%d", c.Val) }
func (c *ConstInt) Type() Type     { return c.typ }
func (c *ConstInt) String() string { return fmt.Sprintf("%s %d", c.typ, c.Val) }
func (c *ConstInt) constant()      {}

// ConstNull is a null pointer constant.
type ConstNull struct {
	typ Type
}

func NewConstNull(typ Type) *ConstNull { return &ConstNull{typ: typ} }

func (c *ConstNull) Name() string   { return "null" }
func (c *ConstNull) Type() Type     { return c.typ }
func (c *ConstNull) String() string { return "null" }
func (c *ConstNull) constant()      {}

// ConstZero is the zero value of an arbitrary type.
type ConstZero struct {
	typ Type
}

func NewConstZero(typ Type) *ConstZero { return &ConstZero{typ: typ} }

func (c *ConstZero) Name() string   { return "zeroinit" }
func (c *ConstZero) Type() Type     { return c.typ }
func (c *ConstZero) String() string { return "zeroinit" }
func (c *ConstZero) constant()      {}

// ConstStruct is a constant aggregate. Its type may be a struct or a
// safe-pointer type (whose representation is a struct).
type ConstStruct struct {
	Fields []Constant
	typ    Type
}

func NewConstStruct(typ Type, fields []Constant) *ConstStruct {
	return &ConstStruct{Fields: fields, typ: typ}
}

func (c *ConstStruct) Name() string { return c.String() }
func (c *ConstStruct) Type() Type   { return c.typ }
func (c *ConstStruct) String() string {
	var buf bytes.Buffer
	buf.WriteString("{ ")
	for i, f := range c.Fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(f.String())
	}
	buf.WriteString(" }")
	return buf.String()
}
func (c *ConstStruct) constant() {}

// ConstFieldAddr is a constant field-projection of a global's address,
// the constant analogue of FieldAddr. It is how a rewritten global's
// payload field is referenced from arbitrary operand positions.
type ConstFieldAddr struct {
	Base  *Global
	Field int
}

func (c *ConstFieldAddr) Name() string { return c.String() }

func (c *ConstFieldAddr) Type() Type {
	elem := FieldType(c.Base.Elem, c.Field)
	return &PointerType{Elem: elem, AddrSpace: c.Base.AddrSpace}
}

func (c *ConstFieldAddr) String() string {
	return fmt.Sprintf("fieldaddr(@%s, %d)", c.Base.Name(), c.Field)
}
func (c *ConstFieldAddr) constant() {}
