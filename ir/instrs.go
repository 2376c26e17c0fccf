package ir

// This file defines the instruction set. Constructors build detached
// instructions; they become part of the IR graph when inserted into a
// basic block, at which point their operand uses are registered.

import "fmt"

// Alloc reserves a typed stack slot and yields its address. Allocs
// always reside in the entry block of a function.
type Alloc struct {
	register
	Elem     Type // allocated type; the result type is Elem*
	Multiple bool // declared with the multi-qualified storage qualifier
	Align    int  // 0 means natural alignment
}

// NewAlloc returns a stack allocation of elem.
func NewAlloc(elem Type) *Alloc {
	a := &Alloc{Elem: elem}
	a.typ = PointerTo(elem)
	return a
}

func (v *Alloc) Operands(rands []*Value) []*Value { return rands }

// Load reads a value from an address. The result type is carried
// explicitly rather than derived from the operand: the front end can
// mis-observe the loaded type of a safe pointer, and the
// type-harmonization pass repairs exactly that mismatch.
type Load struct {
	register
	X Value // address operand
}

// NewLoad returns a load of typ from addr.
func NewLoad(addr Value, typ Type) *Load {
	l := &Load{X: addr}
	l.typ = typ
	return l
}

func (v *Load) Operands(rands []*Value) []*Value { return append(rands, &v.X) }

// Store writes Val to address Addr.
type Store struct {
	anInstruction
	Addr Value
	Val  Value
}

func NewStore(val, addr Value) *Store { return &Store{Addr: addr, Val: val} }

func (s *Store) Operands(rands []*Value) []*Value { return append(rands, &s.Val, &s.Addr) }

// FieldAddr computes the address of field Field of the aggregate that
// X points to. The aggregate may be a struct or a safe pointer (whose
// representation struct is addressed).
type FieldAddr struct {
	register
	X     Value
	Field int
}

// NewFieldAddr returns the address of field i of the aggregate *x.
// It panics if x is not a pointer to an aggregate.
func NewFieldAddr(x Value, field int) *FieldAddr {
	pt, ok := x.Type().(*PointerType)
	if !ok {
		panic(fmt.Sprintf("NewFieldAddr: %s is not a pointer", x.Type()))
	}
	f := &FieldAddr{X: x, Field: field}
	f.typ = &PointerType{Elem: FieldType(pt.Elem, field), AddrSpace: pt.AddrSpace}
	return f
}

func (v *FieldAddr) Operands(rands []*Value) []*Value { return append(rands, &v.X) }

// IndexAddr computes the address of the element at offset Index from
// the raw pointer X.
type IndexAddr struct {
	register
	X     Value
	Index Value
}

func NewIndexAddr(x, index Value) *IndexAddr {
	ia := &IndexAddr{X: x, Index: index}
	ia.typ = x.Type()
	return ia
}

func (v *IndexAddr) Operands(rands []*Value) []*Value { return append(rands, &v.X, &v.Index) }

// Extract projects field Index out of the aggregate value Agg.
type Extract struct {
	register
	Agg   Value
	Index int
}

func NewExtract(agg Value, index int) *Extract {
	e := &Extract{Agg: agg, Index: index}
	e.typ = FieldType(agg.Type(), index)
	return e
}

// NewExtractTyped builds an extract with an explicit result type.
// The front end records mis-observed types on some projections; the
// reader reproduces them faithfully so harmonization can repair them.
func NewExtractTyped(agg Value, index int, typ Type) *Extract {
	e := &Extract{Agg: agg, Index: index}
	e.typ = typ
	return e
}

func (v *Extract) Operands(rands []*Value) []*Value { return append(rands, &v.Agg) }

// Insert yields a copy of the aggregate value Agg with field Index
// replaced by Elem.
type Insert struct {
	register
	Agg   Value
	Elem  Value
	Index int
}

func NewInsert(agg, elem Value, index int) *Insert {
	i := &Insert{Agg: agg, Elem: elem, Index: index}
	i.typ = agg.Type()
	return i
}

// NewInsertTyped builds an insert with an explicit result type.
func NewInsertTyped(agg, elem Value, index int, typ Type) *Insert {
	i := &Insert{Agg: agg, Elem: elem, Index: index}
	i.typ = typ
	return i
}

func (v *Insert) Operands(rands []*Value) []*Value { return append(rands, &v.Agg, &v.Elem) }

// RetagType overwrites the observed result type. The front end records
// a raw-pointer type for some Insert results whose true type is the
// safe-pointer aggregate; type harmonization corrects the record.
func (v *Insert) RetagType(t Type) { v.typ = t }

// CallConv is a calling convention.
type CallConv int

const (
	CallConvC    CallConv = iota // default C convention
	CallConvFast                 // the front end's fast convention
)

// Call invokes Callee with Args. A call is direct if Callee is a
// *Function, indirect otherwise. The result type of a direct call is
// the callee's return type.
type Call struct {
	register
	Callee   Value
	Args     []Value
	CallConv CallConv
}

// NewCall returns a call instruction. typ is the result type; use
// Void for procedures.
func NewCall(callee Value, args []Value, typ Type) *Call {
	c := &Call{Callee: callee, Args: args}
	c.typ = typ
	return c
}

// StaticCallee returns the called function if the call is direct,
// nil otherwise.
func (v *Call) StaticCallee() *Function {
	f, _ := v.Callee.(*Function)
	return f
}

func (v *Call) Operands(rands []*Value) []*Value {
	rands = append(rands, &v.Callee)
	for i := range v.Args {
		rands = append(rands, &v.Args[i])
	}
	return rands
}

// Convert reinterprets the pointer X at another pointer type. It is a
// no-op cast: the bit pattern is unchanged.
type Convert struct {
	register
	X Value
}

func NewConvert(x Value, to Type) *Convert {
	c := &Convert{X: x}
	c.typ = to
	return c
}

func (v *Convert) Operands(rands []*Value) []*Value { return append(rands, &v.X) }

// IsNull tests a raw pointer against null, yielding an i1.
type IsNull struct {
	register
	X Value
}

func NewIsNull(x Value) *IsNull {
	n := &IsNull{X: x}
	n.typ = I1
	return n
}

func (v *IsNull) Operands(rands []*Value) []*Value { return append(rands, &v.X) }

// Phi merges one value per predecessor edge. Edges is kept parallel
// to Parent().Preds.
type Phi struct {
	register
	Edges []Value
}

func NewPhi(typ Type, edges []Value) *Phi {
	p := &Phi{Edges: edges}
	p.typ = typ
	return p
}

func (v *Phi) Operands(rands []*Value) []*Value {
	for i := range v.Edges {
		rands = append(rands, &v.Edges[i])
	}
	return rands
}

// Jump transfers control to Parent().Succs[0].
type Jump struct {
	anInstruction
}

func NewJump() *Jump { return &Jump{} }

func (s *Jump) Operands(rands []*Value) []*Value { return rands }

// If transfers control to Parent().Succs[0] if Cond is true, to
// Parent().Succs[1] otherwise.
type If struct {
	anInstruction
	Cond Value
}

func NewIf(cond Value) *If { return &If{Cond: cond} }

func (s *If) Operands(rands []*Value) []*Value { return append(rands, &s.Cond) }

// Return returns from the enclosing function, with a result value for
// non-void functions.
type Return struct {
	anInstruction
	Result Value // nil for void returns
}

func NewReturn(result Value) *Return { return &Return{Result: result} }

func (s *Return) Operands(rands []*Value) []*Value {
	if s.Result != nil {
		rands = append(rands, &s.Result)
	}
	return rands
}
