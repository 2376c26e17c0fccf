package ir

// This file defines basic blocks and the structural mutators of the
// IR graph. All mutation goes through the functions here so that the
// reverse use lists stay consistent: operand edges are plain value
// references, and each user-tracked value carries the list of
// instructions that reference it.

import "fmt"

// A BasicBlock is an ordered sequence of instructions ending in a
// terminator. Preds and Succs are the CFG edges; Succs is ordered
// (then/else for If).
type BasicBlock struct {
	Index   int    // index within Parent().Blocks
	Comment string // label, for printing
	parent  *Function
	Instrs  []Instruction
	Preds   []*BasicBlock
	Succs   []*BasicBlock
}

// Parent returns the function that contains b.
func (b *BasicBlock) Parent() *Function { return b.parent }

// Name returns the block's label.
func (b *BasicBlock) Name() string {
	if b.Comment != "" {
		return b.Comment
	}
	return fmt.Sprintf("bb%d", b.Index)
}

func (b *BasicBlock) String() string { return b.Name() }

// Terminator returns the block's final instruction, or nil if the
// block is still under construction.
func (b *BasicBlock) Terminator() Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	switch last := b.Instrs[len(b.Instrs)-1].(type) {
	case *Jump, *If, *Return:
		return last
	}
	return nil
}

// FirstNonPhi returns the first instruction of b that is not a Phi,
// or nil if the block is empty.
func (b *BasicBlock) FirstNonPhi() Instruction {
	for _, instr := range b.Instrs {
		if _, ok := instr.(*Phi); !ok {
			return instr
		}
	}
	return nil
}

// Phis returns the block's leading Phi instructions.
func (b *BasicBlock) Phis() []*Phi {
	var phis []*Phi
	for _, instr := range b.Instrs {
		phi, ok := instr.(*Phi)
		if !ok {
			break
		}
		phis = append(phis, phi)
	}
	return phis
}

// indexOf returns the position of instr within b, or -1.
func (b *BasicBlock) indexOf(instr Instruction) int {
	for i, x := range b.Instrs {
		if x == instr {
			return i
		}
	}
	return -1
}

// Insert places instr at position i of b, registering its operand
// uses and numbering its result.
func (b *BasicBlock) Insert(i int, instr Instruction) {
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+1:], b.Instrs[i:])
	b.Instrs[i] = instr
	instr.setParent(b)
	if b.parent != nil {
		b.parent.numberRegister(instr)
	}
	registerOperands(instr)
}

// Append places instr at the end of b.
func (b *BasicBlock) Append(instr Instruction) { b.Insert(len(b.Instrs), instr) }

// InsertBefore places instr immediately before mark, which must
// belong to a block.
func InsertBefore(mark, instr Instruction) {
	b := mark.Parent()
	if b == nil {
		panic("InsertBefore: mark is detached")
	}
	b.Insert(b.indexOf(mark), instr)
}

// InsertAfter places instr immediately after mark.
func InsertAfter(mark, instr Instruction) {
	b := mark.Parent()
	if b == nil {
		panic("InsertAfter: mark is detached")
	}
	b.Insert(b.indexOf(mark)+1, instr)
}

// Erase removes instr from its block and unregisters its operand
// uses. If instr computes a value that still has referrers, Erase
// panics: replace the uses first.
func Erase(instr Instruction) {
	if v, ok := instr.(userValue); ok {
		if refs := v.referrersOf(); len(*refs) > 0 {
			panic(fmt.Sprintf("Erase: %s still has %d uses", v.Name(), len(*refs)))
		}
	}
	b := instr.Parent()
	if b == nil {
		panic("Erase: detached instruction")
	}
	i := b.indexOf(instr)
	unregisterOperands(instr)
	b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
	instr.setParent(nil)
}

// registerOperands records instr as a user of each of its operands.
func registerOperands(instr Instruction) {
	var rands [8]*Value
	for _, rand := range instr.Operands(rands[:0]) {
		addUse(*rand, instr)
	}
}

// unregisterOperands removes instr from the use lists of its operands.
func unregisterOperands(instr Instruction) {
	var rands [8]*Value
	for _, rand := range instr.Operands(rands[:0]) {
		removeUse(*rand, instr)
	}
}

func addUse(v Value, user Instruction) {
	if v == nil {
		return
	}
	if uv, ok := v.(userValue); ok {
		refs := uv.referrersOf()
		*refs = append(*refs, user)
	}
}

func removeUse(v Value, user Instruction) {
	if v == nil {
		return
	}
	uv, ok := v.(userValue)
	if !ok {
		return
	}
	refs := uv.referrersOf()
	for i, r := range *refs {
		if r == user {
			*refs = append((*refs)[:i], (*refs)[i+1:]...)
			return
		}
	}
}

// Referrers returns the instructions that use v, or nil if v's uses
// are not tracked (constants).
func Referrers(v Value) []Instruction {
	if uv, ok := v.(userValue); ok {
		return *uv.referrersOf()
	}
	return nil
}

// ReplaceAllUsesWith redirects every tracked use of old to new. For
// globals, uses inside other globals' initializers are rewritten as
// well.
func ReplaceAllUsesWith(old, new Value) {
	uv, ok := old.(userValue)
	if !ok {
		panic("ReplaceAllUsesWith: uses of old are not tracked")
	}
	refs := uv.referrersOf()
	users := append([]Instruction(nil), *refs...)
	for _, user := range users {
		replaceOperand(user, old, new)
	}
	if g, ok := old.(*Global); ok && g.module != nil {
		newConst, isConst := new.(Constant)
		if isConst {
			for _, other := range g.module.globals {
				if other.Init != nil {
					other.Init, _ = replaceInConstant(other.Init, g, newConst)
				}
			}
		}
	}
}

// ReplaceUsesOfWith rewrites the operands of a single user.
func ReplaceUsesOfWith(user Instruction, old, new Value) { replaceOperand(user, old, new) }

// SetOperand assigns v into one of user's operand slots, keeping the
// use lists consistent. slot must come from user.Operands. Used by IR
// readers to resolve forward references after insertion.
func SetOperand(user Instruction, slot *Value, v Value) {
	if *slot != nil {
		removeUse(*slot, user)
	}
	*slot = v
	addUse(v, user)
}

func replaceOperand(user Instruction, old, new Value) {
	var rands [8]*Value
	for _, rand := range user.Operands(rands[:0]) {
		if *rand == old {
			*rand = new
			removeUse(old, user)
			addUse(new, user)
		}
	}
}

// replaceInConstant rebuilds c with old replaced by new wherever it
// appears, returning the (possibly unchanged) constant.
func replaceInConstant(c Constant, old *Global, new Constant) (Constant, bool) {
	switch c := c.(type) {
	case *Global:
		if c == old {
			return new, true
		}
	case *ConstStruct:
		changed := false
		fields := make([]Constant, len(c.Fields))
		for i, f := range c.Fields {
			nf, ch := replaceInConstant(f, old, new)
			fields[i] = nf
			changed = changed || ch
		}
		if changed {
			return NewConstStruct(c.typ, fields), true
		}
	case *ConstFieldAddr:
		if c.Base == old {
			// The payload of a rewritten global cannot itself be
			// rewritten again; keep the expression intact.
			return c, false
		}
	}
	return c, false
}
