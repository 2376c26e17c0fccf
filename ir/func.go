package ir

// This file defines functions and their construction API.

// A Function is a named body of blocks, or a declaration if it has no
// blocks. Blocks[0] is the entry block.
type Function struct {
	name      string
	Sig       *FuncType
	Params    []*Param
	Blocks    []*BasicBlock
	CallConv  CallConv
	module    *Module
	referrers []Instruction
	nextNum   int
}

func (f *Function) Name() string                { return f.name }
func (f *Function) Type() Type                  { return f.Sig }
func (f *Function) String() string              { return "@" + f.name }
func (f *Function) referrersOf() *[]Instruction { return &f.referrers }
func (f *Function) Referrers() *[]Instruction   { return &f.referrers }
func (f *Function) Module() *Module             { return f.module }

// IsDeclaration reports whether f has no body in this module.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Entry returns the function's entry block, or nil for declarations.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// NewParam appends a parameter to f.
func (f *Function) NewParam(name string, typ Type) *Param {
	p := &Param{name: name, typ: typ, parent: f}
	f.Params = append(f.Params, p)
	return p
}

// NewBlock appends a new empty block with the given label.
func (f *Function) NewBlock(comment string) *BasicBlock {
	b := &BasicBlock{Index: len(f.Blocks), Comment: comment, parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// InsertBlockAfter creates a new block placed immediately after pos in
// the block order. Block indices are renumbered.
func (f *Function) InsertBlockAfter(pos *BasicBlock, comment string) *BasicBlock {
	b := &BasicBlock{Comment: comment, parent: f}
	i := pos.Index + 1
	f.Blocks = append(f.Blocks, nil)
	copy(f.Blocks[i+1:], f.Blocks[i:])
	f.Blocks[i] = b
	f.renumberBlocks()
	return b
}

func (f *Function) renumberBlocks() {
	for i, b := range f.Blocks {
		b.Index = i
	}
}

// numberRegister assigns a printing number to a value-producing
// instruction the first time it joins the function.
func (f *Function) numberRegister(instr Instruction) {
	type numbered interface {
		takeNumber(f *Function)
	}
	if n, ok := instr.(numbered); ok {
		n.takeNumber(f)
	}
}

func (r *register) takeNumber(f *Function) {
	if !r.numbered {
		r.num = f.nextNum
		f.nextNum++
		r.numbered = true
	}
}

// AllInstructions calls visit for every instruction of f in block
// order. It is safe against mutation of later blocks only; mutating
// passes snapshot their worklists first.
func (f *Function) AllInstructions(visit func(Instruction)) {
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			visit(instr)
		}
	}
}

// addEdge links basic block from to to in the CFG.
func addEdge(from, to *BasicBlock) {
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// AddEdge links from to to. Exported for IR builders.
func AddEdge(from, to *BasicBlock) { addEdge(from, to) }
