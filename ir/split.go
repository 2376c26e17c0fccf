package ir

// Block splitting. Splits preserve CFG semantics: the two halves are
// linked by an unconditional jump, successor phi edges stay aligned
// because predecessor identity is replaced in place, and no new phis
// are ever needed since a block dominates its own instructions.

// IndexOf returns the position of instr within b, or -1 if instr does
// not belong to b.
func (b *BasicBlock) IndexOf(instr Instruction) int { return b.indexOf(instr) }

// SplitBlock splits b before instruction index i. Instructions from i
// onward move to a new block inserted after b in the block order; b
// is terminated with a jump to it. The new block is returned.
func SplitBlock(b *BasicBlock, i int) *BasicBlock {
	f := b.parent
	nb := f.InsertBlockAfter(b, "")

	moved := b.Instrs[i:]
	b.Instrs = b.Instrs[:i:i]
	nb.Instrs = append(nb.Instrs, moved...)
	for _, instr := range moved {
		instr.setParent(nb)
	}

	// The tail keeps b's successors; phi edges in those successors
	// are untouched because the predecessor slot is rewritten in
	// place.
	nb.Succs = b.Succs
	b.Succs = nil
	for _, s := range nb.Succs {
		for j, p := range s.Preds {
			if p == b {
				s.Preds[j] = nb
			}
		}
	}

	b.Append(NewJump())
	addEdge(b, nb)
	return nb
}

// SplitBlockBefore splits instr's block so that instr becomes the
// first instruction of the new block, which is returned.
func SplitBlockBefore(instr Instruction) *BasicBlock {
	b := instr.Parent()
	return SplitBlock(b, b.indexOf(instr))
}

// SplitBlockAfter splits instr's block immediately after instr,
// returning the new block that starts with instr's old successor
// instruction.
func SplitBlockAfter(instr Instruction) *BasicBlock {
	b := instr.Parent()
	return SplitBlock(b, b.indexOf(instr)+1)
}
