package transform

// Redundant key-check removal. A key check validates one safe-pointer
// aggregate in memory; its single argument, after stripping no-op
// pointer casts, is the canonical identity of the checked location.
// Within a function, a check is redundant when the same location is
// already checked on every acyclic path from the entry with no
// intervening store to it and no intervening may-free call. The
// block splitter has isolated every may-free call into its own block,
// so the kill is block-granular: a may-free block forces the empty
// fact set.
//
// The analysis is a forward must-analysis over the powerset of
// checked aggregate addresses: facts are intersected over
// predecessors, a check generates its address, a store kills its
// destination. Iteration starts from the empty sets and grows
// monotonically to the least fixpoint, which is sound: it can only
// under-approximate the checked set and therefore never removes a
// check that some path still needs.

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"

	"github.com/mmsafec/mmopt/ir"
)

// KeyCheckOpt is the check-removal pass.
type KeyCheckOpt struct {
	// Hoist enables add-check-before-call mode: before the dataflow
	// runs, a guarded key check is inserted ahead of every call that
	// passes a lowered safe-pointer argument whose originating
	// aggregate address can be traced. Arguments that cannot be traced
	// get no check.
	Hoist bool

	// EntrySeeds optionally provides, per function, aggregate
	// addresses the host knows are checked on entry. They seed the
	// entry block's fact set.
	EntrySeeds map[*ir.Function][]ir.Value

	// Removed counts the checks erased across all runs.
	Removed int

	Log *logrus.Logger
}

type valueSet map[ir.Value]struct{}

func (s valueSet) clone() valueSet {
	c := make(valueSet, len(s))
	for v := range s {
		c[v] = struct{}{}
	}
	return c
}

func (s valueSet) equal(o valueSet) bool {
	if len(s) != len(o) {
		return false
	}
	for v := range s {
		if _, ok := o[v]; !ok {
			return false
		}
	}
	return true
}

// stripCasts resolves a check argument to its canonical address.
func stripCasts(v ir.Value) ir.Value {
	for {
		c, ok := v.(*ir.Convert)
		if !ok {
			return v
		}
		v = c.X
	}
}

// Run removes redundant key checks from every function of m. It
// reports whether the module changed.
func (p *KeyCheckOpt) Run(m *ir.Module, split *SplitResult) (bool, error) {
	if split == nil {
		return false, &MissingDependencyError{Pass: "key-check-opt", Requires: "transform.SplitResult"}
	}
	log := p.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(ioutil.Discard)
	}

	// The hoist rewrites move may-free calls into fresh blocks; work
	// on a local copy of the block set so the producer's result stays
	// immutable.
	mayFreeBBs := make(map[*ir.BasicBlock]struct{}, len(split.MayFreeBBs))
	for b := range split.MayFreeBBs {
		mayFreeBBs[b] = struct{}{}
	}

	changed := false
	if p.Hoist {
		hoisted, err := p.addCheckBeforeCalls(m, mayFreeBBs, log)
		if err != nil {
			return false, err
		}
		changed = changed || hoisted
	}

	total := 0
	for _, f := range m.Funcs() {
		if f.IsDeclaration() || ir.IsCheckHelper(f) {
			continue
		}
		total += p.runOnFunction(f, mayFreeBBs)
	}
	p.Removed += total
	if total > 0 {
		log.WithFields(logrus.Fields{"removed": total}).Info("keycheckopt: erased redundant checks")
	}
	return changed || total > 0, nil
}

// runOnFunction runs the dataflow and erases redundant checks,
// returning how many were removed.
func (p *KeyCheckOpt) runOnFunction(f *ir.Function, mayFreeBBs map[*ir.BasicBlock]struct{}) int {
	in := make(map[*ir.BasicBlock]valueSet, len(f.Blocks))
	out := make(map[*ir.BasicBlock]valueSet, len(f.Blocks))
	for _, b := range f.Blocks {
		in[b] = valueSet{}
		out[b] = valueSet{}
	}

	seeds := valueSet{}
	for _, v := range p.EntrySeeds[f] {
		seeds[stripCasts(v)] = struct{}{}
	}

	// Fixpoint.
	for {
		work := false
		for _, b := range f.Blocks {
			var newIn valueSet
			if _, mayFree := mayFreeBBs[b]; mayFree {
				newIn = valueSet{}
			} else if b == f.Entry() {
				newIn = seeds.clone()
			} else {
				newIn = p.joinPreds(b, out, mayFreeBBs)
			}

			var newOut valueSet
			if _, mayFree := mayFreeBBs[b]; mayFree {
				newOut = valueSet{}
			} else {
				newOut = p.transfer(b, newIn)
			}

			if !newIn.equal(in[b]) || !newOut.equal(out[b]) {
				in[b], out[b] = newIn, newOut
				work = true
			}
		}
		if !work {
			break
		}
	}

	// Rewalk: schedule every check whose address is already covered.
	var redundant []*ir.Call
	for _, b := range f.Blocks {
		redundant = p.transferCollect(b, in[b].clone(), redundant)
	}

	for _, call := range redundant {
		ir.Erase(call)
	}
	return len(redundant)
}

// joinPreds intersects the predecessors' out sets; any may-free
// predecessor forces the empty set, and so does having no
// predecessors.
func (p *KeyCheckOpt) joinPreds(b *ir.BasicBlock, out map[*ir.BasicBlock]valueSet, mayFreeBBs map[*ir.BasicBlock]struct{}) valueSet {
	res := valueSet{}
	for i, pred := range b.Preds {
		if _, mayFree := mayFreeBBs[pred]; mayFree {
			return valueSet{}
		}
		if i == 0 {
			res = out[pred].clone()
			continue
		}
		for v := range res {
			if _, ok := out[pred][v]; !ok {
				delete(res, v)
			}
		}
	}
	return res
}

// transfer applies b's effect to set and returns the result.
func (p *KeyCheckOpt) transfer(b *ir.BasicBlock, set valueSet) valueSet {
	cur := set.clone()
	for _, instr := range b.Instrs {
		switch instr := instr.(type) {
		case *ir.Call:
			if ir.IsCheckCall(instr) && len(instr.Args) > 0 {
				cur[stripCasts(instr.Args[0])] = struct{}{}
			}
		case *ir.Store:
			delete(cur, stripCasts(instr.Addr))
		}
	}
	return cur
}

// transferCollect is the marking walk: like transfer, but a check on
// an already-covered address is appended to redundant instead of
// re-added.
func (p *KeyCheckOpt) transferCollect(b *ir.BasicBlock, cur valueSet, redundant []*ir.Call) []*ir.Call {
	for _, instr := range b.Instrs {
		switch instr := instr.(type) {
		case *ir.Call:
			if ir.IsCheckCall(instr) && len(instr.Args) > 0 {
				addr := stripCasts(instr.Args[0])
				if _, covered := cur[addr]; covered {
					redundant = append(redundant, instr)
				} else {
					cur[addr] = struct{}{}
				}
			}
		case *ir.Store:
			delete(cur, stripCasts(instr.Addr))
		}
	}
	return redundant
}
