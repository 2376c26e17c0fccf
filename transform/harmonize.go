package transform

// Safe-pointer type harmonization. The front end represents a safe
// pointer as a small aggregate but mutates the observed type of the
// value to the raw pointer it contains whenever a dereference address
// is formed. The result is load and store instructions whose value
// type disagrees with the pointed-to type, which later verification
// rejects. This pass repairs them.
//
// An ill-formed load of the shape
//
//	%q = load T*, mmptr<T>* %p
//
// becomes a projection of the raw-pointer field plus a load of it:
//
//	%a = fieldaddr %p, 0
//	%q = load T*, %a
//
// When the ill-formed load also feeds extract/insert chains (the code
// emitted for *p++ and *p-- on array pointers), the whole aggregate
// is reloaded and the chain is rewired to it.

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"

	"github.com/mmsafec/mmopt/ir"
)

// HarmonizeTypes is the type-harmonization pass.
type HarmonizeTypes struct {
	Log *logrus.Logger
}

// Run repairs every ill-formed load and store of m, one function at a
// time. It reports whether the module changed.
func (p *HarmonizeTypes) Run(m *ir.Module) (bool, error) {
	log := p.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(ioutil.Discard)
	}
	changed := false
	for _, f := range m.Funcs() {
		if f.IsDeclaration() {
			continue
		}
		ch, err := p.runOnFunction(f, log)
		if err != nil {
			return changed, err
		}
		changed = changed || ch
	}
	return changed, nil
}

func (p *HarmonizeTypes) runOnFunction(f *ir.Function, log *logrus.Logger) (bool, error) {
	// Collect first: the repairs insert and erase instructions.
	var illLoads []*ir.Load
	var illStores []*ir.Store
	f.AllInstructions(func(instr ir.Instruction) {
		switch instr := instr.(type) {
		case *ir.Load:
			if pointee := ir.ElemTypeOfPointer(instr.X.Type()); pointee != nil &&
				ir.IsSafePtr(pointee) && !ir.IsSafePtr(instr.Type()) {
				illLoads = append(illLoads, instr)
			}
		case *ir.Store:
			if pointee := ir.ElemTypeOfPointer(instr.Addr.Type()); pointee != nil &&
				ir.IsArrayPtr(pointee) && !ir.IsSafePtr(instr.Val.Type()) {
				illStores = append(illStores, instr)
			}
		}
	})

	for _, ld := range illLoads {
		p.repairLoad(ld)
	}
	for _, st := range illStores {
		if err := p.repairStore(st); err != nil {
			return len(illLoads) > 0, err
		}
	}

	if n := len(illLoads) + len(illStores); n > 0 {
		log.WithFields(logrus.Fields{
			"func":    f.Name(),
			"repairs": n,
		}).Debug("harmonize: repaired ill-formed memory instructions")
		return true, nil
	}
	return false, nil
}

// repairLoad replaces an ill-formed load with a raw-pointer-field
// projection and a well-typed load, reloading the whole aggregate for
// extract/insert users.
func (p *HarmonizeTypes) repairLoad(ld *ir.Load) {
	aggType := ir.ElemTypeOfPointer(ld.X.Type())

	// Split the users: aggregate-projection chains take a load of
	// the whole safe pointer; everything else takes the raw field.
	var chainUsers []ir.Instruction
	for _, user := range ir.Referrers(ld) {
		switch user.(type) {
		case *ir.Extract, *ir.Insert:
			chainUsers = append(chainUsers, user)
		}
	}
	if len(chainUsers) > 0 {
		aggLoad := ir.NewLoad(ld.X, aggType)
		ir.InsertBefore(ld, aggLoad)
		for _, user := range chainUsers {
			ir.ReplaceUsesOfWith(user, ld, aggLoad)
			// The chain instructions observed the raw-pointer type;
			// they operate on the aggregate now.
			if ins, ok := user.(*ir.Insert); ok {
				ins.RetagType(aggType)
			}
		}
	}

	rawAddr := ir.NewFieldAddr(ld.X, 0)
	ir.InsertBefore(ld, rawAddr)
	rawLoad := ir.NewLoad(rawAddr, ld.Type())
	ir.InsertBefore(ld, rawLoad)
	ir.ReplaceAllUsesWith(ld, rawLoad)
	ir.Erase(ld)
}

// repairStore handles a store of a mis-typed raw array pointer into an
// array-pointer slot (emitted for *++p and *--p). The value producer
// is an insert whose true result is the aggregate: re-tag it, recover
// the raw pointer with an extract, and point dependent loads at the
// extract.
func (p *HarmonizeTypes) repairStore(st *ir.Store) error {
	aggType := ir.ElemTypeOfPointer(st.Addr.Type())

	ins, ok := st.Val.(*ir.Insert)
	if !ok {
		return &PreconditionError{
			Pass:    "harmonize-types",
			Subject: st.String(),
			Reason:  "mis-typed store value is not produced by an insert",
		}
	}
	ins.RetagType(aggType)

	raw := ir.NewExtract(ins, 0)
	ir.InsertBefore(st, raw)

	users := append([]ir.Instruction(nil), ir.Referrers(ins)...)
	for _, user := range users {
		if ld, ok := user.(*ir.Load); ok && ld.X == ins {
			ir.ReplaceUsesOfWith(ld, ins, raw)
		}
	}
	return nil
}
