package transform

// Lock insertion for multi-qualified storage. Every multi-qualified
// stack slot or global of type T is replaced by an aggregate that
// prefixes T with a 64-bit lock word:
//
//	{ i64 lock, T }           for plain T
//	{ i64 pad, i64 lock, T }  when T is a safe pointer
//
// The padding word keeps the safe-pointer payload at offset 16 so the
// code generator's 16/32-byte alignment expectation holds once the
// whole aggregate is aligned to 16. Stack locks initialize to 1,
// global locks to 2, and every surviving reference resolves to the
// address of the payload field.

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"

	"github.com/mmsafec/mmopt/ir"
)

// Lock word values for the two storage classes.
const (
	stackLock  = 1
	globalLock = 2
)

// AddLockToMultiple is the lock-insertion pass.
type AddLockToMultiple struct {
	Log *logrus.Logger
}

// Run rewrites every multi-qualified stack slot and global of m.
// It reports whether the module changed.
func (p *AddLockToMultiple) Run(m *ir.Module) (bool, error) {
	log := p.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(ioutil.Discard)
	}

	// Thread-local multi-qualified storage is outside the scheme.
	// Detect it before any mutation so a failed run leaves the
	// module untouched.
	for _, g := range m.Globals() {
		if g.Multiple && g.ThreadLocal {
			return false, &PreconditionError{
				Pass:    "add-lock-to-multiple",
				Subject: g.String(),
				Reason:  "thread-local multi-qualified storage is not supported",
			}
		}
	}

	stackChanged := p.rewriteStackSlots(m, log)
	globalChanged := p.rewriteGlobals(m, log)
	return stackChanged || globalChanged, nil
}

// lockLayout returns the locked aggregate for inner type t, with the
// field indices of the lock and the payload.
func lockLayout(t ir.Type) (st *ir.StructType, lockIdx, payloadIdx int) {
	if ir.IsSafePtr(t) {
		return &ir.StructType{Fields: []ir.Type{ir.I64, ir.I64, t}}, 1, 2
	}
	return &ir.StructType{Fields: []ir.Type{ir.I64, t}}, 0, 1
}

// rewriteStackSlots replaces each multi-qualified Alloc with a locked
// aggregate Alloc, stores 1 into the lock field, and redirects all
// uses to the payload field's address. Only the entry block is
// scanned; the IR keeps every Alloc there.
func (p *AddLockToMultiple) rewriteStackSlots(m *ir.Module, log *logrus.Logger) bool {
	var slots []*ir.Alloc
	for _, f := range m.Funcs() {
		if f.IsDeclaration() {
			continue
		}
		for _, instr := range f.Entry().Instrs {
			if alloc, ok := instr.(*ir.Alloc); ok && alloc.Multiple {
				slots = append(slots, alloc)
			}
		}
	}

	for _, alloc := range slots {
		fn := alloc.Parent().Parent()
		st, lockIdx, payloadIdx := lockLayout(alloc.Elem)

		locked := ir.NewAlloc(st)
		if ir.IsSafePtr(alloc.Elem) {
			locked.Align = 16
		}
		ir.InsertBefore(alloc, locked)

		lockAddr := ir.NewFieldAddr(locked, lockIdx)
		ir.InsertBefore(alloc, lockAddr)
		ir.InsertBefore(alloc, ir.NewStore(ir.NewConstInt(ir.I64, stackLock), lockAddr))

		payloadAddr := ir.NewFieldAddr(locked, payloadIdx)
		ir.InsertBefore(alloc, payloadAddr)

		ir.ReplaceAllUsesWith(alloc, payloadAddr)
		ir.Erase(alloc)

		log.WithFields(logrus.Fields{
			"func": fn.Name(),
			"type": st,
		}).Debug("locks: rewrote multi-qualified stack slot")
	}
	return len(slots) > 0
}

// rewriteGlobals replaces each multi-qualified global with a locked
// aggregate global named <name>_multiple, lock value 2, and redirects
// all uses to a constant projection of the payload field.
func (p *AddLockToMultiple) rewriteGlobals(m *ir.Module, log *logrus.Logger) bool {
	var multiples []*ir.Global
	for _, g := range m.Globals() {
		if !g.Multiple {
			continue
		}
		multiples = append(multiples, g)
		if g.HasCommonLinkage() {
			// Common linkage admits only zero initialization, and
			// the lock field must initialize to 2.
			g.SetLinkage(ir.ExternalLinkage)
		}
	}

	for _, g := range multiples {
		st, _, payloadIdx := lockLayout(g.Elem)

		var init ir.Constant
		if g.HasInitializer() {
			lock := ir.NewConstInt(ir.I64, globalLock)
			if payloadIdx == 2 {
				pad := ir.NewConstInt(ir.I64, 0)
				init = ir.NewConstStruct(st, []ir.Constant{pad, lock, g.Init})
			} else {
				init = ir.NewConstStruct(st, []ir.Constant{lock, g.Init})
			}
		}

		locked := m.InsertGlobalBefore(g, g.Name()+"_multiple", st)
		locked.Constant = g.Constant
		locked.Linkage = g.Linkage
		locked.AddrSpace = g.AddrSpace
		locked.ThreadLocal = false
		locked.ExternallyInitialized = g.ExternallyInitialized
		locked.Init = init
		locked.SetAlignment(16)

		payload := &ir.ConstFieldAddr{Base: locked, Field: payloadIdx}
		ir.ReplaceAllUsesWith(g, payload)
		m.EraseGlobal(g)

		log.WithFields(logrus.Fields{
			"global": locked.Name(),
			"type":   st,
		}).Debug("locks: rewrote multi-qualified global")
	}
	return len(multiples) > 0
}
