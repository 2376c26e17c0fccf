package transform

// Add-check-before-call mode. The front end lowers a safe-pointer
// argument into a raw pointer followed by one (single) or two (array)
// i64 scalars. For every call site passing such an argument, a guarded
// key check of the originating aggregate is inserted ahead of the
// call:
//
//	    ...
//	    %n = isnull %raw
//	    condbr %n, cont, do_check
//	do_check:
//	    call void @MMPtrKeyCheck(%agg_addr) fastcc
//	    br cont
//	cont:
//	    call @callee(%raw, %key, ...)
//
// The aggregate address is recovered from the raw-pointer argument's
// producer; arguments whose origin cannot be traced are left alone.

import (
	"github.com/sirupsen/logrus"

	"github.com/mmsafec/mmopt/ir"
)

// hoistSite is one safe-pointer argument at one call site.
type hoistSite struct {
	call *ir.Call
	kind ir.CheckKind
	raw  ir.Value // lowered raw-pointer argument
	addr ir.Value // address of the originating aggregate
}

func (p *KeyCheckOpt) addCheckBeforeCalls(m *ir.Module, mayFreeBBs map[*ir.BasicBlock]struct{}, log *logrus.Logger) (bool, error) {
	// Snapshot the candidate calls before detection: tracing an
	// argument may spill a call result, which mutates the blocks
	// being walked.
	var calls []*ir.Call
	for _, f := range m.Funcs() {
		if f.IsDeclaration() || ir.IsCheckHelper(f) {
			continue
		}
		f.AllInstructions(func(instr ir.Instruction) {
			if call, ok := instr.(*ir.Call); ok && !ir.IsCheckCall(call) {
				calls = append(calls, call)
			}
		})
	}
	var sites []hoistSite
	for _, call := range calls {
		sites = append(sites, detectSafePtrArgs(call)...)
	}

	for _, site := range sites {
		p.insertGuardedCheck(m, site, mayFreeBBs)
	}

	if len(sites) > 0 {
		log.WithFields(logrus.Fields{"checks": len(sites)}).Debug("keycheckopt: hoisted checks before calls")
	}
	return len(sites) > 0, nil
}

// detectSafePtrArgs scans a call's argument list for the lowered
// safe-pointer pattern and resolves each hit to its aggregate
// address.
func detectSafePtrArgs(call *ir.Call) []hoistSite {
	isI64 := func(v ir.Value) bool {
		t, ok := v.Type().(*ir.IntType)
		return ok && t.Width == 64
	}

	var sites []hoistSite
	args := call.Args
	for i := 0; i < len(args); i++ {
		if _, ok := args[i].Type().(*ir.PointerType); !ok {
			continue
		}
		var kind ir.CheckKind
		switch {
		case i+2 < len(args) && isI64(args[i+1]) && isI64(args[i+2]):
			kind = ir.CheckArray
		case i+1 < len(args) && isI64(args[i+1]):
			kind = ir.CheckSingle
		default:
			continue
		}
		addr := traceAggregateAddr(args[i])
		if addr == nil {
			continue
		}
		// The aggregate's own type is authoritative when the scalar
		// count alone is ambiguous.
		if pointee := ir.ElemTypeOfPointer(addr.Type()); pointee != nil {
			switch {
			case ir.IsArrayPtr(pointee):
				kind = ir.CheckArray
			case ir.IsSinglePtr(pointee):
				kind = ir.CheckSingle
			}
		}
		sites = append(sites, hoistSite{call: call, kind: kind, raw: args[i], addr: addr})
		if kind == ir.CheckArray {
			i += 2
		} else {
			i++
		}
	}
	return sites
}

// traceAggregateAddr walks from a lowered raw-pointer argument back to
// the address of the safe-pointer aggregate it came from, or nil if
// the origin is not recognizable.
func traceAggregateAddr(raw ir.Value) ir.Value {
	switch producer := stripCasts(raw).(type) {
	case *ir.Extract:
		if producer.Index != 0 {
			return nil
		}
		switch agg := producer.Agg.(type) {
		case *ir.Load:
			return agg.X
		case *ir.Call:
			// The aggregate is a call result with no home in
			// memory; spill it next to the producer.
			return spillAggregate(agg)
		}
	case *ir.Load:
		if fa, ok := producer.X.(*ir.FieldAddr); ok && fa.Field == 0 {
			if pointee := ir.ElemTypeOfPointer(fa.X.Type()); pointee != nil && ir.IsSafePtr(pointee) {
				return fa.X
			}
		}
	}
	return nil
}

// spillAggregate stores a call-produced safe-pointer aggregate into a
// fresh stack slot and returns the slot's address.
func spillAggregate(produced *ir.Call) ir.Value {
	fn := produced.Parent().Parent()
	slot := ir.NewAlloc(produced.Type())
	fn.Entry().Insert(0, slot)
	ir.InsertAfter(produced, ir.NewStore(produced, slot))
	return slot
}

// insertGuardedCheck rewrites the CFG around one call site:
//
//	b:        ... isnull, condbr
//	do_check: check, br
//	cont:     the call and everything after it
func (p *KeyCheckOpt) insertGuardedCheck(m *ir.Module, site hoistSite, mayFreeBBs map[*ir.BasicBlock]struct{}) {
	call := site.call
	b := call.Parent()
	fn := b.Parent()

	cont := ir.SplitBlockBefore(call)
	// The call moved into cont; a may-free block's membership moves
	// with its call.
	if _, ok := mayFreeBBs[b]; ok {
		delete(mayFreeBBs, b)
		mayFreeBBs[cont] = struct{}{}
	}

	// Replace b's jump with the null test.
	ir.Erase(b.Terminator())
	nullTest := ir.NewIsNull(site.raw)
	b.Append(nullTest)
	b.Append(ir.NewIf(nullTest))

	check := fn.InsertBlockAfter(b, "")
	ir.AddEdge(b, check) // false edge: pointer is non-null, check it

	helper := checkHelper(m, site.kind)
	arg := site.addr
	want := helper.Sig.Params[0]
	if !ir.TypesEqual(arg.Type(), want) {
		cast := ir.NewConvert(arg, want)
		check.Append(cast)
		arg = cast
	}
	chk := ir.NewCall(helper, []ir.Value{arg}, ir.Void)
	chk.CallConv = ir.CallConvFast
	check.Append(chk)
	check.Append(ir.NewJump())
	ir.AddEdge(check, cont)
}

// checkHelper finds or synthesizes the prototype of the key-check
// helper for kind.
func checkHelper(m *ir.Module, kind ir.CheckKind) *ir.Function {
	name := ir.MMPtrCheckFn
	if kind == ir.CheckArray {
		name = ir.MMArrayPtrCheckFn
	}
	if f := m.Func(name); f != nil {
		return f
	}
	f := m.NewFunc(name, ir.CheckHelperSig(kind))
	f.CallConv = ir.CallConvFast
	return f
}
