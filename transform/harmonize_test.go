package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmsafec/mmopt/ir"
)

// wellFormed asserts the harmonization contract: every load and store
// agrees with its pointer operand's pointee type.
func wellFormed(t *testing.T, f *ir.Function) {
	t.Helper()
	f.AllInstructions(func(instr ir.Instruction) {
		switch instr := instr.(type) {
		case *ir.Load:
			pointee := ir.ElemTypeOfPointer(instr.X.Type())
			if pointee != nil {
				require.True(t, ir.TypesEqual(pointee, instr.Type()),
					"ill-formed load remains: %s", instr)
			}
		case *ir.Store:
			pointee := ir.ElemTypeOfPointer(instr.Addr.Type())
			if pointee != nil {
				require.True(t, ir.TypesEqual(pointee, instr.Val.Type()),
					"ill-formed store remains: %s", instr)
			}
		}
	})
}

// An ill-formed load of a single pointer becomes a field projection
// plus a well-typed load of the raw pointer.
func TestHarmonizeIllFormedLoad(t *testing.T) {
	m := mustParse(t, `
module "t"

func @f(%p mmptr<i8>*) i8* {
entry:
  %q = load i8*, %p
  ret %q
}
`)
	changed, err := (&HarmonizeTypes{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	f := m.Func("f")
	entry := f.Entry()

	gep := entry.Instrs[0].(*ir.FieldAddr)
	require.Equal(t, 0, gep.Field)
	require.Equal(t, ir.Value(f.Params[0]), gep.X)

	rawLoad := entry.Instrs[1].(*ir.Load)
	require.Equal(t, ir.Value(gep), rawLoad.X)
	require.True(t, ir.TypesEqual(ir.PointerTo(ir.I8), rawLoad.Type()))

	ret := entry.Instrs[2].(*ir.Return)
	require.Equal(t, ir.Value(rawLoad), ret.Result)

	wellFormed(t, f)
}

// The array-pointer increment shape: the extract/insert chain is
// rewired to a load of the whole aggregate, while remaining users
// keep the raw-pointer load.
func TestHarmonizeArrayPtrIncrement(t *testing.T) {
	m := mustParse(t, `
module "t"

func @g(%p mmarrayptr<i32>*) void {
entry:
  %v = load i32*, %p
  %inner = extract %v, 0
  %dec = indexaddr %inner, i64 -1
  %w = insert %v, %dec, 0
  store %w, %p
  ret
}
`)
	changed, err := (&HarmonizeTypes{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	f := m.Func("g")
	entry := f.Entry()
	aggType := &ir.ArrayPtrType{Elem: ir.I32}

	// The whole-aggregate load feeds the chain.
	var aggLoad *ir.Load
	var ext *ir.Extract
	var ins *ir.Insert
	for _, instr := range entry.Instrs {
		switch instr := instr.(type) {
		case *ir.Load:
			if ir.TypesEqual(aggType, instr.Type()) {
				aggLoad = instr
			}
		case *ir.Extract:
			if instr.Index == 0 && ext == nil {
				ext = instr
			}
		case *ir.Insert:
			ins = instr
		}
	}
	require.NotNil(t, aggLoad)
	require.NotNil(t, ext)
	require.NotNil(t, ins)
	require.Equal(t, ir.Value(aggLoad), ext.Agg)
	require.Equal(t, ir.Value(aggLoad), ins.Agg)
	require.True(t, ir.TypesEqual(aggType, ins.Type()))

	// The raw-pointer load exists for non-chain users.
	var rawLoad *ir.Load
	for _, instr := range entry.Instrs {
		if ld, ok := instr.(*ir.Load); ok && ir.TypesEqual(ir.PointerTo(ir.I32), ld.Type()) {
			rawLoad = ld
		}
	}
	require.NotNil(t, rawLoad)

	wellFormed(t, f)
}

// The *++p shape built directly: a mis-typed insert stored back and
// dereferenced. The store value is re-tagged, and the dependent load
// consumes the recovered raw pointer.
func TestHarmonizeIllFormedStore(t *testing.T) {
	m := ir.NewModule("t")
	aggType := &ir.ArrayPtrType{Elem: ir.I32}
	f := m.NewFunc("h", &ir.FuncType{Params: []ir.Type{ir.PointerTo(aggType)}, Return: ir.Void})
	p := f.NewParam("p", ir.PointerTo(aggType))
	b := f.NewBlock("entry")

	aggLoad := ir.NewLoad(p, aggType)
	b.Append(aggLoad)
	inner := ir.NewExtract(aggLoad, 0)
	b.Append(inner)
	inc := ir.NewIndexAddr(inner, ir.NewConstInt(ir.I64, 1))
	b.Append(inc)
	// The front end records the raw-pointer type on the insert.
	ins := ir.NewInsertTyped(aggLoad, inc, 0, ir.PointerTo(ir.I32))
	b.Append(ins)
	st := ir.NewStore(ins, p)
	b.Append(st)
	deref := ir.NewLoad(ins, ir.I32)
	b.Append(deref)
	b.Append(ir.NewReturn(nil))

	changed, err := (&HarmonizeTypes{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	require.True(t, ir.TypesEqual(aggType, ins.Type()))

	// A new extract recovers the raw pointer ahead of the store, and
	// the dereference consumes it instead of the aggregate.
	raw, ok := deref.X.(*ir.Extract)
	require.True(t, ok)
	require.Equal(t, 0, raw.Index)
	require.Equal(t, ir.Value(ins), raw.Agg)
	require.True(t, b.IndexOf(raw) < b.IndexOf(st))

	wellFormed(t, f)
}

// A mis-typed store whose producer is not an insert is a fatal
// precondition.
func TestHarmonizeStorePrecondition(t *testing.T) {
	m := ir.NewModule("t")
	aggType := &ir.ArrayPtrType{Elem: ir.I32}
	f := m.NewFunc("h", &ir.FuncType{
		Params: []ir.Type{ir.PointerTo(aggType), ir.PointerTo(ir.I32)},
		Return: ir.Void,
	})
	p := f.NewParam("p", ir.PointerTo(aggType))
	q := f.NewParam("q", ir.PointerTo(ir.I32))
	b := f.NewBlock("entry")
	b.Append(ir.NewStore(q, p))
	b.Append(ir.NewReturn(nil))

	_, err := (&HarmonizeTypes{}).Run(m)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
}

// Well-formed functions are left alone.
func TestHarmonizeNoChange(t *testing.T) {
	m := mustParse(t, `
module "t"

func @f(%p mmptr<i8>*) void {
entry:
  %v = load mmptr<i8>, %p
  ret
}
`)
	before := m.String()
	changed, err := (&HarmonizeTypes{}).Run(m)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, before, m.String())
}
