package ir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFunc(t *testing.T) (*Module, *Function, *BasicBlock) {
	t.Helper()
	m := NewModule("t")
	f := m.NewFunc("f", &FuncType{Return: Void})
	return m, f, f.NewBlock("entry")
}

func TestUseListsAndRAUW(t *testing.T) {
	_, _, b := buildFunc(t)

	a := NewAlloc(I32)
	b.Append(a)
	ld := NewLoad(a, I32)
	b.Append(ld)
	st := NewStore(ld, a)
	b.Append(st)

	require.ElementsMatch(t, []Instruction{ld, st}, Referrers(a))
	require.ElementsMatch(t, []Instruction{st}, Referrers(ld))

	a2 := NewAlloc(I32)
	b.Insert(0, a2)
	ReplaceAllUsesWith(a, a2)

	require.Empty(t, Referrers(a))
	require.ElementsMatch(t, []Instruction{ld, st}, Referrers(a2))
	require.Equal(t, Value(a2), ld.X)
	require.Equal(t, Value(a2), st.Addr)
}

func TestErasePanicsOnLiveValue(t *testing.T) {
	_, _, b := buildFunc(t)
	a := NewAlloc(I32)
	b.Append(a)
	b.Append(NewLoad(a, I32))

	require.Panics(t, func() { Erase(a) })
}

func TestEraseRemovesUses(t *testing.T) {
	_, _, b := buildFunc(t)
	a := NewAlloc(I32)
	b.Append(a)
	ld := NewLoad(a, I32)
	b.Append(ld)

	Erase(ld)
	require.Empty(t, Referrers(a))
	require.Len(t, b.Instrs, 1)
}

func TestSplitBlockBefore(t *testing.T) {
	_, f, b := buildFunc(t)
	a := NewAlloc(I32)
	b.Append(a)
	ld := NewLoad(a, I32)
	b.Append(ld)
	b.Append(NewReturn(nil))

	nb := SplitBlockBefore(ld)

	require.Len(t, f.Blocks, 2)
	require.Equal(t, []*BasicBlock{nb}, b.Succs)
	require.Equal(t, []*BasicBlock{b}, nb.Preds)
	require.Equal(t, Instruction(ld), nb.Instrs[0])
	require.IsType(t, &Jump{}, b.Instrs[len(b.Instrs)-1])
	require.Equal(t, nb, ld.Parent())
}

func TestSplitBlockAfterTransfersSuccessors(t *testing.T) {
	_, f, b := buildFunc(t)
	exit := f.NewBlock("exit")
	exit.Append(NewReturn(nil))

	a := NewAlloc(I32)
	b.Append(a)
	b.Append(NewJump())
	AddEdge(b, exit)

	nb := SplitBlockAfter(a)

	require.Equal(t, []*BasicBlock{nb}, b.Succs)
	require.Equal(t, []*BasicBlock{exit}, nb.Succs)
	require.Equal(t, []*BasicBlock{nb}, exit.Preds)
	require.Equal(t, b, a.Parent())
}

func TestGlobalRAUWRewritesInitializers(t *testing.T) {
	m := NewModule("t")
	old := m.NewGlobal("x", I64)
	holder := m.NewGlobal("h", &StructType{Fields: []Type{PointerTo(I64)}})
	holder.Init = NewConstStruct(holder.Elem, []Constant{old})

	repl := m.NewGlobal("y", &StructType{Fields: []Type{I64, I64}})
	expr := &ConstFieldAddr{Base: repl, Field: 1}
	ReplaceAllUsesWith(old, expr)

	cs := holder.Init.(*ConstStruct)
	require.Equal(t, Constant(expr), cs.Fields[0])

	m.EraseGlobal(old)
	require.Nil(t, m.Global("x"))
	require.NotNil(t, m.Global("y"))
}

func TestConstFieldAddrType(t *testing.T) {
	m := NewModule("t")
	g := m.NewGlobal("g", &StructType{Fields: []Type{I64, &SinglePtrType{Elem: I32}}})
	expr := &ConstFieldAddr{Base: g, Field: 1}
	require.True(t, TypesEqual(PointerTo(&SinglePtrType{Elem: I32}), expr.Type()))
}
