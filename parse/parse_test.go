package parse

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmsafec/mmopt/ir"
)

const sample = `
module "sample"

global @A i32
global @L i64
global @p mmarrayptr<i32> multiple common = { @A, i64 7, @L }

declare @malloc func(i64) i8*
declare @MMPtrKeyCheck func({i8*, i64}*) fastcc

func @main() i32 {
entry:
  %x = alloca i32 multiple
  store i32 42, %x
  %h = call i8* @malloc(i64 8)
  br exit
exit:
  ret i32 0
}
`

func TestParseModule(t *testing.T) {
	m, err := Parse(sample)
	require.NoError(t, err)
	require.Equal(t, "sample", m.Name)

	p := m.Global("p")
	require.NotNil(t, p)
	require.True(t, p.Multiple)
	require.True(t, p.HasCommonLinkage())
	require.True(t, ir.IsArrayPtr(p.Elem))
	init := p.Init.(*ir.ConstStruct)
	require.Len(t, init.Fields, 3)
	require.Equal(t, ir.Constant(m.Global("A")), init.Fields[0])
	require.Equal(t, int64(7), init.Fields[1].(*ir.ConstInt).Val)

	malloc := m.Func("malloc")
	require.NotNil(t, malloc)
	require.True(t, malloc.IsDeclaration())

	chk := m.Func("MMPtrKeyCheck")
	require.NotNil(t, chk)
	require.Equal(t, ir.CallConvFast, chk.CallConv)

	main := m.Func("main")
	require.NotNil(t, main)
	require.Len(t, main.Blocks, 2)
	entry := main.Entry()
	require.Equal(t, "entry", entry.Name())

	alloc := entry.Instrs[0].(*ir.Alloc)
	require.True(t, alloc.Multiple)
	require.True(t, ir.TypesEqual(ir.I32, alloc.Elem))

	st := entry.Instrs[1].(*ir.Store)
	require.Equal(t, ir.Value(alloc), st.Addr)
	require.Equal(t, int64(42), st.Val.(*ir.ConstInt).Val)

	call := entry.Instrs[2].(*ir.Call)
	require.Equal(t, malloc, call.StaticCallee())

	require.Equal(t, []*ir.BasicBlock{main.Blocks[1]}, entry.Succs)
	require.Equal(t, []*ir.BasicBlock{entry}, main.Blocks[1].Preds)
}

func TestRoundTrip(t *testing.T) {
	m, err := Parse(sample)
	require.NoError(t, err)

	again, err := Parse(m.String())
	require.NoError(t, err)
	require.Equal(t, m.String(), again.String())
}

func TestParsePhiBackEdge(t *testing.T) {
	src := `
module "loop"

func @walk(%p i64*) void {
entry:
  br head
head:
  %i = phi i64* [%p, entry], [%j, body]
  br body
body:
  %j = indexaddr %i, i64 1
  br head
}
`
	m, err := Parse(src)
	require.NoError(t, err)

	f := m.Func("walk")
	head := f.Blocks[1]
	phi := head.Instrs[0].(*ir.Phi)
	require.Len(t, phi.Edges, 2)
	require.Equal(t, ir.Value(f.Params[0]), phi.Edges[0])

	body := f.Blocks[2]
	j := body.Instrs[0].(*ir.IndexAddr)
	require.Equal(t, ir.Value(j), phi.Edges[1])
	require.Contains(t, ir.Referrers(j), ir.Instruction(phi))
}

func TestParseIllFormedLoad(t *testing.T) {
	src := `
module "ill"

func @f(%p mmptr<i8>*) i8* {
entry:
  %q = load i8*, %p
  ret %q
}
`
	m, err := Parse(src)
	require.NoError(t, err)
	f := m.Func("f")
	ld := f.Entry().Instrs[0].(*ir.Load)
	require.True(t, ir.TypesEqual(ir.PointerTo(ir.I8), ld.Type()))
	require.True(t, ir.IsSinglePtr(ir.ElemTypeOfPointer(ld.X.Type())))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"no module", `global @g i64`},
		{"unknown instruction", "module \"m\"\nfunc @f() void {\nentry:\n  frobnicate\n}"},
		{"undefined value", "module \"m\"\nfunc @f() void {\nentry:\n  store %nope, %also\n}"},
		{"unknown label", "module \"m\"\nfunc @f() void {\nentry:\n  br nowhere\n}"},
		{"duplicate label", "module \"m\"\nfunc @f() void {\nentry:\n  ret\nentry:\n  ret\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			require.Error(t, err)
		})
	}
}
