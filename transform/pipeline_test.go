package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmsafec/mmopt/ir"
)

// End to end: a module exercising every pass at once. The
// multi-qualified storage gets locked, the ill-formed load is
// repaired, the may-free call splits its block and kills the checks
// across it, and the duplicate check before the call is removed.
func TestPipelineEndToEnd(t *testing.T) {
	m := mustParse(t, `
module "prog"

declare @MMPtrKeyCheck func({i8*, i64}*) fastcc
declare @free func(i8*)
declare @malloc func(i64) i8*

global @g i64 multiple = i64 9

func @f(%p mmptr<i8>*, %x i8*) void {
entry:
  %slot = alloca i32 multiple
  %q = load i8*, %p
  call void @MMPtrKeyCheck(%p)
  call void @MMPtrKeyCheck(%p)
  call void @free(%x)
  call void @MMPtrKeyCheck(%p)
  ret
}
`)
	pipe := &Pipeline{}
	sum, err := pipe.Run(m)
	require.NoError(t, err)
	require.True(t, sum.Changed)

	// Lock insertion.
	require.Nil(t, m.Global("g"))
	require.NotNil(t, m.Global("g_multiple"))
	f := m.Func("f")
	for _, instr := range f.Entry().Instrs {
		if a, ok := instr.(*ir.Alloc); ok {
			require.False(t, a.Multiple)
		}
	}

	// Harmonization left no mismatched loads.
	f.AllInstructions(func(instr ir.Instruction) {
		if ld, ok := instr.(*ir.Load); ok {
			pointee := ir.ElemTypeOfPointer(ld.X.Type())
			if pointee != nil {
				require.True(t, ir.TypesEqual(pointee, ld.Type()))
			}
		}
	})

	// The free call may free; it was counted and isolated.
	require.Equal(t, 1, sum.MayFreeFns)
	require.Equal(t, 1, sum.MayFreeCalls)

	// The back-to-back duplicate went away; the check after the
	// may-free call survived.
	require.Equal(t, 1, sum.RemovedChecks)
	require.Equal(t, 2, countCheckCalls(m))
}

// A module with nothing to do reports no change.
func TestPipelineNoChange(t *testing.T) {
	m := mustParse(t, `
module "quiet"

declare @malloc func(i64) i8*

func @f() void {
entry:
  %h = call i8* @malloc(i64 16)
  ret
}
`)
	before := m.String()
	sum, err := (&Pipeline{}).Run(m)
	require.NoError(t, err)
	require.False(t, sum.Changed)
	require.Equal(t, 0, sum.RemovedChecks)
	require.Equal(t, before, m.String())
}

// Precondition failures surface through the pipeline.
func TestPipelinePrecondition(t *testing.T) {
	m := mustParse(t, `
module "bad"

global @g i64 multiple thread_local = i64 1
`)
	_, err := (&Pipeline{}).Run(m)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
}
