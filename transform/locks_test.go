package transform

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mmsafec/mmopt/ir"
	"github.com/mmsafec/mmopt/parse"
)

func mustParse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := parse.Parse(src)
	require.NoError(t, err)
	return m
}

// Stack rewrite of a plain multi-qualified int: the slot becomes
// {i64, i32}, the lock field holds 1, and the original store targets
// the payload field.
func TestLockStackPlainInt(t *testing.T) {
	m := mustParse(t, `
module "t"

func @main() i32 {
entry:
  %x = alloca i32 multiple
  store i32 42, %x
  ret i32 0
}
`)
	changed, err := (&AddLockToMultiple{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	entry := m.Func("main").Entry()

	locked := entry.Instrs[0].(*ir.Alloc)
	require.False(t, locked.Multiple)
	require.True(t, ir.TypesEqual(
		&ir.StructType{Fields: []ir.Type{ir.I64, ir.I32}}, locked.Elem))

	lockAddr := entry.Instrs[1].(*ir.FieldAddr)
	require.Equal(t, 0, lockAddr.Field)
	lockStore := entry.Instrs[2].(*ir.Store)
	require.Equal(t, ir.Value(lockAddr), lockStore.Addr)
	require.Equal(t, int64(1), lockStore.Val.(*ir.ConstInt).Val)

	payloadAddr := entry.Instrs[3].(*ir.FieldAddr)
	require.Equal(t, 1, payloadAddr.Field)

	valStore := entry.Instrs[4].(*ir.Store)
	require.Equal(t, ir.Value(payloadAddr), valStore.Addr)
	require.Equal(t, int64(42), valStore.Val.(*ir.ConstInt).Val)

	// No multi-qualified slot survives.
	for _, instr := range entry.Instrs {
		if a, ok := instr.(*ir.Alloc); ok {
			require.False(t, a.Multiple)
		}
	}
}

// A multi-qualified safe-pointer slot gets the padded layout and
// 16-byte alignment.
func TestLockStackSafePtr(t *testing.T) {
	m := mustParse(t, `
module "t"

func @main() void {
entry:
  %p = alloca mmptr<i32> multiple
  ret
}
`)
	changed, err := (&AddLockToMultiple{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	entry := m.Func("main").Entry()
	locked := entry.Instrs[0].(*ir.Alloc)
	require.Equal(t, 16, locked.Align)
	require.True(t, ir.TypesEqual(
		&ir.StructType{Fields: []ir.Type{ir.I64, ir.I64, &ir.SinglePtrType{Elem: ir.I32}}},
		locked.Elem))

	lockAddr := entry.Instrs[1].(*ir.FieldAddr)
	require.Equal(t, 1, lockAddr.Field)
	payloadAddr := entry.Instrs[3].(*ir.FieldAddr)
	require.Equal(t, 2, payloadAddr.Field)
}

// Global rewrite of a common-linkage array pointer: renamed with the
// _multiple suffix, promoted to external linkage, lock value 2, and
// every use redirected to the payload field.
func TestLockGlobalArrayPtr(t *testing.T) {
	m := mustParse(t, `
module "t"

global @A i32
global @L i64
global @p mmarrayptr<i32> multiple common = { @A, i64 7, @L }

func @use() void {
entry:
  %v = load mmarrayptr<i32>, @p
  ret
}
`)
	changed, err := (&AddLockToMultiple{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	require.Nil(t, m.Global("p"))
	locked := m.Global("p_multiple")
	require.NotNil(t, locked)
	require.Equal(t, ir.ExternalLinkage, locked.Linkage)
	require.Equal(t, 16, locked.Align)
	require.True(t, ir.TypesEqual(
		&ir.StructType{Fields: []ir.Type{ir.I64, ir.I64, &ir.ArrayPtrType{Elem: ir.I32}}},
		locked.Elem))

	init := locked.Init.(*ir.ConstStruct)
	require.Len(t, init.Fields, 3)
	require.Equal(t, int64(0), init.Fields[0].(*ir.ConstInt).Val)
	require.Equal(t, int64(2), init.Fields[1].(*ir.ConstInt).Val)
	inner := init.Fields[2].(*ir.ConstStruct)
	require.Equal(t, ir.Constant(m.Global("A")), inner.Fields[0])
	require.Equal(t, int64(7), inner.Fields[1].(*ir.ConstInt).Val)
	require.Equal(t, ir.Constant(m.Global("L")), inner.Fields[2])

	ld := m.Func("use").Entry().Instrs[0].(*ir.Load)
	expr := ld.X.(*ir.ConstFieldAddr)
	require.Equal(t, locked, expr.Base)
	require.Equal(t, 2, expr.Field)
}

// A plain multi-qualified global takes the two-field layout with the
// lock at field 0.
func TestLockGlobalPlain(t *testing.T) {
	m := mustParse(t, `
module "t"

global @g i64 multiple = i64 5

func @use() void {
entry:
  %v = load i64, @g
  ret
}
`)
	changed, err := (&AddLockToMultiple{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	locked := m.Global("g_multiple")
	require.NotNil(t, locked)
	init := locked.Init.(*ir.ConstStruct)
	require.Len(t, init.Fields, 2)
	require.Equal(t, int64(2), init.Fields[0].(*ir.ConstInt).Val)
	require.Equal(t, int64(5), init.Fields[1].(*ir.ConstInt).Val)

	expr := m.Func("use").Entry().Instrs[0].(*ir.Load).X.(*ir.ConstFieldAddr)
	require.Equal(t, 1, expr.Field)
}

// An uninitialized multi-qualified global stays uninitialized.
func TestLockGlobalNoInitializer(t *testing.T) {
	m := mustParse(t, `
module "t"

global @g i64 multiple
`)
	changed, err := (&AddLockToMultiple{}).Run(m)
	require.NoError(t, err)
	require.True(t, changed)
	require.Nil(t, m.Global("g_multiple").Init)
}

// Running the pass twice changes the module once.
func TestLockIdempotence(t *testing.T) {
	m := mustParse(t, `
module "t"

global @g i64 multiple = i64 5

func @main() void {
entry:
  %x = alloca i32 multiple
  ret
}
`)
	pass := &AddLockToMultiple{}
	changed, err := pass.Run(m)
	require.NoError(t, err)
	require.True(t, changed)

	before := m.String()
	changed, err = pass.Run(m)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, before, m.String())
}

// Thread-local multi-qualified storage is a fatal precondition, and
// the module must be left untouched.
func TestLockThreadLocalPrecondition(t *testing.T) {
	m := mustParse(t, `
module "t"

global @g i64 multiple thread_local = i64 5
global @h i64 multiple = i64 6
`)
	before := m.String()
	changed, err := (&AddLockToMultiple{}).Run(m)
	require.False(t, changed)
	var pre *PreconditionError
	require.ErrorAs(t, err, &pre)
	require.Equal(t, before, m.String())
	require.NotNil(t, m.Global("h")) // untouched
}
