// Package ir defines the typed SSA intermediate representation the
// temporal memory-safety passes operate on: modules of globals and
// functions, basic blocks of three-address instructions, and a type
// system extended with two memory-safe pointer kinds.
//
// The value graph follows the conventions of golang.org/x/tools/go/ssa:
// instructions that compute results are Values, operands are reachable
// through Operands for in-place rewriting, and every tracked value
// carries a reverse use list kept consistent by the structural
// mutators in this package (insertion, erasure, replacement, block
// splitting).
//
// The capability layer for the safety passes lives in checkedc.go:
// read-only predicates identifying safe-pointer types and key-check
// call sites. Multi-qualified storage is the Multiple field of Alloc
// and Global.
package ir
