package ir

// This file renders the IR in a stable textual form. The same form is
// accepted by the parse package; diagnostics quote instructions using
// these renderings.

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// opnd renders a value reference in operand position.
func opnd(v Value) string {
	switch v := v.(type) {
	case nil:
		return "<nil>"
	case *Global:
		return v.String()
	case *Function:
		return v.String()
	case Constant:
		return v.String()
	case *Param:
		return "%" + v.Name()
	default:
		return "%" + v.Name()
	}
}

func opnds(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = opnd(v)
	}
	return strings.Join(parts, ", ")
}

func (v *Alloc) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%%%s = alloca %s", v.Name(), v.Elem)
	if v.Multiple {
		b.WriteString(" multiple")
	}
	if v.Align != 0 {
		fmt.Fprintf(&b, " align %d", v.Align)
	}
	return b.String()
}

func (v *Load) String() string {
	return fmt.Sprintf("%%%s = load %s, %s", v.Name(), v.typ, opnd(v.X))
}

func (s *Store) String() string {
	return fmt.Sprintf("store %s, %s", opnd(s.Val), opnd(s.Addr))
}

func (v *FieldAddr) String() string {
	return fmt.Sprintf("%%%s = fieldaddr %s, %d", v.Name(), opnd(v.X), v.Field)
}

func (v *IndexAddr) String() string {
	return fmt.Sprintf("%%%s = indexaddr %s, %s", v.Name(), opnd(v.X), opnd(v.Index))
}

func (v *Extract) String() string {
	return fmt.Sprintf("%%%s = extract %s, %d", v.Name(), opnd(v.Agg), v.Index)
}

func (v *Insert) String() string {
	return fmt.Sprintf("%%%s = insert %s, %s, %d", v.Name(), opnd(v.Agg), opnd(v.Elem), v.Index)
}

func (v *Call) String() string {
	var b bytes.Buffer
	if _, ok := v.typ.(*VoidType); !ok {
		fmt.Fprintf(&b, "%%%s = ", v.Name())
	}
	fmt.Fprintf(&b, "call %s %s(%s)", v.typ, opnd(v.Callee), opnds(v.Args))
	if v.CallConv == CallConvFast {
		b.WriteString(" fastcc")
	}
	return b.String()
}

func (v *Convert) String() string {
	return fmt.Sprintf("%%%s = convert %s %s", v.Name(), v.typ, opnd(v.X))
}

func (v *IsNull) String() string {
	return fmt.Sprintf("%%%s = isnull %s", v.Name(), opnd(v.X))
}

func (v *Phi) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%%%s = phi %s ", v.Name(), v.typ)
	for i, e := range v.Edges {
		if i > 0 {
			b.WriteString(", ")
		}
		blockName := "?"
		if v.block != nil && i < len(v.block.Preds) {
			blockName = v.block.Preds[i].Name()
		}
		fmt.Fprintf(&b, "[%s, %s]", opnd(e), blockName)
	}
	return b.String()
}

func (s *Jump) String() string {
	if s.block != nil && len(s.block.Succs) > 0 {
		return "br " + s.block.Succs[0].Name()
	}
	return "br ?"
}

func (s *If) String() string {
	t, e := "?", "?"
	if s.block != nil && len(s.block.Succs) == 2 {
		t, e = s.block.Succs[0].Name(), s.block.Succs[1].Name()
	}
	return fmt.Sprintf("condbr %s, %s, %s", opnd(s.Cond), t, e)
}

func (s *Return) String() string {
	if s.Result == nil {
		return "ret"
	}
	return "ret " + opnd(s.Result)
}

// WriteGlobal writes the textual form of g.
func WriteGlobal(w io.Writer, g *Global) {
	fmt.Fprintf(w, "global @%s %s", g.Name(), g.Elem)
	if g.Constant {
		fmt.Fprint(w, " constant")
	}
	if g.Multiple {
		fmt.Fprint(w, " multiple")
	}
	switch g.Linkage {
	case InternalLinkage:
		fmt.Fprint(w, " internal")
	case CommonLinkage:
		fmt.Fprint(w, " common")
	}
	if g.ThreadLocal {
		fmt.Fprint(w, " thread_local")
	}
	if g.ExternallyInitialized {
		fmt.Fprint(w, " external_init")
	}
	if g.AddrSpace != 0 {
		fmt.Fprintf(w, " addrspace(%d)", g.AddrSpace)
	}
	if g.Align != 0 {
		fmt.Fprintf(w, " align %d", g.Align)
	}
	if g.Init != nil {
		fmt.Fprintf(w, " = %s", g.Init)
	}
	fmt.Fprintln(w)
}

// WriteFunction writes the textual form of f.
func WriteFunction(w io.Writer, f *Function) {
	if f.IsDeclaration() {
		fmt.Fprintf(w, "declare @%s %s", f.Name(), f.Sig)
		if f.CallConv == CallConvFast {
			fmt.Fprint(w, " fastcc")
		}
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "func @%s(", f.Name())
	for i, p := range f.Params {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%%%s %s", p.Name(), p.Type())
	}
	fmt.Fprintf(w, ") %s", f.Sig.Return)
	if f.CallConv == CallConvFast {
		fmt.Fprint(w, " fastcc")
	}
	fmt.Fprintln(w, " {")
	for _, b := range f.Blocks {
		fmt.Fprintf(w, "%s:\n", b.Name())
		for _, instr := range b.Instrs {
			fmt.Fprintf(w, "  %s\n", instr)
		}
	}
	fmt.Fprintln(w, "}")
}

// WriteModule writes the textual form of m.
func WriteModule(w io.Writer, m *Module) {
	fmt.Fprintf(w, "module %q\n", m.Name)
	if len(m.globals) > 0 {
		fmt.Fprintln(w)
	}
	for _, g := range m.globals {
		WriteGlobal(w, g)
	}
	for _, f := range m.funcs {
		fmt.Fprintln(w)
		WriteFunction(w, f)
	}
}

func (m *Module) String() string {
	var b bytes.Buffer
	WriteModule(&b, m)
	return b.String()
}
