package parse

// Function-body parsing: labels, instructions, operands. Registers
// must be defined before use except in phi edges, which may reference
// values from back edges and are resolved after the body is read.

import (
	"golang.org/x/xerrors"

	"github.com/mmsafec/mmopt/ir"
)

type phiFixup struct {
	phi  *ir.Phi
	edge int
	name string
	line int
}

type bodyParser struct {
	*parser
	fn     *ir.Function
	blocks map[string]*ir.BasicBlock
	regs   map[string]ir.Value
	cur    *ir.BasicBlock
	fixups []phiFixup
}

func (p *parser) parseBody(f *ir.Function) error {
	bp := &bodyParser{
		parser: p,
		fn:     f,
		blocks: make(map[string]*ir.BasicBlock),
		regs:   make(map[string]ir.Value),
	}
	for _, param := range f.Params {
		bp.regs[param.Name()] = param
	}
	if err := bp.scanLabels(); err != nil {
		return err
	}
	return bp.run()
}

// scanLabels creates the function's blocks in their order of
// definition so that branches may reference blocks defined later.
func (bp *bodyParser) scanLabels() error {
	depth := 1
	for i := bp.pos; ; i++ {
		t := bp.toks[i]
		switch {
		case t.kind == tokEOF:
			return xerrors.Errorf("line %d: unterminated function body", t.line)
		case t.kind == tokPunct && t.text == "{":
			depth++
		case t.kind == tokPunct && t.text == "}":
			depth--
			if depth == 0 {
				if len(bp.fn.Blocks) == 0 {
					return xerrors.Errorf("line %d: function @%s has no blocks", t.line, bp.fn.Name())
				}
				return nil
			}
		case t.kind == tokWord && depth == 1:
			next := bp.toks[i+1]
			if next.kind == tokPunct && next.text == ":" {
				if bp.blocks[t.text] != nil {
					return xerrors.Errorf("line %d: duplicate label %q", t.line, t.text)
				}
				bp.blocks[t.text] = bp.fn.NewBlock(t.text)
			}
		}
	}
}

func (bp *bodyParser) run() error {
	for {
		t := bp.parser.cur()
		switch {
		case t.kind == tokEOF:
			return xerrors.Errorf("line %d: unterminated function body", t.line)

		case t.kind == tokPunct && t.text == "}":
			bp.take()
			return bp.resolveFixups()

		case t.kind == tokWord && bp.toks[bp.pos+1].kind == tokPunct && bp.toks[bp.pos+1].text == ":":
			bp.take()
			bp.take()
			bp.cur = bp.blocks[t.text]

		default:
			if bp.cur == nil {
				return xerrors.Errorf("line %d: instruction before first label", t.line)
			}
			if err := bp.parseInstr(); err != nil {
				return err
			}
		}
	}
}

func (bp *bodyParser) resolveFixups() error {
	for _, fx := range bp.fixups {
		v, ok := bp.regs[fx.name]
		if !ok {
			return xerrors.Errorf("line %d: undefined value %%%s in phi", fx.line, fx.name)
		}
		ir.SetOperand(fx.phi, &fx.phi.Edges[fx.edge], v)
	}
	return nil
}

// define appends instr to the current block and binds its result name.
func (bp *bodyParser) define(name string, line int, instr ir.Instruction) error {
	bp.cur.Append(instr)
	if name == "" {
		return nil
	}
	if _, exists := bp.regs[name]; exists {
		return xerrors.Errorf("line %d: redefinition of %%%s", line, name)
	}
	type namer interface{ SetName(string) }
	n, ok := instr.(namer)
	if !ok {
		return xerrors.Errorf("line %d: instruction produces no value to name %%%s", line, name)
	}
	n.SetName(name)
	bp.regs[name] = instr.(ir.Value)
	return nil
}

func (bp *bodyParser) parseInstr() error {
	result := ""
	start := bp.parser.cur()
	if start.kind == tokLocal && bp.toks[bp.pos+1].kind == tokPunct && bp.toks[bp.pos+1].text == "=" {
		bp.take()
		bp.take()
		result = start.text
	}
	op := bp.take()
	if op.kind != tokWord {
		return xerrors.Errorf("line %d: expected instruction, got %s", op.line, op)
	}

	switch op.text {
	case "alloca":
		elem, err := bp.parseType()
		if err != nil {
			return err
		}
		a := ir.NewAlloc(elem)
		for bp.parser.cur().line == op.line {
			switch {
			case bp.atWord("multiple"):
				bp.take()
				a.Multiple = true
			case bp.atWord("align"):
				bp.take()
				n, err := bp.parseInt()
				if err != nil {
					return err
				}
				a.Align = n
			default:
				return bp.errf("unexpected token %s after alloca", bp.parser.cur())
			}
		}
		return bp.define(result, op.line, a)

	case "load":
		typ, err := bp.parseType()
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		addr, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		return bp.define(result, op.line, ir.NewLoad(addr, typ))

	case "store":
		val, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		addr, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		return bp.define(result, op.line, ir.NewStore(val, addr))

	case "fieldaddr":
		x, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		n, err := bp.parseInt()
		if err != nil {
			return err
		}
		pt, ok := x.Type().(*ir.PointerType)
		if !ok {
			return xerrors.Errorf("line %d: fieldaddr base %s is not a pointer", op.line, x.Type())
		}
		fields, ok := ir.FieldTypes(pt.Elem)
		if !ok || n < 0 || n >= len(fields) {
			return xerrors.Errorf("line %d: invalid field %d of %s", op.line, n, pt.Elem)
		}
		return bp.define(result, op.line, ir.NewFieldAddr(x, n))

	case "indexaddr":
		x, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		idx, err := bp.parseOperand(ir.I64)
		if err != nil {
			return err
		}
		return bp.define(result, op.line, ir.NewIndexAddr(x, idx))

	case "extract":
		agg, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		n, err := bp.parseInt()
		if err != nil {
			return err
		}
		if _, aggTyped := ir.FieldTypes(agg.Type()); aggTyped {
			return bp.define(result, op.line, ir.NewExtract(agg, n))
		}
		// Mis-observed operand type: reproduce the front end's
		// record, which harmonization repairs.
		return bp.define(result, op.line, ir.NewExtractTyped(agg, n, agg.Type()))

	case "insert":
		agg, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		elem, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		n, err := bp.parseInt()
		if err != nil {
			return err
		}
		return bp.define(result, op.line, ir.NewInsert(agg, elem, n))

	case "call":
		typ, err := bp.parseType()
		if err != nil {
			return err
		}
		callee, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		if err := bp.expectPunct("("); err != nil {
			return err
		}
		var args []ir.Value
		for !bp.atPunct(")") {
			if len(args) > 0 {
				if err := bp.expectPunct(","); err != nil {
					return err
				}
			}
			a, err := bp.parseOperand(nil)
			if err != nil {
				return err
			}
			args = append(args, a)
		}
		bp.take() // ")"
		c := ir.NewCall(callee, args, typ)
		if bp.atWordSameLine("fastcc", op.line) {
			bp.take()
			c.CallConv = ir.CallConvFast
		}
		return bp.define(result, op.line, c)

	case "convert":
		typ, err := bp.parseType()
		if err != nil {
			return err
		}
		x, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		return bp.define(result, op.line, ir.NewConvert(x, typ))

	case "isnull":
		x, err := bp.parseOperand(nil)
		if err != nil {
			return err
		}
		return bp.define(result, op.line, ir.NewIsNull(x))

	case "phi":
		typ, err := bp.parseType()
		if err != nil {
			return err
		}
		phi := ir.NewPhi(typ, nil)
		for first := true; first || bp.atPunct(","); first = false {
			if !first {
				bp.take()
			}
			if err := bp.expectPunct("["); err != nil {
				return err
			}
			edge := len(phi.Edges)
			vt := bp.parser.cur()
			if vt.kind == tokLocal && bp.regs[vt.text] == nil {
				// Back-edge reference; resolve later.
				bp.take()
				phi.Edges = append(phi.Edges, nil)
				bp.fixups = append(bp.fixups, phiFixup{phi: phi, edge: edge, name: vt.text, line: vt.line})
			} else {
				v, err := bp.parseOperand(typ)
				if err != nil {
					return err
				}
				phi.Edges = append(phi.Edges, v)
			}
			if err := bp.expectPunct(","); err != nil {
				return err
			}
			lbl := bp.take()
			if lbl.kind != tokWord || bp.blocks[lbl.text] == nil {
				return xerrors.Errorf("line %d: unknown label %s in phi", lbl.line, lbl)
			}
			if err := bp.expectPunct("]"); err != nil {
				return err
			}
		}
		return bp.define(result, op.line, phi)

	case "br":
		lbl := bp.take()
		target := bp.blocks[lbl.text]
		if target == nil {
			return xerrors.Errorf("line %d: unknown label %s", lbl.line, lbl)
		}
		if err := bp.define("", op.line, ir.NewJump()); err != nil {
			return err
		}
		ir.AddEdge(bp.cur, target)
		return nil

	case "condbr":
		cond, err := bp.parseOperand(ir.I1)
		if err != nil {
			return err
		}
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		thenTok := bp.take()
		if err := bp.expectPunct(","); err != nil {
			return err
		}
		elseTok := bp.take()
		thenBB, elseBB := bp.blocks[thenTok.text], bp.blocks[elseTok.text]
		if thenBB == nil || elseBB == nil {
			return xerrors.Errorf("line %d: unknown branch target", op.line)
		}
		if err := bp.define("", op.line, ir.NewIf(cond)); err != nil {
			return err
		}
		ir.AddEdge(bp.cur, thenBB)
		ir.AddEdge(bp.cur, elseBB)
		return nil

	case "ret":
		var res ir.Value
		if bp.operandStartsOnLine(op.line) {
			v, err := bp.parseOperand(bp.fn.Sig.Return)
			if err != nil {
				return err
			}
			res = v
		}
		return bp.define("", op.line, ir.NewReturn(res))
	}
	return xerrors.Errorf("line %d: unknown instruction %q", op.line, op.text)
}

func (bp *bodyParser) operandStartsOnLine(line int) bool {
	t := bp.parser.cur()
	if t.line != line {
		return false
	}
	switch t.kind {
	case tokLocal, tokGlobal, tokInt:
		return true
	case tokWord:
		return t.text == "null" || t.text == "zeroinit" || t.text == "fieldaddr" || bp.isTypeStart()
	}
	return false
}

// parseOperand reads one value reference. expected guides untyped
// constants and may be nil.
func (bp *bodyParser) parseOperand(expected ir.Type) (ir.Value, error) {
	t := bp.parser.cur()
	switch {
	case t.kind == tokLocal:
		bp.take()
		v, ok := bp.regs[t.text]
		if !ok {
			return nil, xerrors.Errorf("line %d: undefined value %%%s", t.line, t.text)
		}
		return v, nil

	case t.kind == tokGlobal:
		bp.take()
		if g := bp.m.Global(t.text); g != nil {
			return g, nil
		}
		if f := bp.m.Func(t.text); f != nil {
			return f, nil
		}
		return nil, xerrors.Errorf("line %d: unknown symbol @%s", t.line, t.text)

	case t.kind == tokWord && t.text == "null":
		bp.take()
		if expected == nil {
			expected = ir.PointerTo(ir.I8)
		}
		return ir.NewConstNull(expected), nil

	default:
		return bp.parseConst(expected)
	}
}
