// Package parse reads the textual IR form produced by the ir
// package's printer. It is the front door for the driver and for test
// fixtures: turn text into a module, run the pipeline, print the
// result.
//
// The reader is two-phase: a first pass creates every global and
// function so that initializers and call sites may reference symbols
// defined later in the file; a second pass parses global initializers
// and function bodies.
package parse

import (
	"io/ioutil"
	"strconv"

	"golang.org/x/xerrors"

	"github.com/mmsafec/mmopt/ir"
)

type parser struct {
	toks []token
	pos  int
	m    *ir.Module

	globalInits map[*ir.Global]int // token offset of "=" initializer
	funcBodies  map[*ir.Function]int
}

// Parse builds a module from src.
func Parse(src string) (*ir.Module, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, xerrors.Errorf("parse: %w", err)
	}
	p := &parser{
		toks:        toks,
		globalInits: make(map[*ir.Global]int),
		funcBodies:  make(map[*ir.Function]int),
	}
	if err := p.parseModule(); err != nil {
		return nil, xerrors.Errorf("parse: %w", err)
	}
	return p.m, nil
}

// ParseFile builds a module from the file at path.
func ParseFile(path string) (*ir.Module, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("parse: %w", err)
	}
	return Parse(string(data))
}

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return p.toks[len(p.toks)-1] // EOF
	}
	return p.toks[p.pos]
}

func (p *parser) take() token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) errf(format string, args ...interface{}) error {
	return xerrors.Errorf("line %d: "+format, append([]interface{}{p.cur().line}, args...)...)
}

func (p *parser) expectPunct(s string) error {
	t := p.take()
	if t.kind != tokPunct || t.text != s {
		return xerrors.Errorf("line %d: expected %q, got %s", t.line, s, t)
	}
	return nil
}

func (p *parser) expectWord(s string) error {
	t := p.take()
	if t.kind != tokWord || t.text != s {
		return xerrors.Errorf("line %d: expected %q, got %s", t.line, s, t)
	}
	return nil
}

func (p *parser) atPunct(s string) bool {
	return p.cur().kind == tokPunct && p.cur().text == s
}

func (p *parser) atWord(s string) bool {
	return p.cur().kind == tokWord && p.cur().text == s
}

// atWordSameLine reports whether the next token is the given word on
// the given line; trailing attributes never wrap.
func (p *parser) atWordSameLine(s string, line int) bool {
	return p.atWord(s) && p.cur().line == line
}

func (p *parser) parseModule() error {
	if err := p.expectWord("module"); err != nil {
		return err
	}
	name := p.take()
	if name.kind != tokString && name.kind != tokWord {
		return xerrors.Errorf("line %d: expected module name, got %s", name.line, name)
	}
	p.m = ir.NewModule(name.text)

	// Phase 1: headers.
	for p.cur().kind != tokEOF {
		t := p.take()
		if t.kind != tokWord {
			return xerrors.Errorf("line %d: expected declaration, got %s", t.line, t)
		}
		var err error
		switch t.text {
		case "global":
			err = p.parseGlobalHeader()
		case "declare":
			err = p.parseDeclare()
		case "func":
			err = p.parseFuncHeader()
		default:
			err = xerrors.Errorf("line %d: unknown declaration %q", t.line, t.text)
		}
		if err != nil {
			return err
		}
	}

	// Phase 2: initializers, then bodies.
	for _, g := range p.m.Globals() {
		off, ok := p.globalInits[g]
		if !ok {
			continue
		}
		p.pos = off
		init, err := p.parseConst(g.Elem)
		if err != nil {
			return err
		}
		g.Init = init
	}
	for _, f := range p.m.Funcs() {
		off, ok := p.funcBodies[f]
		if !ok {
			continue
		}
		p.pos = off
		if err := p.parseBody(f); err != nil {
			return err
		}
	}
	return nil
}

// skipLine advances past every remaining token on line.
func (p *parser) skipLine(line int) {
	for p.cur().kind != tokEOF && p.cur().line == line {
		p.pos++
	}
}

func (p *parser) parseGlobalHeader() error {
	nameTok := p.take()
	if nameTok.kind != tokGlobal {
		return xerrors.Errorf("line %d: expected @name, got %s", nameTok.line, nameTok)
	}
	elem, err := p.parseType()
	if err != nil {
		return err
	}
	g := p.m.NewGlobal(nameTok.text, elem)

	line := nameTok.line
	for p.cur().line == line {
		switch {
		case p.atWord("constant"):
			p.take()
			g.Constant = true
		case p.atWord("multiple"):
			p.take()
			g.Multiple = true
		case p.atWord("internal"):
			p.take()
			g.Linkage = ir.InternalLinkage
		case p.atWord("common"):
			p.take()
			g.Linkage = ir.CommonLinkage
		case p.atWord("thread_local"):
			p.take()
			g.ThreadLocal = true
		case p.atWord("external_init"):
			p.take()
			g.ExternallyInitialized = true
		case p.atWord("addrspace"):
			p.take()
			n, err := p.parseParenInt()
			if err != nil {
				return err
			}
			g.AddrSpace = n
		case p.atWord("align"):
			p.take()
			n, err := p.parseInt()
			if err != nil {
				return err
			}
			g.Align = n
		case p.atPunct("="):
			p.take()
			p.globalInits[g] = p.pos
			p.skipLine(line)
			return nil
		default:
			return p.errf("unexpected token %s in global", p.cur())
		}
	}
	return nil
}

func (p *parser) parseDeclare() error {
	nameTok := p.take()
	if nameTok.kind != tokGlobal {
		return xerrors.Errorf("line %d: expected @name, got %s", nameTok.line, nameTok)
	}
	typ, err := p.parseType()
	if err != nil {
		return err
	}
	sig, ok := typ.(*ir.FuncType)
	if !ok {
		return xerrors.Errorf("line %d: declare needs a function type, got %s", nameTok.line, typ)
	}
	f := p.m.NewFunc(nameTok.text, sig)
	if p.atWordSameLine("fastcc", nameTok.line) {
		p.take()
		f.CallConv = ir.CallConvFast
	}
	return nil
}

func (p *parser) parseFuncHeader() error {
	nameTok := p.take()
	if nameTok.kind != tokGlobal {
		return xerrors.Errorf("line %d: expected @name, got %s", nameTok.line, nameTok)
	}
	if err := p.expectPunct("("); err != nil {
		return err
	}
	type paramDecl struct {
		name string
		typ  ir.Type
	}
	var params []paramDecl
	for !p.atPunct(")") {
		if len(params) > 0 {
			if err := p.expectPunct(","); err != nil {
				return err
			}
		}
		pn := p.take()
		if pn.kind != tokLocal {
			return xerrors.Errorf("line %d: expected %%param, got %s", pn.line, pn)
		}
		pt, err := p.parseType()
		if err != nil {
			return err
		}
		params = append(params, paramDecl{pn.text, pt})
	}
	p.take() // ")"
	ret, err := p.parseType()
	if err != nil {
		return err
	}

	sig := &ir.FuncType{Return: ret}
	for _, pd := range params {
		sig.Params = append(sig.Params, pd.typ)
	}
	f := p.m.NewFunc(nameTok.text, sig)
	for _, pd := range params {
		f.NewParam(pd.name, pd.typ)
	}
	if p.atWord("fastcc") {
		p.take()
		f.CallConv = ir.CallConvFast
	}
	if err := p.expectPunct("{"); err != nil {
		return err
	}
	p.funcBodies[f] = p.pos
	// Skip to the matching close brace; bodies contain struct types,
	// so track nesting.
	depth := 1
	for depth > 0 {
		t := p.take()
		switch {
		case t.kind == tokEOF:
			return xerrors.Errorf("line %d: unterminated function body", nameTok.line)
		case t.kind == tokPunct && t.text == "{":
			depth++
		case t.kind == tokPunct && t.text == "}":
			depth--
		}
	}
	return nil
}

func (p *parser) parseInt() (int, error) {
	t := p.take()
	if t.kind != tokInt {
		return 0, xerrors.Errorf("line %d: expected integer, got %s", t.line, t)
	}
	return strconv.Atoi(t.text)
}

func (p *parser) parseParenInt() (int, error) {
	if err := p.expectPunct("("); err != nil {
		return 0, err
	}
	n, err := p.parseInt()
	if err != nil {
		return 0, err
	}
	return n, p.expectPunct(")")
}

// isTypeStart reports whether the current token can begin a type.
func (p *parser) isTypeStart() bool {
	t := p.cur()
	if t.kind == tokPunct {
		return t.text == "{"
	}
	if t.kind != tokWord {
		return false
	}
	switch t.text {
	case "void", "mmptr", "mmarrayptr", "func":
		return true
	}
	return intWidth(t.text) > 0
}

func intWidth(word string) int {
	if len(word) < 2 || word[0] != 'i' {
		return 0
	}
	n, err := strconv.Atoi(word[1:])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (p *parser) parseType() (ir.Type, error) {
	base, err := p.parseBaseType()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atPunct("*"):
			p.take()
			base = ir.PointerTo(base)
		case p.atWord("addrspace"):
			p.take()
			as, err := p.parseParenInt()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("*"); err != nil {
				return nil, err
			}
			base = &ir.PointerType{Elem: base, AddrSpace: as}
		default:
			return base, nil
		}
	}
}

func (p *parser) parseBaseType() (ir.Type, error) {
	t := p.take()
	switch {
	case t.kind == tokPunct && t.text == "{":
		st := &ir.StructType{}
		for !p.atPunct("}") {
			if len(st.Fields) > 0 {
				if err := p.expectPunct(","); err != nil {
					return nil, err
				}
			}
			ft, err := p.parseType()
			if err != nil {
				return nil, err
			}
			st.Fields = append(st.Fields, ft)
		}
		p.take() // "}"
		return st, nil

	case t.kind == tokWord && t.text == "void":
		return ir.Void, nil

	case t.kind == tokWord && (t.text == "mmptr" || t.text == "mmarrayptr"):
		if err := p.expectPunct("<"); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(">"); err != nil {
			return nil, err
		}
		if t.text == "mmptr" {
			return &ir.SinglePtrType{Elem: elem}, nil
		}
		return &ir.ArrayPtrType{Elem: elem}, nil

	case t.kind == tokWord && t.text == "func":
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		sig := &ir.FuncType{Return: ir.Void}
		for !p.atPunct(")") {
			if len(sig.Params) > 0 || sig.Variadic {
				if err := p.expectPunct(","); err != nil {
					return nil, err
				}
			}
			if p.atPunct(".") {
				// "..." lexes as three dots.
				for i := 0; i < 3; i++ {
					if err := p.expectPunct("."); err != nil {
						return nil, err
					}
				}
				sig.Variadic = true
				continue
			}
			pt, err := p.parseType()
			if err != nil {
				return nil, err
			}
			sig.Params = append(sig.Params, pt)
		}
		closing := p.take() // ")"
		if p.isTypeStart() && p.cur().line == closing.line {
			ret, err := p.parseType()
			if err != nil {
				return nil, err
			}
			sig.Return = ret
		}
		return sig, nil

	case t.kind == tokWord && intWidth(t.text) > 0:
		switch intWidth(t.text) {
		case 1:
			return ir.I1, nil
		case 8:
			return ir.I8, nil
		case 32:
			return ir.I32, nil
		case 64:
			return ir.I64, nil
		}
		return &ir.IntType{Width: intWidth(t.text)}, nil
	}
	return nil, xerrors.Errorf("line %d: expected type, got %s", t.line, t)
}

func (p *parser) parseConst(expected ir.Type) (ir.Constant, error) {
	t := p.cur()
	switch {
	case t.kind == tokPunct && t.text == "{":
		p.take()
		fields, ok := ir.FieldTypes(expected)
		if !ok {
			return nil, xerrors.Errorf("line %d: aggregate constant for non-aggregate type %s", t.line, expected)
		}
		var vals []ir.Constant
		for !p.atPunct("}") {
			if len(vals) > 0 {
				if err := p.expectPunct(","); err != nil {
					return nil, err
				}
			}
			if len(vals) >= len(fields) {
				return nil, xerrors.Errorf("line %d: too many fields for %s", t.line, expected)
			}
			fv, err := p.parseConst(fields[len(vals)])
			if err != nil {
				return nil, err
			}
			vals = append(vals, fv)
		}
		p.take() // "}"
		if len(vals) != len(fields) {
			return nil, xerrors.Errorf("line %d: want %d fields for %s, got %d", t.line, len(fields), expected, len(vals))
		}
		return ir.NewConstStruct(expected, vals), nil

	case t.kind == tokWord && t.text == "null":
		p.take()
		return ir.NewConstNull(expected), nil

	case t.kind == tokWord && t.text == "zeroinit":
		p.take()
		return ir.NewConstZero(expected), nil

	case t.kind == tokWord && t.text == "fieldaddr":
		return p.parseConstFieldAddr()

	case t.kind == tokGlobal:
		p.take()
		g := p.m.Global(t.text)
		if g == nil {
			return nil, xerrors.Errorf("line %d: unknown global @%s", t.line, t.text)
		}
		return g, nil

	case t.kind == tokWord && intWidth(t.text) > 0:
		typ, err := p.parseType()
		if err != nil {
			return nil, err
		}
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		return ir.NewConstInt(typ, int64(n)), nil

	case t.kind == tokInt:
		it, ok := expected.(*ir.IntType)
		if !ok {
			return nil, xerrors.Errorf("line %d: untyped integer for non-integer type %s", t.line, expected)
		}
		n, err := p.parseInt()
		if err != nil {
			return nil, err
		}
		return ir.NewConstInt(it, int64(n)), nil
	}
	return nil, xerrors.Errorf("line %d: expected constant, got %s", t.line, t)
}

func (p *parser) parseConstFieldAddr() (ir.Constant, error) {
	p.take() // "fieldaddr"
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	gt := p.take()
	if gt.kind != tokGlobal {
		return nil, xerrors.Errorf("line %d: fieldaddr needs a global, got %s", gt.line, gt)
	}
	g := p.m.Global(gt.text)
	if g == nil {
		return nil, xerrors.Errorf("line %d: unknown global @%s", gt.line, gt.text)
	}
	if err := p.expectPunct(","); err != nil {
		return nil, err
	}
	n, err := p.parseInt()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return &ir.ConstFieldAddr{Base: g, Field: n}, nil
}
