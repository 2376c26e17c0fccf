package ir

// This file defines modules and globals.

import "fmt"

// Linkage is the linkage kind of a global.
type Linkage int

const (
	ExternalLinkage Linkage = iota
	InternalLinkage
	CommonLinkage // zero-initialized tentative definition
)

func (l Linkage) String() string {
	switch l {
	case InternalLinkage:
		return "internal"
	case CommonLinkage:
		return "common"
	}
	return "external"
}

// A Global is module-scope named storage. Its Type() is a pointer to
// Elem in its address space, like an Alloc.
type Global struct {
	name                  string
	Elem                  Type
	Linkage               Linkage
	AddrSpace             int
	Constant              bool
	Init                  Constant // nil when uninitialized
	ExternallyInitialized bool
	ThreadLocal           bool
	Multiple              bool // multi-qualified storage
	Align                 int
	module                *Module
	referrers             []Instruction
}

func (g *Global) Name() string                { return g.name }
func (g *Global) Type() Type                  { return &PointerType{Elem: g.Elem, AddrSpace: g.AddrSpace} }
func (g *Global) String() string              { return "@" + g.name }
func (g *Global) referrersOf() *[]Instruction { return &g.referrers }
func (g *Global) Referrers() *[]Instruction   { return &g.referrers }
func (g *Global) Module() *Module             { return g.module }
func (g *Global) constant()                   {}

// HasInitializer reports whether g carries an explicit initializer.
func (g *Global) HasInitializer() bool { return g.Init != nil }

// HasCommonLinkage reports whether g is a common (zero-initialized)
// definition.
func (g *Global) HasCommonLinkage() bool { return g.Linkage == CommonLinkage }

// SetLinkage changes g's linkage kind.
func (g *Global) SetLinkage(l Linkage) { g.Linkage = l }

// SetAlignment sets g's alignment in bytes.
func (g *Global) SetAlignment(align int) { g.Align = align }

// A Module is a container of globals and functions.
type Module struct {
	Name    string
	globals []*Global
	funcs   []*Function
	byName  map[string]*Function
	gByName map[string]*Global
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:    name,
		byName:  make(map[string]*Function),
		gByName: make(map[string]*Global),
	}
}

// Globals returns the module's globals in declaration order.
func (m *Module) Globals() []*Global { return m.globals }

// Funcs returns the module's functions in declaration order.
func (m *Module) Funcs() []*Function { return m.funcs }

// Func returns the function with the given name, or nil.
func (m *Module) Func(name string) *Function { return m.byName[name] }

// Global returns the global with the given name, or nil.
func (m *Module) Global(name string) *Global { return m.gByName[name] }

// NewFunc creates a function (a declaration until blocks are added)
// and adds it to the module.
func (m *Module) NewFunc(name string, sig *FuncType) *Function {
	if m.byName[name] != nil {
		panic(fmt.Sprintf("NewFunc: duplicate function @%s", name))
	}
	f := &Function{name: name, Sig: sig, module: m}
	m.funcs = append(m.funcs, f)
	m.byName[name] = f
	return f
}

// NewGlobal creates a global of the given element type and adds it to
// the module.
func (m *Module) NewGlobal(name string, elem Type) *Global {
	if m.gByName[name] != nil {
		panic(fmt.Sprintf("NewGlobal: duplicate global @%s", name))
	}
	g := &Global{name: name, Elem: elem, module: m}
	m.globals = append(m.globals, g)
	m.gByName[name] = g
	return g
}

// InsertGlobalBefore creates a global placed before pos in the
// declaration order.
func (m *Module) InsertGlobalBefore(pos *Global, name string, elem Type) *Global {
	g := m.NewGlobal(name, elem)
	// NewGlobal appended; move into position.
	m.globals = m.globals[:len(m.globals)-1]
	for i, o := range m.globals {
		if o == pos {
			m.globals = append(m.globals, nil)
			copy(m.globals[i+1:], m.globals[i:])
			m.globals[i] = g
			return g
		}
	}
	m.globals = append(m.globals, g)
	return g
}

// EraseGlobal removes g from the module. g must have no remaining
// tracked uses.
func (m *Module) EraseGlobal(g *Global) {
	if len(g.referrers) > 0 {
		panic(fmt.Sprintf("EraseGlobal: @%s still has %d uses", g.name, len(g.referrers)))
	}
	for i, o := range m.globals {
		if o == g {
			m.globals = append(m.globals[:i], m.globals[i+1:]...)
			break
		}
	}
	delete(m.gByName, g.name)
	g.module = nil
}
