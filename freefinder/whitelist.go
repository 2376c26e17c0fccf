package freefinder

import "github.com/mmsafec/mmopt/ir"

// DefaultNonFreeing is the initial whitelist of external symbols
// known not to release heap objects. It is deliberately small; the
// host driver extends it through Config.ExtraNonFreeing.
var DefaultNonFreeing = []string{
	"malloc", "mm_alloc", "mm_array_alloc",
	// libc. Needs to grow.
	"printf", "abort", "exit", "srand",
	"atoi", "atol",
}

// whitelist builds the effective non-freeing set for a module: the
// defaults, the module's own key-check helper names, and any extra
// host entries.
func whitelist(moduleName string, extra []string) map[string]struct{} {
	wl := make(map[string]struct{}, len(DefaultNonFreeing)+len(extra)+2)
	for _, name := range DefaultNonFreeing {
		wl[name] = struct{}{}
	}
	wl[moduleName+"_"+ir.MMPtrCheckFn] = struct{}{}
	wl[moduleName+"_"+ir.MMArrayPtrCheckFn] = struct{}{}
	for _, name := range extra {
		wl[name] = struct{}{}
	}
	return wl
}
