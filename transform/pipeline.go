package transform

// The canonical pass pipeline: lock insertion, type harmonization,
// free-finder, block splitting, check removal. Lock insertion and
// harmonization run first because both add and remove the uses the
// check remover reasons about; the analysis results flow strictly
// forward and are produced and consumed within one Run.

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"

	"github.com/mmsafec/mmopt/callgraph"
	"github.com/mmsafec/mmopt/freefinder"
	"github.com/mmsafec/mmopt/ir"
)

// A Pipeline runs the five passes over a module in order. The module
// is owned exclusively by the pipeline for the duration of Run.
type Pipeline struct {
	// Hoist enables the check remover's add-check-before-call mode.
	Hoist bool

	// ExtraNonFreeing extends the free-finder's whitelist.
	ExtraNonFreeing []string

	Log *logrus.Logger
}

// A Summary reports what a pipeline run did to a module.
type Summary struct {
	Changed       bool
	RemovedChecks int
	MayFreeFns    int
	MayFreeCalls  int
}

// Run executes the pipeline over m.
func (p *Pipeline) Run(m *ir.Module) (*Summary, error) {
	log := p.Log
	if log == nil {
		log = logrus.New()
		log.SetOutput(ioutil.Discard)
	}
	sum := &Summary{}

	locks := &AddLockToMultiple{Log: log}
	changed, err := locks.Run(m)
	if err != nil {
		return nil, err
	}
	sum.Changed = sum.Changed || changed

	harmonize := &HarmonizeTypes{Log: log}
	changed, err = harmonize.Run(m)
	if err != nil {
		return nil, err
	}
	sum.Changed = sum.Changed || changed

	ff, err := freefinder.Analyze(&freefinder.Config{
		Module:          m,
		Graph:           callgraph.Build(m),
		ExtraNonFreeing: p.ExtraNonFreeing,
		Log:             log,
	})
	if err != nil {
		return nil, err
	}
	sum.MayFreeFns = len(ff.MayFreeFns)
	sum.MayFreeCalls = len(ff.MayFreeCalls)

	split, changed, err := SplitBlocks(m, ff, log)
	if err != nil {
		return nil, err
	}
	sum.Changed = sum.Changed || changed

	opt := &KeyCheckOpt{Hoist: p.Hoist, Log: log}
	changed, err = opt.Run(m, split)
	if err != nil {
		return nil, err
	}
	sum.Changed = sum.Changed || changed
	sum.RemovedChecks = opt.Removed

	return sum, nil
}
