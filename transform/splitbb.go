package transform

// Basic-block splitting around may-free calls. After this pass every
// basic block either contains no may-free call, or contains exactly
// one as its final instruction before the terminator. The check
// remover relies on that shape: a may-free block kills every dataflow
// fact, and the split guarantees the kill point is block-granular.

import (
	"io/ioutil"

	"github.com/sirupsen/logrus"

	"github.com/mmsafec/mmopt/freefinder"
	"github.com/mmsafec/mmopt/ir"
)

// SplitResult identifies the blocks produced by splitting: each holds
// exactly one may-free call at its tail.
type SplitResult struct {
	MayFreeBBs map[*ir.BasicBlock]struct{}
}

// SplitBlocks splits the blocks of m around every call in ff's
// may-free set. It reports whether the module changed.
//
// The worklist is materialized from ff.MayFreeCalls up front; the
// splits preserve call-instruction identity, so driving the loop from
// the materialized list is safe while the CFG changes underneath.
func SplitBlocks(m *ir.Module, ff *freefinder.Result, log *logrus.Logger) (*SplitResult, bool, error) {
	if ff == nil {
		return nil, false, &MissingDependencyError{Pass: "split-blocks", Requires: "freefinder.Result"}
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(ioutil.Discard)
	}

	var worklist []*ir.Call
	for _, f := range m.Funcs() {
		f.AllInstructions(func(instr ir.Instruction) {
			if call, ok := instr.(*ir.Call); ok {
				if _, mayFree := ff.MayFreeCalls[call]; mayFree {
					worklist = append(worklist, call)
				}
			}
		})
	}

	res := &SplitResult{MayFreeBBs: make(map[*ir.BasicBlock]struct{})}
	for _, call := range worklist {
		if call.Parent().FirstNonPhi() != call {
			ir.SplitBlockBefore(call)
		}
		ir.SplitBlockAfter(call)
		res.MayFreeBBs[call.Parent()] = struct{}{}
	}

	if len(worklist) > 0 {
		log.WithFields(logrus.Fields{
			"calls":  len(worklist),
			"blocks": len(res.MayFreeBBs),
		}).Debug("splitbb: isolated may-free calls")
	}
	return res, len(worklist) > 0, nil
}
