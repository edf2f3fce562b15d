package analysis

import (
	"unlua/internal/ir"
)

// Ensure recomputes every stale analysis among kinds, together with the
// analyses it depends on. The chain is order, dominance, frontier, liveness;
// def-use stands alone and is refreshed only for its Identifier.Def side
// effect.
func Ensure(f *ir.Function, kinds ...ir.Analysis) {
	for _, k := range kinds {
		if f.Fresh(k) {
			continue
		}
		switch k {
		case ir.AnalysisOrder:
			NumberRPO(f)
		case ir.AnalysisDominance:
			Dominance(f)
		case ir.AnalysisFrontier:
			Frontier(f)
		case ir.AnalysisLiveness:
			Liveness(f)
		case ir.AnalysisDefUse:
			ComputeDefUse(f)
		default:
			ir.Faultf("analysis.Ensure", "unknown analysis %d", k)
		}
	}
}
