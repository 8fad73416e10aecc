package diag

import (
	"fmt"

	"github.com/google/pprof/profile"

	"resonant"
)

/// Snapshot renders the resonant scheduler's current state as a pprof
/// profile: one sample per registered process, carrying its coherence
/// and φ as values and its class/state/φ-tier/emergence-tier as
/// labels, so existing pprof tooling (`go tool pprof`) can visualize
/// scheduler state offline. Grounded in SPEC_FULL.md's Domain Stack
/// entry for github.com/google/pprof/profile.
func Snapshot() *profile.Profile {
	rpcbs := resonant.Table.Snapshot()
	queen := resonant.Table.GetQueenState()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "coherence", Unit: "millicoherence"},
			{Type: "phi", Unit: "milliphi"},
		},
		PeriodType: &profile.ValueType{Type: "sync", Unit: "count"},
		Period:     1,
		Comments: []string{
			fmt.Sprintf("order_parameter_r=%.4f mean_phase=%.4f system_coherence=%.4f globally_stable=%t network_conscious=%t",
				queen.R, queen.Psi, queen.SystemCoherence, queen.GloballyStable, queen.NetworkConscious),
		},
	}

	for i := range rpcbs {
		r := &rpcbs[i]
		id := uint64(i + 1)
		fn := &profile.Function{
			ID:   id,
			Name: fmt.Sprintf("pid-%d", r.Pid),
		}
		loc := &profile.Location{
			ID:   id,
			Line: []profile.Line{{Function: fn, Line: 1}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value: []int64{
				int64(r.Osc.Coherence * 1000),
				int64(r.Phi * 1000),
			},
			Label: map[string][]string{
				"class":           {r.Class.String()},
				"state":           {r.RState.String()},
				"phi_tier":        {resonant.ClassifyPhi(r.Phi)},
				"emergence_tier":  {resonant.ClassifyEmergence(r.Emerg.Norm)},
				"handedness":      {handednessName(r.Chiral.Handedness)},
			},
			NumLabel: map[string][]int64{
				"pid": {int64(r.Pid)},
			},
		})
	}
	return p
}

func handednessName(h resonant.Handedness_t) string {
	switch h {
	case resonant.HandednessLeft:
		return "left"
	case resonant.HandednessRight:
		return "right"
	default:
		return "neutral"
	}
}
