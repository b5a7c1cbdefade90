// Package scoring folds simulation and synthesis metrics into one gated,
// bounded score.
//
// Score is pure: no I/O, no shared state. Components are computed in ratio
// space and only scaled to 0..100 and rounded when the Report is built.
//
// Gate policy: a design below the functional threshold keeps its raw
// functionality score but every other component and the overall score are
// zeroed. Reported scores are clamped to [0, 100], so a blend above 1.0 in
// ratio space reports as 100.
package scoring

import "math"

// Metrics are the raw backend measurements for one submission. A value that
// is zero, negative or NaN is treated as absent.
type Metrics struct {
	Functionality         float64 `json:"functionality"`
	AreaUM2               float64 `json:"area_um2,omitempty"`
	InstructionsPerSecond float64 `json:"instructions_per_second,omitempty"`
	PowerMW               float64 `json:"power_mw,omitempty"`
}

// Report is the externally visible result of scoring.
type Report struct {
	FuncScore      float64 `json:"func_score"`
	AreaScore      float64 `json:"area_score"`
	PerfScore      float64 `json:"perf_score"`
	PowerScore     float64 `json:"power_score"`
	Overall        float64 `json:"overall"`
	FunctionalGate bool    `json:"functional_gate"`
	OverallGate    bool    `json:"overall_gate"`
}

// Score computes the Report for m under cfg.
func Score(m Metrics, cfg Config) Report {
	w, t := cfg.Weights, cfg.Targets

	fc := clamp(m.Functionality, 0, 1)
	gate := fc >= t.FuncThreshold

	var ac, pc, wc, overall float64
	if gate {
		ac = ratio(t.AreaTarget, m.AreaUM2, t.RatioCap)
		pc = ratio(m.InstructionsPerSecond, t.PerfTarget, t.RatioCap)
		wc = ratio(t.PowerTarget, m.PowerMW, t.RatioCap)

		total := w.Functionality + w.Area + w.Performance + w.Power
		if !(total > 0) {
			total = 1.0
		}
		overall = (w.Functionality*fc + w.Area*ac + w.Performance*pc + w.Power*wc) / total
	}

	r := Report{
		FuncScore:      present(fc),
		AreaScore:      present(ac),
		PerfScore:      present(pc),
		PowerScore:     present(wc),
		Overall:        present(overall),
		FunctionalGate: gate,
	}
	r.OverallGate = r.Overall >= t.OverallThreshold
	return r
}

// Zero is the report for a submission whose simulation did not succeed:
// every score is zero and both gates are closed, whatever the thresholds.
func Zero() Report {
	return Report{}
}

// ratio returns num/den capped at limit, or 0 when either side is absent.
func ratio(num, den, limit float64) float64 {
	if !(num > 0) || !(den > 0) {
		return 0
	}
	return math.Min(num/den, limit)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

func present(v float64) float64 {
	return math.Round(clamp(v*100, 0, 100)*100) / 100
}
