// Package dispatch fans a submission out to the simulation and synthesis
// backends and folds what comes back into a score.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"chipforge-gateway/internal/backend"
	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/metrics"
	"chipforge-gateway/internal/scoring"
)

var logger = logging.For("dispatch")

// Invoker is one backend endpoint.
type Invoker interface {
	Name() string
	Invoke(ctx context.Context, call backend.Call) backend.Outcome
}

// Submission is what the orchestrator sends out for one evaluation.
type Submission struct {
	ID               string
	Design           []byte
	DesignName       string
	SimulationBundle []byte
	SynthesisBundle  []byte
}

// Outcomes holds exactly one outcome per backend. Synthesis is
// backend.Skipped when the scoring configuration does not need it.
type Outcomes struct {
	Simulation backend.Outcome
	Synthesis  backend.Outcome
}

type Orchestrator struct {
	simulation Invoker
	synthesis  Invoker
}

func New(simulation, synthesis Invoker) *Orchestrator {
	return &Orchestrator{simulation: simulation, synthesis: synthesis}
}

// Run always calls the simulation backend and calls the synthesis backend
// only when area or performance carry weight. Both calls run concurrently
// with their own deadlines and Run returns once both have resolved.
// Cancelling ctx aborts whichever calls are still in flight.
func (o *Orchestrator) Run(ctx context.Context, sub Submission, cfg scoring.Config) Outcomes {
	log := logger.WithField("submission_id", sub.ID)

	out := Outcomes{
		Synthesis: backend.Skipped{Reason: "area and performance weights are zero"},
	}

	var g errgroup.Group
	g.Go(func() error {
		out.Simulation = o.call(ctx, o.simulation, backend.Call{
			SubmissionID: sub.ID,
			Design:       sub.Design,
			DesignName:   sub.DesignName,
			Bundle:       sub.SimulationBundle,
		})
		return nil
	})
	if cfg.NeedsSynthesis() {
		g.Go(func() error {
			out.Synthesis = o.call(ctx, o.synthesis, backend.Call{
				SubmissionID: sub.ID,
				Design:       sub.Design,
				DesignName:   sub.DesignName,
				Bundle:       sub.SynthesisBundle,
			})
			return nil
		})
	} else {
		metrics.ObserveBackend(o.synthesis.Name(), string(backend.KindSkipped), 0)
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"simulation": out.Simulation.Kind(),
		"synthesis":  out.Synthesis.Kind(),
	}).Info("Backends resolved")
	return out
}

// call shields the join point from a panicking invoker.
func (o *Orchestrator) call(ctx context.Context, inv Invoker, c backend.Call) (out backend.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("backend", inv.Name()).Errorf("Backend call panicked: %v", r)
			out = backend.TransportFailure{Err: fmt.Errorf("%s call panicked: %v", inv.Name(), r)}
		}
		if out == nil {
			out = backend.TransportFailure{Err: fmt.Errorf("%s returned no outcome", inv.Name())}
		}
		metrics.ObserveBackend(inv.Name(), string(out.Kind()), time.Since(start))
	}()
	return inv.Invoke(ctx, c)
}

// Aggregate extracts the raw metrics from the outcomes and scores them.
// The instruction rate needs the synthesis clock, so it is derived here,
// after both calls have returned. Without a successful simulation the
// report is zeroed with both gates closed.
func Aggregate(out Outcomes, cfg scoring.Config) (scoring.Metrics, scoring.Report) {
	sim, ok := out.Simulation.(backend.Success)
	if !ok {
		return scoring.Metrics{}, scoring.Zero()
	}
	m := Extract(sim, out.Synthesis)
	return m, scoring.Score(m, cfg)
}

// Extract reads the metrics carried by a simulation success and, when it
// succeeded too, the synthesis outcome.
func Extract(sim backend.Success, synth backend.Outcome) scoring.Metrics {
	results := object(sim.Body, "results")
	var m scoring.Metrics
	if v, ok := number(results["functionality_score"]); ok {
		m.Functionality = v
	} else if v, ok := number(sim.Body["functionality_score"]); ok {
		m.Functionality = v
	}
	ipc, _ := number(object(results, "details")["instructions_per_cycle"])

	if s, ok := synth.(backend.Success); ok {
		sr := object(s.Body, "results")
		m.AreaUM2, _ = number(sr["area_um2"])
		m.PowerMW, _ = number(sr["power_mw"])
		if fmax, _ := number(sr["fmax_mhz"]); fmax > 0 && ipc > 0 {
			m.InstructionsPerSecond = ipc * fmax * 1e6
		}
	}
	return m
}

func object(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
