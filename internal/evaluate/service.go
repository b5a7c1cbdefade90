// Package evaluate runs one evaluation request end to end: identity,
// bundle assembly, scoring configuration, backend fan-out and the response.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"chipforge-gateway/internal/backend"
	"chipforge-gateway/internal/bundle"
	"chipforge-gateway/internal/dispatch"
	"chipforge-gateway/internal/ident"
	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/metrics"
	"chipforge-gateway/internal/schemas"
	"chipforge-gateway/internal/scoring"
)

var logger = logging.For("evaluate")

// Request is one inbound evaluation. Scoring holds an optional JSON or YAML
// scoring document that overrides the one shipped in the evaluator archive.
type Request struct {
	SubmissionID string
	Design       []byte
	DesignName   string
	Evaluator    []byte
	Scoring      []byte
}

// RequestError is a request that could not be evaluated at all.
type RequestError struct {
	Status       int
	SubmissionID string
	Message      string
	Err          error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *RequestError) Unwrap() error { return e.Err }

// Runner fans a submission out to the backends.
type Runner interface {
	Run(ctx context.Context, sub dispatch.Submission, cfg scoring.Config) dispatch.Outcomes
}

// Archiver hands a finished response to background storage.
type Archiver interface {
	Archive(ctx context.Context, task schemas.ArchiveTask) error
}

type Service struct {
	runner   Runner
	archiver Archiver
}

// NewService returns a Service. archiver may be nil, in which case results
// are not archived.
func NewService(runner Runner, archiver Archiver) *Service {
	return &Service{runner: runner, archiver: archiver}
}

// Evaluate always returns a response when err is nil, including when a
// backend failed. err is a *RequestError when the request was rejected.
func (s *Service) Evaluate(ctx context.Context, req Request) (*schemas.EvaluateResponse, error) {
	id := ident.Resolve(req.SubmissionID)
	log := logger.WithField("submission_id", id)

	resp, err := s.evaluate(ctx, id, req)
	if err != nil {
		var rerr *RequestError
		if !errors.As(err, &rerr) {
			rerr = &RequestError{Status: http.StatusInternalServerError, Message: "evaluation failed", Err: err}
		}
		rerr.SubmissionID = id
		result := "error"
		if rerr.Status < http.StatusInternalServerError {
			result = "malformed"
			log.WithError(err).Warn("Rejected evaluation request")
		} else {
			log.WithError(err).Error("Evaluation failed")
		}
		metrics.ObserveEvaluation(result, 0)
		return nil, rerr
	}

	metrics.ObserveEvaluation("completed", resp.FinalScore.Overall)
	log.WithFields(logrus.Fields{
		"overall":         resp.FinalScore.Overall,
		"functional_gate": resp.FinalScore.FunctionalGate,
	}).Info("Evaluation completed")

	s.archive(ctx, log, resp)
	return resp, nil
}

func (s *Service) evaluate(ctx context.Context, id string, req Request) (*schemas.EvaluateResponse, error) {
	if len(req.Design) == 0 {
		return nil, badRequest("design_zip is required", nil)
	}
	if len(req.Evaluator) == 0 {
		return nil, badRequest("evaluator_zip is required", nil)
	}

	var override *scoring.Document
	if len(req.Scoring) > 0 {
		doc, err := scoring.ParseDocument(req.Scoring)
		if err != nil {
			return nil, badRequest("invalid scoring override", err)
		}
		override = doc
	}

	b, err := bundle.Assemble(ctx, req.Evaluator)
	switch {
	case errors.Is(err, bundle.ErrMalformedBundle):
		return nil, badRequest("malformed evaluator bundle", err)
	case errors.Is(err, scoring.ErrInvalidConfig):
		return nil, badRequest("invalid scoring document in evaluator bundle", err)
	case err != nil:
		return nil, fmt.Errorf("assemble evaluator bundle: %w", err)
	}

	cfg, err := scoring.Resolve(b.Scoring, override)
	if err != nil {
		return nil, badRequest("invalid scoring configuration", err)
	}

	out := s.runner.Run(ctx, dispatch.Submission{
		ID:               id,
		Design:           req.Design,
		DesignName:       req.DesignName,
		SimulationBundle: b.Simulation,
		SynthesisBundle:  b.Synthesis,
	}, cfg)

	m, report := dispatch.Aggregate(out, cfg)
	return buildResponse(id, cfg, out, m, report), nil
}

func buildResponse(id string, cfg scoring.Config, out dispatch.Outcomes, m scoring.Metrics, report scoring.Report) *schemas.EvaluateResponse {
	resp := &schemas.EvaluateResponse{
		Success:          out.Simulation.Kind() == backend.KindSuccess,
		SubmissionID:     id,
		VerilatorResults: out.Simulation.Payload(),
		OpenLaneResults:  out.Synthesis.Payload(),
		Weights:          &cfg.Weights,
		Targets:          &cfg.Targets,
		FinalScore:       &report,
		Metrics:          &m,
		Backends: map[string]string{
			"verilator": string(out.Simulation.Kind()),
			"openlane":  string(out.Synthesis.Kind()),
		},
	}
	if !resp.Success {
		resp.ErrorMessage = failureMessage("simulation", out.Simulation)
	}
	return resp
}

func failureMessage(stage string, o backend.Outcome) string {
	switch v := o.(type) {
	case backend.BackendFailure:
		msg := fmt.Sprintf("%s failed: %s", stage, v.Message)
		if v.Log != "" {
			msg += "\n\nLOG:\n" + v.Log
		}
		return msg
	case backend.Timeout:
		return fmt.Sprintf("%s timed out after %s", stage, v.After)
	case backend.TransportFailure:
		return fmt.Sprintf("%s unavailable: %v", stage, v.Err)
	}
	return fmt.Sprintf("%s did not run", stage)
}

// archive never affects the response; a failed hand-off is logged and counted.
func (s *Service) archive(ctx context.Context, log *logrus.Entry, resp *schemas.EvaluateResponse) {
	if s.archiver == nil {
		return
	}
	task := schemas.ArchiveTask{
		SubmissionID: resp.SubmissionID,
		CompletedAt:  time.Now().UTC(),
		Response:     *resp,
	}
	if err := s.archiver.Archive(context.WithoutCancel(ctx), task); err != nil {
		log.WithError(err).Warn("Failed to enqueue evaluation archive")
		metrics.ObserveArchive("enqueue_failed")
		return
	}
	metrics.ObserveArchive("enqueued")
}

func badRequest(msg string, err error) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: msg, Err: err}
}
