// Package worker archives finished evaluations in the background.
//
// The API enqueues an archive_evaluation task per completed request; the
// worker writes the response JSON to object storage and records the
// submission in the evaluations ledger.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"chipforge-gateway/internal/config"
	"chipforge-gateway/internal/db"
	"chipforge-gateway/internal/logging"
	"chipforge-gateway/internal/metrics"
	"chipforge-gateway/internal/schemas"
)

const (
	TypeArchiveEvaluation = "archive_evaluation"
	archiveQueue          = "archive"
	archiveRetries        = 5
)

var logger = logging.For("worker")

func NewArchiveTask(t schemas.ArchiveTask) (*asynq.Task, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeArchiveEvaluation, payload), nil
}

// TaskClient is the part of *asynq.Client the Enqueuer needs.
type TaskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Enqueuer hands finished evaluations to the worker queue.
type Enqueuer struct {
	client TaskClient
}

func NewEnqueuer(client TaskClient) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) Archive(ctx context.Context, t schemas.ArchiveTask) error {
	task, err := NewArchiveTask(t)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(archiveQueue),
		asynq.MaxRetry(archiveRetries),
		asynq.TaskID(TypeArchiveEvaluation+":"+t.SubmissionID),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("submission %s is already queued for archiving: %w", t.SubmissionID, err)
	}
	return err
}

// ObjectStore is where report documents go.
type ObjectStore interface {
	Key(submissionID string) string
	Ref(key string) string
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// Ledger records an evaluation and publishes its report atomically.
type Ledger interface {
	Record(ctx context.Context, e db.Evaluation, publish func(context.Context) error) error
}

type Server struct {
	Store  ObjectStore
	Ledger Ledger
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeArchiveEvaluation, s.handleArchive)
	return mux
}

func (s *Server) handleArchive(ctx context.Context, t *asynq.Task) error {
	var task schemas.ArchiveTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		metrics.ObserveArchive("invalid")
		return fmt.Errorf("decode archive task: %v: %w", err, asynq.SkipRetry)
	}
	log := logger.WithField("submission_id", task.SubmissionID)

	key := s.Store.Key(task.SubmissionID)
	rec := ledgerRow(task, s.Store.Ref(key))

	err := s.Ledger.Record(ctx, rec, func(ctx context.Context) error {
		_, err := s.Store.PutJSON(ctx, key, task.Response)
		return err
	})
	switch {
	case errors.Is(err, db.ErrDuplicate):
		log.Warn("Submission id already archived, dropping task")
		metrics.ObserveArchive("duplicate")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case err != nil:
		log.WithError(err).Warn("Archive attempt failed")
		metrics.ObserveArchive("failed")
		return err
	}

	log.WithFields(logrus.Fields{
		"object_ref": rec.ObjectRef,
		"overall":    rec.Overall,
	}).Info("Archived evaluation")
	metrics.ObserveArchive("stored")
	return nil
}

func ledgerRow(task schemas.ArchiveTask, ref string) db.Evaluation {
	resp := task.Response
	e := db.Evaluation{
		SubmissionID:     task.SubmissionID,
		Success:          resp.Success,
		VerilatorOutcome: resp.Backends["verilator"],
		OpenLaneOutcome:  resp.Backends["openlane"],
		ObjectRef:        ref,
		CompletedAt:      task.CompletedAt,
	}
	if r := resp.FinalScore; r != nil {
		e.Overall = r.Overall
		e.FunctionalGate = r.FunctionalGate
		e.OverallGate = r.OverallGate
	}
	return e
}

// Run serves archive tasks until the process is signalled.
func Run(cfg *config.Config, store ObjectStore, ledger Ledger) error {
	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{archiveQueue: 1},
		Logger:      logger,
	})
	w := &Server{Store: store, Ledger: ledger}
	return srv.Run(w.mux())
}
