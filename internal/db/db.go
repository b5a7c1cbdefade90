package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// ErrDuplicate is returned when a submission id is already recorded.
var ErrDuplicate = errors.New("submission already recorded")

func Open(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return sqlx.Connect("pgx", dsn)
}

func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertEvaluation records one finished evaluation. The submission id is
// the primary key, so a reused id yields ErrDuplicate.
func InsertEvaluation(ctx context.Context, db sqlx.ExtContext, e Evaluation) error {
	_, err := sqlx.NamedExecContext(ctx, db, `
		insert into evaluations
			(submission_id, success, overall, functional_gate, overall_gate,
			 verilator_outcome, openlane_outcome, object_ref, completed_at)
		values
			(:submission_id, :success, :overall, :functional_gate, :overall_gate,
			 :verilator_outcome, :openlane_outcome, :object_ref, :completed_at)`, e)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.SubmissionID)
	}
	return err
}

// GetEvaluation loads the ledger row for a submission.
func GetEvaluation(ctx context.Context, db sqlx.QueryerContext, submissionID string) (Evaluation, error) {
	var e Evaluation
	err := sqlx.GetContext(ctx, db, &e, `select * from evaluations where submission_id=$1`, submissionID)
	return e, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Ledger records evaluations and publishes their report in one step.
type Ledger struct {
	db *sqlx.DB
}

func NewLedger(db *sqlx.DB) *Ledger { return &Ledger{db: db} }

// Record inserts e and then runs publish inside the same transaction, so a
// failed publish leaves no row behind and a duplicate id never reaches
// publish.
func (l *Ledger) Record(ctx context.Context, e Evaluation, publish func(context.Context) error) error {
	return WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		if err := InsertEvaluation(ctx, tx, e); err != nil {
			return err
		}
		return publish(ctx)
	})
}
