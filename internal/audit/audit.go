// Package audit records one immutable event per mutating policy operation.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Outcome is the terminal result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Event is an immutable audit record.
type Event struct {
	ID        uuid.UUID
	Action    string
	ActorID   int64
	TargetIDs []int64
	Outcome   Outcome
	At        time.Time
}

// Execer is satisfied by both *pgxpool.Pool and pgx.Tx, so a Writer can be
// bound to the transaction of the mutation it audits.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Writer persists events into audit_events.
type Writer struct {
	db Execer
}

// NewWriter returns a Writer bound to the given executor.
func NewWriter(db Execer) *Writer {
	return &Writer{db: db}
}

// Record inserts the event. A failed insert fails the surrounding unit of
// work; events are never emitted best-effort.
func (w *Writer) Record(ctx context.Context, e Event) error {
	if w == nil || w.db == nil {
		return errors.New("audit: writer not initialised")
	}
	if e.Action == "" {
		return errors.New("audit: action required")
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	_, err := w.db.Exec(ctx,
		`INSERT INTO audit_events (id, action, actor_id, target_ids, outcome, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.Action, e.ActorID, e.TargetIDs, string(e.Outcome), e.At)
	return err
}
