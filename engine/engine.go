// Package engine implements the lifecycle workflow engine.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/utils/uuid"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log"
)

// DefaultDueInterval is how long an assignee has to finish a task.
const DefaultDueInterval = time.Hour * 48

// Engine instantiates templates into workflows and drives their tasks
// through assignment and status transitions.
type Engine struct {
	storage storage.Storage

	logger log.Logger
	ider   uuid.IDer
	clock  func() time.Time

	dueInterval time.Duration
}

// Options configure the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithIDer sets the generator of new record identifiers.
func WithIDer(ider uuid.IDer) Option {
	return func(e *Engine) {
		e.ider = ider
	}
}

// WithClock sets the source of the current time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithDueInterval sets the interval after assignment at which a task is due.
func WithDueInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.dueInterval = d
	}
}

// New creates a new lifecycle engine.
func New(storage storage.Storage, opts ...Option) *Engine {
	e := &Engine{
		storage:     storage,
		logger:      log.NopLogger,
		ider:        uuid.NewUUID(),
		clock:       time.Now,
		dueInterval: DefaultDueInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// retrieveActor makes sure the acting user exists.
func retrieveActor(ctx context.Context, users storage.UserDirectory, actorID string) (*storage.User, error) {
	actor, err := users.RetrieveUser(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("retrieving actor: %w", err)
	}
	return actor, nil
}

// setWorkflowStatus moves wf to next and appends the history entry.
func (e *Engine) setWorkflowStatus(ctx context.Context, tx storage.Tx, wf *storage.Workflow, next workflow.WorkflowStatus, actorID, note string) error {
	if err := workflow.CheckWorkflowTransition(wf.Status, next); err != nil {
		return err
	}
	now := e.now()
	prev := wf.Status
	wf.Status = next
	if next == workflow.WorkflowCompleted {
		wf.CompletedAt = now
	}
	if err := tx.StoreWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("storing workflow: %w", err)
	}
	err := tx.AppendHistory(ctx, &storage.HistoryEntry{
		ID:             e.ider.ID(),
		WorkflowID:     wf.ID,
		PreviousStatus: prev,
		NewStatus:      next,
		ChangedBy:      actorID,
		ChangedAt:      now,
		Note:           note,
	})
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}
