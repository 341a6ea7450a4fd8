package engine

import (
	"context"
	"fmt"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

const (
	// DefaultStatusNote is recorded when a workflow transition carries no note.
	DefaultStatusNote = "Status updated"

	// CompletedNote is recorded when the last visible task completes a workflow.
	CompletedNote = "All visible tasks completed"
)

// TaskUpdate is the outcome of a task transition.
type TaskUpdate struct {
	Task           *storage.Task           `json:"task"`
	WorkflowStatus workflow.WorkflowStatus `json:"workflow_status"`

	// Assigned lists tasks unblocked and assigned by the transition.
	Assigned []AssignmentResult `json:"assigned,omitempty"`

	// WorkflowCompleted is true if the transition completed the workflow.
	WorkflowCompleted bool `json:"workflow_completed,omitempty"`
}

// allVisibleCompleted reports whether there is at least one visible
// task and every visible task is COMPLETED.
func allVisibleCompleted(tasks []*storage.Task) bool {
	visible := 0
	for _, t := range tasks {
		if !t.Visible {
			continue
		}
		if t.Status != workflow.TaskCompleted {
			return false
		}
		visible++
	}
	return visible > 0
}

// completeIfDone completes an IN_PROGRESS workflow whose visible tasks
// are all COMPLETED. It reports whether it did.
func (e *Engine) completeIfDone(ctx context.Context, tx storage.Tx, wf *storage.Workflow, tasks []*storage.Task, actorID string) (bool, error) {
	if wf.Status != workflow.WorkflowInProgress || !allVisibleCompleted(tasks) {
		return false, nil
	}
	if err := e.setWorkflowStatus(ctx, tx, wf, workflow.WorkflowCompleted, actorID, CompletedNote); err != nil {
		return false, err
	}
	return true, nil
}

// TransitionWorkflow moves the workflow with workflowID to next.
// An empty note records DefaultStatusNote. Moving a workflow (back) to
// IN_PROGRESS runs an assignment pass and then completes the workflow
// if every visible task is already COMPLETED.
func (e *Engine) TransitionWorkflow(ctx context.Context, workflowID string, next workflow.WorkflowStatus, actorID, note string) (*StateSummary, error) {
	if !next.Valid() {
		return nil, workflow.NewValidationError("invalid workflow status: %q", next)
	}
	if note == "" {
		note = DefaultStatusNote
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.WorkflowID, workflowID)

	var summary *StateSummary
	var prev workflow.WorkflowStatus
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("locking workflow: %w", err)
		}
		if _, err = retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		prev = wf.Status
		if err = e.setWorkflowStatus(ctx, tx, wf, next, actorID, note); err != nil {
			return err
		}
		tasks, err := tx.RetrieveTasks(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("retrieving tasks: %w", err)
		}
		if next == workflow.WorkflowInProgress {
			if _, err = e.assignReady(ctx, tx, wf, tasks); err != nil {
				return err
			}
			// tasks may have been completed while blocked
			if _, err = e.completeIfDone(ctx, tx, wf, tasks, actorID); err != nil {
				return err
			}
		}
		summary = summarize(wf, tasks)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(
		logkeys.Message, "workflow status changed",
		logkeys.PrevStatus, prev,
		logkeys.Status, summary.Status,
		logkeys.ActorID, actorID,
	)
	return summary, nil
}

// TransitionTask moves the task with taskID to next.
//
// Completing a task records the completing actor and then, within the
// same transaction, assigns any tasks it unblocked and completes the
// workflow once every visible task is COMPLETED.
func (e *Engine) TransitionTask(ctx context.Context, taskID string, next workflow.TaskStatus, actorID string) (*TaskUpdate, error) {
	if !next.Valid() {
		return nil, workflow.NewValidationError("invalid task status: %q", next)
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.TaskID, taskID)

	var update *TaskUpdate
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wf, task, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if _, err = retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err = workflow.CheckTaskTransition(task.Status, next); err != nil {
			return err
		}
		task.Status = next
		if next == workflow.TaskCompleted {
			task.CompletedAt = e.now()
			task.CompletedBy = actorID
		}
		if err = tx.StoreTasks(ctx, []*storage.Task{task}); err != nil {
			return fmt.Errorf("storing task: %w", err)
		}
		update = &TaskUpdate{Task: task}

		if next == workflow.TaskCompleted {
			tasks, err := tx.RetrieveTasks(ctx, wf.ID)
			if err != nil {
				return fmt.Errorf("retrieving tasks: %w", err)
			}
			if update.Assigned, err = e.assignReady(ctx, tx, wf, tasks); err != nil {
				return err
			}
			if update.WorkflowCompleted, err = e.completeIfDone(ctx, tx, wf, tasks, actorID); err != nil {
				return err
			}
		}
		update.WorkflowStatus = wf.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(
		logkeys.Message, "task status changed",
		logkeys.WorkflowID, update.Task.WorkflowID,
		logkeys.Status, next,
		logkeys.ActorID, actorID,
		logkeys.GenericCount, len(update.Assigned),
	)
	if update.WorkflowCompleted {
		logger.Info(
			logkeys.Message, "workflow completed",
			logkeys.WorkflowID, update.Task.WorkflowID,
		)
	}
	return update, nil
}

// UpdateChecklist replaces the partial-progress checklist of the task
// with taskID. Completed tasks are read-only.
func (e *Engine) UpdateChecklist(ctx context.Context, taskID string, checklist map[string]interface{}, actorID string) (*storage.Task, error) {
	var task *storage.Task
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		_, task, err = lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if _, err = retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		if task.Status == workflow.TaskCompleted {
			return workflow.NewValidationError("task is completed: %s", taskID)
		}
		task.Checklist = checklist
		if err = tx.StoreTasks(ctx, []*storage.Task{task}); err != nil {
			return fmt.Errorf("storing task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// lockTask locks the workflow owning the task with taskID and returns
// both, the task read after the lock was taken.
func lockTask(ctx context.Context, tx storage.Tx, taskID string) (*storage.Workflow, *storage.Task, error) {
	task, err := tx.RetrieveTask(ctx, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieving task: %w", err)
	}
	wf, err := tx.LockWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return nil, nil, fmt.Errorf("locking workflow: %w", err)
	}
	if task, err = tx.RetrieveTask(ctx, taskID); err != nil {
		return nil, nil, fmt.Errorf("retrieving task: %w", err)
	}
	return wf, task, nil
}
