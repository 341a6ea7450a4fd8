package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// AssignmentResult is a task assigned by an assignment pass.
type AssignmentResult struct {
	TaskID   string        `json:"task_id"`
	TaskName string        `json:"task_name"`
	Role     workflow.Role `json:"role"`
	UserID   string        `json:"user_id"`
	DueAt    time.Time     `json:"due_at"`
}

// readyTasks returns the tasks eligible for assignment.
//
// A task is ready when it is unassigned, NOT_STARTED and visible, and
// either its recorded dependency is COMPLETED or, without a dependency,
// no visible task with a lower sequence order is still open. Hidden
// tasks never hold up later ones.
func readyTasks(tasks []*storage.Task) []*storage.Task {
	byID := make(map[string]*storage.Task, len(tasks))
	// lowest sequence order of a visible task not yet completed
	minOpen := -1
	for _, t := range tasks {
		byID[t.ID] = t
		if !t.Visible || t.Status == workflow.TaskCompleted {
			continue
		}
		if minOpen < 0 || t.SequenceOrder < minOpen {
			minOpen = t.SequenceOrder
		}
	}

	var ready []*storage.Task
	for _, t := range tasks {
		if t.AssignedUserID != "" || t.Status != workflow.TaskNotStarted || !t.Visible {
			continue
		}
		if t.DependsOn != "" {
			dep, ok := byID[t.DependsOn]
			if !ok || dep.Status != workflow.TaskCompleted {
				continue
			}
		} else if t.SequenceOrder > minOpen {
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

// loadTracker finds the least-loaded active user per role.
// Loads are read from storage once per user and then kept current as
// tasks are handed out within the same pass.
type loadTracker struct {
	tx    storage.Tx
	users map[workflow.Role][]*storage.User
	load  map[string]int
}

func newLoadTracker(tx storage.Tx) *loadTracker {
	return &loadTracker{
		tx:    tx,
		users: make(map[workflow.Role][]*storage.User),
		load:  make(map[string]int),
	}
}

// pick returns the active user with role holding the fewest open tasks.
// Ties go to the lowest user id. A nil user means nobody is eligible.
func (lt *loadTracker) pick(ctx context.Context, role workflow.Role) (*storage.User, error) {
	users, ok := lt.users[role]
	if !ok {
		var err error
		users, err = lt.tx.RetrieveActiveUsersByRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("retrieving users for role %s: %w", role, err)
		}
		sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
		for _, u := range users {
			if _, ok := lt.load[u.ID]; ok {
				continue
			}
			n, err := lt.tx.CountOpenTasks(ctx, u.ID)
			if err != nil {
				return nil, fmt.Errorf("counting open tasks for user %s: %w", u.ID, err)
			}
			lt.load[u.ID] = n
		}
		lt.users[role] = users
	}
	var best *storage.User
	for _, u := range users {
		if best == nil || lt.load[u.ID] < lt.load[best.ID] {
			best = u
		}
	}
	return best, nil
}

// assignReady assigns every ready task of wf to the least-loaded eligible
// user and starts it. Ready tasks without an eligible user stay
// unassigned and do not hold up the others. The first assignment on an
// INITIATED workflow moves it to IN_PROGRESS.
//
// Blocked and completed workflows are left alone. The caller must hold
// the workflow lock.
func (e *Engine) assignReady(ctx context.Context, tx storage.Tx, wf *storage.Workflow, tasks []*storage.Task) ([]AssignmentResult, error) {
	if wf.Status != workflow.WorkflowInitiated && wf.Status != workflow.WorkflowInProgress {
		return nil, nil
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.WorkflowID, wf.ID)

	ready := readyTasks(tasks)
	if len(ready) < 1 {
		return nil, nil
	}

	lt := newLoadTracker(tx)
	var assigned []AssignmentResult
	var changed []*storage.Task
	for _, t := range ready {
		user, err := lt.pick(ctx, t.Role)
		if err != nil {
			return nil, err
		}
		if user == nil {
			logger.Info(
				logkeys.Message, "no eligible user for task",
				logkeys.TaskID, t.ID,
				logkeys.Role, t.Role,
			)
			continue
		}
		if err = workflow.CheckTaskTransition(t.Status, workflow.TaskInProgress); err != nil {
			return nil, err
		}
		t.AssignedUserID = user.ID
		t.Status = workflow.TaskInProgress
		t.DueAt = e.now().Add(e.dueInterval)
		lt.load[user.ID]++
		changed = append(changed, t)
		assigned = append(assigned, AssignmentResult{
			TaskID:   t.ID,
			TaskName: t.Name,
			Role:     t.Role,
			UserID:   user.ID,
			DueAt:    t.DueAt,
		})
		logger.Debug(
			logkeys.Message, "assigned task",
			logkeys.TaskID, t.ID,
			logkeys.UserID, user.ID,
		)
	}
	if len(changed) < 1 {
		return nil, nil
	}
	if err := tx.StoreTasks(ctx, changed); err != nil {
		return nil, fmt.Errorf("storing tasks: %w", err)
	}

	if wf.Status == workflow.WorkflowInitiated {
		err := e.setWorkflowStatus(ctx, tx, wf, workflow.WorkflowInProgress, wf.InitiatedBy, "First task assigned")
		if err != nil {
			return nil, err
		}
	}
	return assigned, nil
}

// AssignReadyTasks runs an assignment pass over the workflow with
// workflowID and returns the tasks it assigned.
func (e *Engine) AssignReadyTasks(ctx context.Context, workflowID string) ([]AssignmentResult, error) {
	var assigned []AssignmentResult
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		wf, err := tx.LockWorkflow(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("locking workflow: %w", err)
		}
		tasks, err := tx.RetrieveTasks(ctx, workflowID)
		if err != nil {
			return fmt.Errorf("retrieving tasks: %w", err)
		}
		assigned, err = e.assignReady(ctx, tx, wf, tasks)
		return err
	})
	if err != nil {
		return nil, err
	}
	return assigned, nil
}
