package engine

import (
	"context"
	"fmt"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/workflow"
)

// StateSummary is a snapshot of a workflow's progress.
type StateSummary struct {
	WorkflowID   string                      `json:"workflow_id"`
	Status       workflow.WorkflowStatus     `json:"status"`
	TotalTasks   int                         `json:"total_tasks"`
	VisibleTasks int                         `json:"visible_tasks"`
	TaskCounts   map[workflow.TaskStatus]int `json:"task_counts"`

	// AwaitingAssignment lists ready tasks nobody could be assigned to.
	AwaitingAssignment []string `json:"awaiting_assignment,omitempty"`
}

func summarize(wf *storage.Workflow, tasks []*storage.Task) *StateSummary {
	s := &StateSummary{
		WorkflowID: wf.ID,
		Status:     wf.Status,
		TotalTasks: len(tasks),
		TaskCounts: map[workflow.TaskStatus]int{
			workflow.TaskNotStarted: 0,
			workflow.TaskInProgress: 0,
			workflow.TaskBlocked:    0,
			workflow.TaskCompleted:  0,
		},
	}
	for _, t := range tasks {
		if t.Visible {
			s.VisibleTasks++
		}
		s.TaskCounts[t.Status]++
	}
	if wf.Status == workflow.WorkflowInitiated || wf.Status == workflow.WorkflowInProgress {
		for _, t := range readyTasks(tasks) {
			s.AwaitingAssignment = append(s.AwaitingAssignment, t.ID)
		}
	}
	return s
}

// WorkflowDetail is a workflow with its tasks and status history.
type WorkflowDetail struct {
	*storage.Workflow
	Tasks   []*storage.Task         `json:"tasks"`
	History []*storage.HistoryEntry `json:"history"`
}

// Workflow retrieves the workflow with id, its tasks and history.
func (e *Engine) Workflow(ctx context.Context, id string) (*WorkflowDetail, error) {
	wf, err := e.storage.RetrieveWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving workflow: %w", err)
	}
	d := &WorkflowDetail{Workflow: wf}
	if d.Tasks, err = e.storage.RetrieveTasks(ctx, id); err != nil {
		return nil, fmt.Errorf("retrieving tasks: %w", err)
	}
	if d.History, err = e.storage.RetrieveHistory(ctx, id); err != nil {
		return nil, fmt.Errorf("retrieving history: %w", err)
	}
	return d, nil
}

// Workflows lists workflows matching filter, newest first.
func (e *Engine) Workflows(ctx context.Context, filter storage.WorkflowFilter) ([]*storage.Workflow, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, workflow.NewValidationError("invalid workflow status: %q", filter.Status)
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, workflow.NewValidationError("invalid workflow kind: %q", filter.Kind)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, workflow.NewValidationError("limit and offset must not be negative")
	}
	wfs, err := e.storage.RetrieveWorkflows(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieving workflows: %w", err)
	}
	return wfs, nil
}

// StateSummary summarizes the workflow with id.
func (e *Engine) StateSummary(ctx context.Context, id string) (*StateSummary, error) {
	wf, err := e.storage.RetrieveWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving workflow: %w", err)
	}
	tasks, err := e.storage.RetrieveTasks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving tasks: %w", err)
	}
	return summarize(wf, tasks), nil
}
