package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// EmployeeDetails identifies the employee a workflow is about.
type EmployeeDetails struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Validate checks for missing or malformed values.
func (d *EmployeeDetails) Validate() error {
	if d == nil {
		return workflow.NewValidationError("employee details required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return workflow.NewValidationError("employee name required")
	}
	if strings.TrimSpace(d.Email) == "" {
		return workflow.NewValidationError("employee email required")
	}
	if at := strings.Index(d.Email, "@"); at < 1 || at == len(d.Email)-1 {
		return workflow.NewValidationError("invalid employee email: %q", d.Email)
	}
	if strings.TrimSpace(d.Role) == "" {
		return workflow.NewValidationError("employee role required")
	}
	return nil
}

// CreationSummary describes a newly instantiated workflow.
type CreationSummary struct {
	WorkflowID   string                  `json:"workflow_id"`
	Status       workflow.WorkflowStatus `json:"status"`
	TotalTasks   int                     `json:"total_tasks"`
	VisibleTasks int                     `json:"visible_tasks"`

	// Assigned is only populated by InitiateWorkflow.
	Assigned []AssignmentResult `json:"assigned,omitempty"`
}

// Instantiate creates a workflow from the template with templateID.
// The workflow starts INITIATED with every task NOT_STARTED, unassigned
// and visible. No assignment happens; see InitiateWorkflow.
func (e *Engine) Instantiate(ctx context.Context, templateID string, details *EmployeeDetails, customFields map[string]interface{}, actorID string) (*CreationSummary, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	var summary *CreationSummary
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		summary, _, err = e.instantiate(ctx, tx, templateID, details, customFields, actorID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// InitiateWorkflow instantiates the template with templateID and runs
// the first assignment pass, all or nothing.
func (e *Engine) InitiateWorkflow(ctx context.Context, templateID string, details *EmployeeDetails, customFields map[string]interface{}, actorID string) (*CreationSummary, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}
	var summary *CreationSummary
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var wf *storage.Workflow
		var err error
		summary, wf, err = e.instantiate(ctx, tx, templateID, details, customFields, actorID)
		if err != nil {
			return err
		}
		// lock as any other mutation on an existing workflow would
		if wf, err = tx.LockWorkflow(ctx, wf.ID); err != nil {
			return fmt.Errorf("locking workflow: %w", err)
		}
		tasks, err := tx.RetrieveTasks(ctx, wf.ID)
		if err != nil {
			return fmt.Errorf("retrieving tasks: %w", err)
		}
		summary.Assigned, err = e.assignReady(ctx, tx, wf, tasks)
		summary.Status = wf.Status
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (e *Engine) instantiate(ctx context.Context, tx storage.Tx, templateID string, details *EmployeeDetails, customFields map[string]interface{}, actorID string) (*CreationSummary, *storage.Workflow, error) {
	t, err := tx.RetrieveTemplate(ctx, templateID)
	if err != nil {
		return nil, nil, fmt.Errorf("retrieving template: %w", err)
	}
	if !t.Active {
		return nil, nil, workflow.NewValidationError("template is not active: %s", templateID)
	}
	if _, err = retrieveActor(ctx, tx, actorID); err != nil {
		return nil, nil, err
	}
	if customFields == nil {
		customFields = make(map[string]interface{})
	}

	now := e.now()
	wf := &storage.Workflow{
		ID:            e.ider.ID(),
		TemplateID:    t.ID,
		EmployeeName:  details.Name,
		EmployeeEmail: details.Email,
		EmployeeRole:  details.Role,
		Kind:          t.Kind,
		Status:        workflow.WorkflowInitiated,
		InitiatedBy:   actorID,
		InitiatedAt:   now,
		CustomFields:  customFields,
	}
	if err = tx.StoreWorkflow(ctx, wf); err != nil {
		return nil, nil, fmt.Errorf("storing workflow: %w", err)
	}

	// template task id to task instance id
	ids := make(map[string]string)
	tasks := make([]*storage.Task, len(t.Tasks))
	for i, tt := range t.Tasks {
		tasks[i] = &storage.Task{
			ID:             e.ider.ID(),
			WorkflowID:     wf.ID,
			TemplateTaskID: tt.ID,
			Name:           tt.Name,
			Role:           tt.Role,
			SequenceOrder:  tt.SequenceOrder,
			Status:         workflow.TaskNotStarted,
			Visible:        true,
		}
		ids[tt.ID] = tasks[i].ID
	}
	visible := 0
	for i, tt := range t.Tasks {
		if tt.DependsOn != "" {
			tasks[i].DependsOn = ids[tt.DependsOn]
		}
		if tasks[i].Visible {
			visible++
		}
	}
	if err = tx.StoreTasks(ctx, tasks); err != nil {
		return nil, nil, fmt.Errorf("storing tasks: %w", err)
	}

	err = tx.AppendHistory(ctx, &storage.HistoryEntry{
		ID:             e.ider.ID(),
		WorkflowID:     wf.ID,
		PreviousStatus: workflow.WorkflowInitiated,
		NewStatus:      workflow.WorkflowInitiated,
		ChangedBy:      actorID,
		ChangedAt:      now,
		Note:           "Workflow initiated",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("appending history: %w", err)
	}

	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "instantiated workflow",
		logkeys.TemplateID, t.ID,
		logkeys.WorkflowID, wf.ID,
		logkeys.ActorID, actorID,
		logkeys.GenericCount, len(tasks),
	)
	return &CreationSummary{
		WorkflowID:   wf.ID,
		Status:       wf.Status,
		TotalTasks:   len(tasks),
		VisibleTasks: visible,
	}, wf, nil
}
