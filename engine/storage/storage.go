// Package storage defines types and primitives for lifecycle engine storage backends.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/magnab/lifecycle/workflow"
)

var (
	ErrEmptyTemplate = errors.New("empty template")
	ErrEmptyWorkflow = errors.New("empty workflow")
	ErrEmptyTask     = errors.New("empty task")
	ErrEmptyHistory  = errors.New("empty history entry")
	ErrEmptyUser     = errors.New("empty user")
	ErrMissingID     = errors.New("missing id")
)

// TemplateTask is a stored template task.
type TemplateTask struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Role          workflow.Role `json:"role"`
	SequenceOrder int           `json:"sequence_order"`
	Parallel      bool          `json:"parallel,omitempty"`
	DependsOn     string        `json:"depends_on,omitempty"` // ID of a TemplateTask in the same template
}

// Template is a stored workflow template.
// A template owns its tasks.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Kind        workflow.Kind  `json:"kind"`
	Active      bool           `json:"active"`
	Tasks       []TemplateTask `json:"tasks"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedBy   string         `json:"updated_by"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate checks for missing values.
func (t *Template) Validate() error {
	if t == nil {
		return ErrEmptyTemplate
	}
	if t.ID == "" {
		return ErrMissingID
	}
	for i := range t.Tasks {
		if t.Tasks[i].ID == "" {
			return ErrMissingID
		}
	}
	return nil
}

// Workflow is a stored workflow instance.
type Workflow struct {
	ID            string                  `json:"id"`
	TemplateID    string                  `json:"template_id"`
	EmployeeName  string                  `json:"employee_name"`
	EmployeeEmail string                  `json:"employee_email"`
	EmployeeRole  string                  `json:"employee_role"`
	Kind          workflow.Kind           `json:"kind"`
	Status        workflow.WorkflowStatus `json:"status"`
	InitiatedBy   string                  `json:"initiated_by"`
	InitiatedAt   time.Time               `json:"initiated_at"`
	CompletedAt   time.Time               `json:"completed_at,omitempty"`
	CustomFields  map[string]interface{}  `json:"custom_fields"`
}

// Validate checks for missing values.
func (w *Workflow) Validate() error {
	if w == nil {
		return ErrEmptyWorkflow
	}
	if w.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Task is a stored task instance.
type Task struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	TemplateTaskID string                 `json:"template_task_id"`
	Name           string                 `json:"name"`
	Role           workflow.Role          `json:"role"`
	SequenceOrder  int                    `json:"sequence_order"`
	DependsOn      string                 `json:"depends_on,omitempty"` // ID of a Task in the same workflow
	AssignedUserID string                 `json:"assigned_user_id,omitempty"`
	Status         workflow.TaskStatus    `json:"status"`
	Visible        bool                   `json:"visible"`
	DueAt          time.Time              `json:"due_at,omitempty"`
	CompletedAt    time.Time              `json:"completed_at,omitempty"`
	CompletedBy    string                 `json:"completed_by,omitempty"`
	Checklist      map[string]interface{} `json:"checklist,omitempty"`
}

// Validate checks for missing values.
func (t *Task) Validate() error {
	if t == nil {
		return ErrEmptyTask
	}
	if t.ID == "" || t.WorkflowID == "" {
		return ErrMissingID
	}
	return nil
}

// HistoryEntry is an append-only workflow status change record.
type HistoryEntry struct {
	ID             string                  `json:"id"`
	WorkflowID     string                  `json:"workflow_id"`
	PreviousStatus workflow.WorkflowStatus `json:"previous_status"`
	NewStatus      workflow.WorkflowStatus `json:"new_status"`
	ChangedBy      string                  `json:"changed_by"`
	ChangedAt      time.Time               `json:"changed_at"`
	Note           string                  `json:"note,omitempty"`
}

// Validate checks for missing values.
func (h *HistoryEntry) Validate() error {
	if h == nil {
		return ErrEmptyHistory
	}
	if h.ID == "" || h.WorkflowID == "" {
		return ErrMissingID
	}
	return nil
}

// User is a user as seen by the engine: only what is needed for eligibility and load.
type User struct {
	ID     string        `json:"id"`
	Email  string        `json:"email,omitempty"`
	Role   workflow.Role `json:"role"`
	Active bool          `json:"active"`
}

// Validate checks for missing values.
func (u *User) Validate() error {
	if u == nil {
		return ErrEmptyUser
	}
	if u.ID == "" {
		return ErrMissingID
	}
	return nil
}

// WorkflowFilter narrows workflow listings.
// Zero values do not filter.
type WorkflowFilter struct {
	Status         workflow.WorkflowStatus
	Kind           workflow.Kind
	EmployeeName   string // case-insensitive substring
	AssignedUserID string // workflows having a task assigned to this user
	TemplateID     string
	Limit          int
	Offset         int
}

// TemplateReader retrieves templates.
type TemplateReader interface {
	// RetrieveTemplate returns the template and its tasks ordered by sequence order.
	// An error wrapping workflow.ErrNotFound is returned if id has not been stored.
	RetrieveTemplate(ctx context.Context, id string) (*Template, error)

	// RetrieveTemplateByName is like RetrieveTemplate but by unique name.
	RetrieveTemplateByName(ctx context.Context, name string) (*Template, error)

	// RetrieveTemplates returns all templates, active or not, ordered by name.
	RetrieveTemplates(ctx context.Context) ([]*Template, error)
}

// TemplateStorage also writes and deletes templates.
type TemplateStorage interface {
	TemplateReader

	// StoreTemplate inserts or fully replaces a template.
	// Any previously stored tasks of the template that are not in
	// t.Tasks are removed.
	StoreTemplate(ctx context.Context, t *Template) error

	// DeleteTemplate removes the tasks of a template and then the template itself.
	// An error wrapping workflow.ErrNotFound is returned if id has not been stored.
	DeleteTemplate(ctx context.Context, id string) error
}

// WorkflowReader retrieves workflow instances, their tasks and history.
type WorkflowReader interface {
	// RetrieveWorkflow returns an error wrapping workflow.ErrNotFound for unknown ids.
	RetrieveWorkflow(ctx context.Context, id string) (*Workflow, error)

	// RetrieveWorkflows returns workflows matching filter, most recently initiated first.
	RetrieveWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)

	// RetrieveTask returns an error wrapping workflow.ErrNotFound for unknown ids.
	RetrieveTask(ctx context.Context, id string) (*Task, error)

	// RetrieveTasks returns the tasks of a workflow ordered by sequence order.
	// Tasks sharing a sequence order are ordered by id.
	RetrieveTasks(ctx context.Context, workflowID string) ([]*Task, error)

	// RetrieveHistory returns the history of a workflow in the order it was appended.
	RetrieveHistory(ctx context.Context, workflowID string) ([]*HistoryEntry, error)

	// CountOpenTasks counts NOT_STARTED and IN_PROGRESS tasks assigned to userID across all workflows.
	CountOpenTasks(ctx context.Context, userID string) (int, error)

	// CountWorkflowsByTemplate counts workflows instantiated from templateID.
	// If activeOnly is true COMPLETED workflows are not counted.
	CountWorkflowsByTemplate(ctx context.Context, templateID string, activeOnly bool) (int, error)
}

// WorkflowWriter writes workflow instances, their tasks and history.
type WorkflowWriter interface {
	// StoreWorkflow inserts or updates a workflow.
	// The template reference of a stored workflow is never changed.
	StoreWorkflow(ctx context.Context, w *Workflow) error

	// StoreTasks inserts or updates tasks.
	StoreTasks(ctx context.Context, tasks []*Task) error

	// AppendHistory appends a history entry to its workflow's history.
	AppendHistory(ctx context.Context, h *HistoryEntry) error
}

// UserDirectory resolves users for actor checks and task assignment.
type UserDirectory interface {
	// RetrieveUser returns an error wrapping workflow.ErrNotFound for unknown ids.
	RetrieveUser(ctx context.Context, id string) (*User, error)

	// RetrieveActiveUsersByRole returns active users holding role ordered by ascending id.
	RetrieveActiveUsersByRole(ctx context.Context, role workflow.Role) ([]*User, error)

	// RetrieveUsers returns all users, inactive ones included, ordered by ascending id.
	RetrieveUsers(ctx context.Context) ([]*User, error)
}

// UserStorage also writes users.
// Users are never removed, only deactivated.
type UserStorage interface {
	UserDirectory
	StoreUser(ctx context.Context, u *User) error
}

// Reader is the read side of storage.
type Reader interface {
	TemplateReader
	WorkflowReader
	UserDirectory
}

// Tx is a single atomic unit of storage work.
type Tx interface {
	TemplateStorage
	WorkflowReader
	WorkflowWriter
	UserStorage

	// LockWorkflow retrieves a workflow and holds a lock on it (and
	// thus on its tasks and history) until the transaction ends.
	LockWorkflow(ctx context.Context, id string) (*Workflow, error)
}

// TxFunc is the body of a transaction.
type TxFunc func(ctx context.Context, tx Tx) error

// Storage is the primary interface for lifecycle engine backend storage implementations.
type Storage interface {
	Reader

	// Tx runs fn as one atomic unit.
	// If fn returns an error nothing fn wrote is persisted and that
	// error is returned (possibly wrapped). Otherwise fn's writes are
	// committed.
	Tx(ctx context.Context, fn TxFunc) error
}
