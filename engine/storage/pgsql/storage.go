package pgsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/workflow"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries runs storage queries against a pool or a transaction.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref[T any](p *T) T {
	var v T
	if p != nil {
		v = *p
	}
	return v
}

// args collects positional query arguments.
type args []any

// add appends v and returns its placeholder.
func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

const templateColumns = `id, name, description, kind, active, created_by, created_at, updated_by, updated_at`

func scanTemplate(row scanner) (*storage.Template, error) {
	t := new(storage.Template)
	var kind string
	if err := row.Scan(
		&t.ID, &t.Name, &t.Description, &kind, &t.Active,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedBy, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Kind = workflow.Kind(kind)
	return t, nil
}

func (q *queries) retrieveTemplateTasks(ctx context.Context, t *storage.Template) error {
	rows, err := q.q.Query(
		ctx,
		`SELECT id, name, description, role, sequence_order, parallel, depends_on
FROM template_tasks WHERE template_id = $1 ORDER BY position`,
		t.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tt storage.TemplateTask
		var role string
		var dependsOn *string
		if err = rows.Scan(&tt.ID, &tt.Name, &tt.Description, &role, &tt.SequenceOrder, &tt.Parallel, &dependsOn); err != nil {
			return err
		}
		tt.Role = workflow.Role(role)
		tt.DependsOn = deref(dependsOn)
		t.Tasks = append(t.Tasks, tt)
	}
	return rows.Err()
}

func (q *queries) retrieveTemplateWhere(ctx context.Context, column, value string) (*storage.Template, error) {
	t, err := scanTemplate(q.q.QueryRow(
		ctx,
		`SELECT `+templateColumns+` FROM templates WHERE `+column+` = $1`,
		value,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("template", value)
	} else if err != nil {
		return nil, fmt.Errorf("retrieving template: %w", err)
	}
	if err = q.retrieveTemplateTasks(ctx, t); err != nil {
		return nil, fmt.Errorf("retrieving template tasks: %w", err)
	}
	return t, nil
}

// RetrieveTemplate retrieves a template and its tasks.
func (q *queries) RetrieveTemplate(ctx context.Context, id string) (*storage.Template, error) {
	return q.retrieveTemplateWhere(ctx, "id", id)
}

// RetrieveTemplateByName retrieves a template and its tasks by name.
func (q *queries) RetrieveTemplateByName(ctx context.Context, name string) (*storage.Template, error) {
	return q.retrieveTemplateWhere(ctx, "name", name)
}

// RetrieveTemplates retrieves all templates ordered by name.
func (q *queries) RetrieveTemplates(ctx context.Context) ([]*storage.Template, error) {
	rows, err := q.q.Query(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("retrieving templates: %w", err)
	}
	var ret []*storage.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		ret = append(ret, t)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range ret {
		if err = q.retrieveTemplateTasks(ctx, t); err != nil {
			return nil, fmt.Errorf("retrieving template tasks: %w", err)
		}
	}
	return ret, nil
}

// StoreTemplate replaces a template's tasks and upserts the template.
func (q *queries) StoreTemplate(ctx context.Context, t *storage.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validating template: %w", err)
	}
	if _, err := q.q.Exec(ctx, `DELETE FROM template_tasks WHERE template_id = $1`, t.ID); err != nil {
		return fmt.Errorf("deleting template tasks: %w", err)
	}
	_, err := q.q.Exec(
		ctx,
		`
INSERT INTO templates
    (`+templateColumns+`)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    kind = EXCLUDED.kind,
    active = EXCLUDED.active,
    updated_by = EXCLUDED.updated_by,
    updated_at = EXCLUDED.updated_at;`,
		t.ID, t.Name, t.Description, string(t.Kind), t.Active,
		t.CreatedBy, t.CreatedAt, t.UpdatedBy, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting template: %w", err)
	}
	for i, tt := range t.Tasks {
		_, err = q.q.Exec(
			ctx,
			`
INSERT INTO template_tasks
    (id, template_id, position, name, description, role, sequence_order, parallel, depends_on)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9);`,
			tt.ID, t.ID, i, tt.Name, tt.Description, string(tt.Role),
			tt.SequenceOrder, tt.Parallel, nullString(tt.DependsOn),
		)
		if err != nil {
			return fmt.Errorf("inserting template task %s: %w", tt.ID, err)
		}
	}
	return nil
}

// DeleteTemplate deletes a template's tasks and then the template.
func (q *queries) DeleteTemplate(ctx context.Context, id string) error {
	if _, err := q.q.Exec(ctx, `DELETE FROM template_tasks WHERE template_id = $1`, id); err != nil {
		return fmt.Errorf("deleting template tasks: %w", err)
	}
	tag, err := q.q.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	if tag.RowsAffected() < 1 {
		return workflow.NewNotFoundError("template", id)
	}
	return nil
}

const workflowColumns = `id, template_id, employee_name, employee_email, employee_role, kind, status, initiated_by, initiated_at, completed_at, custom_fields`

func scanWorkflow(row scanner) (*storage.Workflow, error) {
	w := new(storage.Workflow)
	var kind, status string
	var completedAt *time.Time
	var customFields []byte
	err := row.Scan(
		&w.ID, &w.TemplateID, &w.EmployeeName, &w.EmployeeEmail, &w.EmployeeRole,
		&kind, &status, &w.InitiatedBy, &w.InitiatedAt, &completedAt, &customFields,
	)
	if err != nil {
		return nil, err
	}
	w.Kind = workflow.Kind(kind)
	w.Status = workflow.WorkflowStatus(status)
	w.CompletedAt = deref(completedAt)
	if len(customFields) > 0 {
		if err = json.Unmarshal(customFields, &w.CustomFields); err != nil {
			return nil, fmt.Errorf("unmarshal custom fields: %w", err)
		}
	}
	return w, nil
}

func (q *queries) retrieveWorkflow(ctx context.Context, id string, forUpdate bool) (*storage.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	w, err := scanWorkflow(q.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("workflow", id)
	} else if err != nil {
		return nil, fmt.Errorf("retrieving workflow: %w", err)
	}
	return w, nil
}

// RetrieveWorkflow retrieves a workflow.
func (q *queries) RetrieveWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	return q.retrieveWorkflow(ctx, id, false)
}

// RetrieveWorkflows retrieves workflows matching filter, newest first.
func (q *queries) RetrieveWorkflows(ctx context.Context, filter storage.WorkflowFilter) ([]*storage.Workflow, error) {
	var a args
	var where []string
	if filter.Status != "" {
		where = append(where, "status = "+a.add(string(filter.Status)))
	}
	if filter.Kind != "" {
		where = append(where, "kind = "+a.add(string(filter.Kind)))
	}
	if filter.TemplateID != "" {
		where = append(where, "template_id = "+a.add(filter.TemplateID))
	}
	if filter.EmployeeName != "" {
		where = append(where, "employee_name ILIKE "+a.add("%"+filter.EmployeeName+"%"))
	}
	if filter.AssignedUserID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM tasks t WHERE t.workflow_id = workflows.id AND t.assigned_user_id = "+a.add(filter.AssignedUserID)+")")
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY initiated_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + a.add(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + a.add(filter.Offset)
	}

	rows, err := q.q.Query(ctx, query, a...)
	if err != nil {
		return nil, fmt.Errorf("retrieving workflows: %w", err)
	}
	defer rows.Close()
	var ret []*storage.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		ret = append(ret, w)
	}
	return ret, rows.Err()
}

// StoreWorkflow upserts a workflow. The template reference is never updated.
func (q *queries) StoreWorkflow(ctx context.Context, w *storage.Workflow) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validating workflow: %w", err)
	}
	customFields := w.CustomFields
	if customFields == nil {
		customFields = map[string]interface{}{}
	}
	customJSON, err := json.Marshal(customFields)
	if err != nil {
		return fmt.Errorf("marshal custom fields: %w", err)
	}
	_, err = q.q.Exec(
		ctx,
		`
INSERT INTO workflows
    (`+workflowColumns+`)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    employee_name = EXCLUDED.employee_name,
    employee_email = EXCLUDED.employee_email,
    employee_role = EXCLUDED.employee_role,
    status = EXCLUDED.status,
    completed_at = EXCLUDED.completed_at,
    custom_fields = EXCLUDED.custom_fields;`,
		w.ID, w.TemplateID, w.EmployeeName, w.EmployeeEmail, w.EmployeeRole,
		string(w.Kind), string(w.Status), w.InitiatedBy, w.InitiatedAt,
		nullTime(w.CompletedAt), customJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting workflow: %w", err)
	}
	return nil
}

// CountWorkflowsByTemplate counts workflows referencing templateID.
func (q *queries) CountWorkflowsByTemplate(ctx context.Context, templateID string, activeOnly bool) (int, error) {
	var a args
	query := `SELECT COUNT(*) FROM workflows WHERE template_id = ` + a.add(templateID)
	if activeOnly {
		query += ` AND status != ` + a.add(string(workflow.WorkflowCompleted))
	}
	var ct int
	if err := q.q.QueryRow(ctx, query, a...).Scan(&ct); err != nil {
		return 0, fmt.Errorf("counting workflows: %w", err)
	}
	return ct, nil
}

const taskColumns = `id, workflow_id, template_task_id, name, role, sequence_order, depends_on, assigned_user_id, status, visible, due_at, completed_at, completed_by, checklist`

func scanTask(row scanner) (*storage.Task, error) {
	t := new(storage.Task)
	var role, status string
	var dependsOn, assigned, completedBy *string
	var dueAt, completedAt *time.Time
	var checklist []byte
	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.TemplateTaskID, &t.Name, &role, &t.SequenceOrder,
		&dependsOn, &assigned, &status, &t.Visible, &dueAt, &completedAt, &completedBy, &checklist,
	)
	if err != nil {
		return nil, err
	}
	t.Role = workflow.Role(role)
	t.Status = workflow.TaskStatus(status)
	t.DependsOn = deref(dependsOn)
	t.AssignedUserID = deref(assigned)
	t.CompletedBy = deref(completedBy)
	t.DueAt = deref(dueAt)
	t.CompletedAt = deref(completedAt)
	if len(checklist) > 0 {
		if err = json.Unmarshal(checklist, &t.Checklist); err != nil {
			return nil, fmt.Errorf("unmarshal checklist: %w", err)
		}
	}
	return t, nil
}

// RetrieveTask retrieves a task.
func (q *queries) RetrieveTask(ctx context.Context, id string) (*storage.Task, error) {
	t, err := scanTask(q.q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("task", id)
	} else if err != nil {
		return nil, fmt.Errorf("retrieving task: %w", err)
	}
	return t, nil
}

// RetrieveTasks retrieves the tasks of a workflow by sequence order.
func (q *queries) RetrieveTasks(ctx context.Context, workflowID string) ([]*storage.Task, error) {
	rows, err := q.q.Query(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = $1 ORDER BY sequence_order, id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("retrieving tasks: %w", err)
	}
	defer rows.Close()
	var ret []*storage.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		ret = append(ret, t)
	}
	return ret, rows.Err()
}

// StoreTasks upserts tasks.
func (q *queries) StoreTasks(ctx context.Context, tasks []*storage.Task) error {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("validating task: %w", err)
		}
		var checklist []byte
		if t.Checklist != nil {
			var err error
			if checklist, err = json.Marshal(t.Checklist); err != nil {
				return fmt.Errorf("marshal checklist: %w", err)
			}
		}
		_, err := q.q.Exec(
			ctx,
			`
INSERT INTO tasks
    (`+taskColumns+`)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    assigned_user_id = EXCLUDED.assigned_user_id,
    status = EXCLUDED.status,
    visible = EXCLUDED.visible,
    due_at = EXCLUDED.due_at,
    completed_at = EXCLUDED.completed_at,
    completed_by = EXCLUDED.completed_by,
    checklist = EXCLUDED.checklist;`,
			t.ID, t.WorkflowID, t.TemplateTaskID, t.Name, string(t.Role), t.SequenceOrder,
			nullString(t.DependsOn), nullString(t.AssignedUserID), string(t.Status), t.Visible,
			nullTime(t.DueAt), nullTime(t.CompletedAt), nullString(t.CompletedBy), checklist,
		)
		if err != nil {
			return fmt.Errorf("upserting task %s: %w", t.ID, err)
		}
	}
	return nil
}

// CountOpenTasks counts NOT_STARTED and IN_PROGRESS tasks assigned to userID.
func (q *queries) CountOpenTasks(ctx context.Context, userID string) (int, error) {
	var ct int
	err := q.q.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM tasks WHERE assigned_user_id = $1 AND status IN ($2, $3)`,
		userID, string(workflow.TaskNotStarted), string(workflow.TaskInProgress),
	).Scan(&ct)
	if err != nil {
		return 0, fmt.Errorf("counting open tasks: %w", err)
	}
	return ct, nil
}

// RetrieveHistory retrieves workflow history in append order.
func (q *queries) RetrieveHistory(ctx context.Context, workflowID string) ([]*storage.HistoryEntry, error) {
	rows, err := q.q.Query(
		ctx,
		`SELECT id, workflow_id, previous_status, new_status, changed_by, changed_at, note
FROM workflow_history WHERE workflow_id = $1 ORDER BY seq`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("retrieving history: %w", err)
	}
	defer rows.Close()
	var ret []*storage.HistoryEntry
	for rows.Next() {
		h := new(storage.HistoryEntry)
		var prev, next string
		if err = rows.Scan(&h.ID, &h.WorkflowID, &prev, &next, &h.ChangedBy, &h.ChangedAt, &h.Note); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.PreviousStatus = workflow.WorkflowStatus(prev)
		h.NewStatus = workflow.WorkflowStatus(next)
		ret = append(ret, h)
	}
	return ret, rows.Err()
}

// AppendHistory inserts a history entry.
func (q *queries) AppendHistory(ctx context.Context, h *storage.HistoryEntry) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("validating history entry: %w", err)
	}
	_, err := q.q.Exec(
		ctx,
		`
INSERT INTO workflow_history
    (id, workflow_id, previous_status, new_status, changed_by, changed_at, note)
VALUES
    ($1, $2, $3, $4, $5, $6, $7);`,
		h.ID, h.WorkflowID, string(h.PreviousStatus), string(h.NewStatus), h.ChangedBy, h.ChangedAt, h.Note,
	)
	if err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	return nil
}

// RetrieveUser retrieves a user.
func (q *queries) RetrieveUser(ctx context.Context, id string) (*storage.User, error) {
	u := new(storage.User)
	var role string
	err := q.q.QueryRow(
		ctx,
		`SELECT id, email, role, active FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &role, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.NewNotFoundError("user", id)
	} else if err != nil {
		return nil, fmt.Errorf("retrieving user: %w", err)
	}
	u.Role = workflow.Role(role)
	return u, nil
}

// RetrieveActiveUsersByRole retrieves active users holding role by ascending id.
func (q *queries) RetrieveActiveUsersByRole(ctx context.Context, role workflow.Role) ([]*storage.User, error) {
	return q.queryUsers(
		ctx,
		`SELECT id, email, role, active FROM users WHERE role = $1 AND active ORDER BY id`,
		string(role),
	)
}

// RetrieveUsers retrieves all users by ascending id.
func (q *queries) RetrieveUsers(ctx context.Context) ([]*storage.User, error) {
	return q.queryUsers(ctx, `SELECT id, email, role, active FROM users ORDER BY id`)
}

func (q *queries) queryUsers(ctx context.Context, query string, args ...any) ([]*storage.User, error) {
	rows, err := q.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieving users: %w", err)
	}
	defer rows.Close()
	var ret []*storage.User
	for rows.Next() {
		u := new(storage.User)
		var r string
		if err = rows.Scan(&u.ID, &u.Email, &r, &u.Active); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Role = workflow.Role(r)
		ret = append(ret, u)
	}
	return ret, rows.Err()
}

// StoreUser upserts a user.
func (q *queries) StoreUser(ctx context.Context, u *storage.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("validating user: %w", err)
	}
	_, err := q.q.Exec(
		ctx,
		`
INSERT INTO users
    (id, email, role, active)
VALUES
    ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    email = EXCLUDED.email,
    role = EXCLUDED.role,
    active = EXCLUDED.active;`,
		u.ID, u.Email, string(u.Role), u.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}
