package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/workflow"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries runs storage queries against a database or a transaction.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const templateColumns = `id, name, description, kind, active, created_by, created_at, updated_by, updated_at`

func scanTemplate(row scanner) (*storage.Template, error) {
	t := new(storage.Template)
	var kind string
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &kind, &t.Active,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedBy, &t.UpdatedAt,
	)
	t.Kind = workflow.Kind(kind)
	return t, err
}

func (q *queries) retrieveTemplateTasks(ctx context.Context, t *storage.Template) error {
	rows, err := q.q.QueryContext(
		ctx,
		`SELECT id, name, description, role, sequence_order, parallel, depends_on
FROM template_tasks WHERE template_id = ? ORDER BY position`,
		t.ID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tt storage.TemplateTask
		var role string
		var dependsOn sql.NullString
		if err = rows.Scan(&tt.ID, &tt.Name, &tt.Description, &role, &tt.SequenceOrder, &tt.Parallel, &dependsOn); err != nil {
			return err
		}
		tt.Role = workflow.Role(role)
		tt.DependsOn = dependsOn.String
		t.Tasks = append(t.Tasks, tt)
	}
	return rows.Err()
}

func (q *queries) retrieveTemplateWhere(ctx context.Context, column, value string) (*storage.Template, error) {
	t, err := scanTemplate(q.q.QueryRowContext(
		ctx,
		`SELECT `+templateColumns+` FROM templates WHERE `+column+` = ?`,
		value,
	))
	if errors.Is(err, sql.ErrNoRows) {
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
	rows, err := q.q.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY name`)
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
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// close before querying again: a transaction has only one connection
	rows.Close()
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
	_, err := q.q.ExecContext(ctx, `DELETE FROM template_tasks WHERE template_id = ?`, t.ID)
	if err != nil {
		return fmt.Errorf("deleting template tasks: %w", err)
	}
	_, err = q.q.ExecContext(
		ctx,
		`
INSERT INTO templates
    (`+templateColumns+`)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name = VALUES(name),
    description = VALUES(description),
    kind = VALUES(kind),
    active = VALUES(active),
    updated_by = VALUES(updated_by),
    updated_at = VALUES(updated_at);`,
		t.ID, t.Name, t.Description, string(t.Kind), t.Active,
		t.CreatedBy, t.CreatedAt, t.UpdatedBy, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting template: %w", err)
	}
	for i, tt := range t.Tasks {
		_, err = q.q.ExecContext(
			ctx,
			`
INSERT INTO template_tasks
    (id, template_id, position, name, description, role, sequence_order, parallel, depends_on)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			tt.ID, t.ID, i, tt.Name, tt.Description, string(tt.Role),
			tt.SequenceOrder, tt.Parallel, sqlNullString(tt.DependsOn),
		)
		if err != nil {
			return fmt.Errorf("inserting template task %s: %w", tt.ID, err)
		}
	}
	return nil
}

// DeleteTemplate deletes a template's tasks and then the template.
func (q *queries) DeleteTemplate(ctx context.Context, id string) error {
	_, err := q.q.ExecContext(ctx, `DELETE FROM template_tasks WHERE template_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting template tasks: %w", err)
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting template: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("deleting template: %w", err)
	} else if n < 1 {
		return workflow.NewNotFoundError("template", id)
	}
	return nil
}

const workflowColumns = `id, template_id, employee_name, employee_email, employee_role, kind, status, initiated_by, initiated_at, completed_at, custom_fields`

func scanWorkflow(row scanner) (*storage.Workflow, error) {
	w := new(storage.Workflow)
	var kind, status string
	var completedAt sql.NullTime
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
	w.CompletedAt = completedAt.Time
	if len(customFields) > 0 {
		if err = json.Unmarshal(customFields, &w.CustomFields); err != nil {
			return nil, fmt.Errorf("unmarshal custom fields: %w", err)
		}
	}
	return w, nil
}

func (q *queries) retrieveWorkflow(ctx context.Context, id string, forUpdate bool) (*storage.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	w, err := scanWorkflow(q.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
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
	var where []string
	var args []interface{}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.TemplateID != "" {
		where = append(where, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if filter.EmployeeName != "" {
		where = append(where, "LOWER(employee_name) LIKE ?")
		args = append(args, "%"+strings.ToLower(filter.EmployeeName)+"%")
	}
	if filter.AssignedUserID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM tasks t WHERE t.workflow_id = workflows.id AND t.assigned_user_id = ?)")
		args = append(args, filter.AssignedUserID)
	}
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY initiated_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// MySQL has no OFFSET without LIMIT
		query += ` LIMIT 18446744073709551615`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
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
	_, err = q.q.ExecContext(
		ctx,
		`
INSERT INTO workflows
    (`+workflowColumns+`)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    employee_name = VALUES(employee_name),
    employee_email = VALUES(employee_email),
    employee_role = VALUES(employee_role),
    status = VALUES(status),
    completed_at = VALUES(completed_at),
    custom_fields = VALUES(custom_fields);`,
		w.ID, w.TemplateID, w.EmployeeName, w.EmployeeEmail, w.EmployeeRole,
		string(w.Kind), string(w.Status), w.InitiatedBy, w.InitiatedAt,
		sqlNullTime(w.CompletedAt), string(customJSON),
	)
	if err != nil {
		return fmt.Errorf("upserting workflow: %w", err)
	}
	return nil
}

// CountWorkflowsByTemplate counts workflows referencing templateID.
func (q *queries) CountWorkflowsByTemplate(ctx context.Context, templateID string, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM workflows WHERE template_id = ?`
	args := []interface{}{templateID}
	if activeOnly {
		query += ` AND status != ?`
		args = append(args, string(workflow.WorkflowCompleted))
	}
	var ct int
	if err := q.q.QueryRowContext(ctx, query, args...).Scan(&ct); err != nil {
		return 0, fmt.Errorf("counting workflows: %w", err)
	}
	return ct, nil
}

const taskColumns = `id, workflow_id, template_task_id, name, role, sequence_order, depends_on, assigned_user_id, status, visible, due_at, completed_at, completed_by, checklist`

func scanTask(row scanner) (*storage.Task, error) {
	t := new(storage.Task)
	var role, status string
	var dependsOn, assigned, completedBy sql.NullString
	var dueAt, completedAt sql.NullTime
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
	t.DependsOn = dependsOn.String
	t.AssignedUserID = assigned.String
	t.CompletedBy = completedBy.String
	t.DueAt = dueAt.Time
	t.CompletedAt = completedAt.Time
	if len(checklist) > 0 {
		if err = json.Unmarshal(checklist, &t.Checklist); err != nil {
			return nil, fmt.Errorf("unmarshal checklist: %w", err)
		}
	}
	return t, nil
}

// RetrieveTask retrieves a task.
func (q *queries) RetrieveTask(ctx context.Context, id string) (*storage.Task, error) {
	t, err := scanTask(q.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.NewNotFoundError("task", id)
	} else if err != nil {
		return nil, fmt.Errorf("retrieving task: %w", err)
	}
	return t, nil
}

// RetrieveTasks retrieves the tasks of a workflow by sequence order.
func (q *queries) RetrieveTasks(ctx context.Context, workflowID string) ([]*storage.Task, error) {
	rows, err := q.q.QueryContext(
		ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE workflow_id = ? ORDER BY sequence_order, id`,
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
		var checklist sql.NullString
		if t.Checklist != nil {
			b, err := json.Marshal(t.Checklist)
			if err != nil {
				return fmt.Errorf("marshal checklist: %w", err)
			}
			checklist = sql.NullString{String: string(b), Valid: true}
		}
		_, err := q.q.ExecContext(
			ctx,
			`
INSERT INTO tasks
    (`+taskColumns+`)
VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    assigned_user_id = VALUES(assigned_user_id),
    status = VALUES(status),
    visible = VALUES(visible),
    due_at = VALUES(due_at),
    completed_at = VALUES(completed_at),
    completed_by = VALUES(completed_by),
    checklist = VALUES(checklist);`,
			t.ID, t.WorkflowID, t.TemplateTaskID, t.Name, string(t.Role), t.SequenceOrder,
			sqlNullString(t.DependsOn), sqlNullString(t.AssignedUserID), string(t.Status), t.Visible,
			sqlNullTime(t.DueAt), sqlNullTime(t.CompletedAt), sqlNullString(t.CompletedBy), checklist,
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
	err := q.q.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM tasks WHERE assigned_user_id = ? AND status IN (?, ?)`,
		userID, string(workflow.TaskNotStarted), string(workflow.TaskInProgress),
	).Scan(&ct)
	if err != nil {
		return 0, fmt.Errorf("counting open tasks: %w", err)
	}
	return ct, nil
}

// RetrieveHistory retrieves workflow history in append order.
func (q *queries) RetrieveHistory(ctx context.Context, workflowID string) ([]*storage.HistoryEntry, error) {
	rows, err := q.q.QueryContext(
		ctx,
		`SELECT id, workflow_id, previous_status, new_status, changed_by, changed_at, note
FROM workflow_history WHERE workflow_id = ? ORDER BY seq`,
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
	_, err := q.q.ExecContext(
		ctx,
		`
INSERT INTO workflow_history
    (id, workflow_id, previous_status, new_status, changed_by, changed_at, note)
VALUES
    (?, ?, ?, ?, ?, ?, ?);`,
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
	err := q.q.QueryRowContext(
		ctx,
		`SELECT id, email, role, active FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Email, &role, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
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
		`SELECT id, email, role, active FROM users WHERE role = ? AND active = TRUE ORDER BY id`,
		string(role),
	)
}

// RetrieveUsers retrieves all users by ascending id.
func (q *queries) RetrieveUsers(ctx context.Context) ([]*storage.User, error) {
	return q.queryUsers(ctx, `SELECT id, email, role, active FROM users ORDER BY id`)
}

func (q *queries) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*storage.User, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
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
	_, err := q.q.ExecContext(
		ctx,
		`
INSERT INTO users
    (id, email, role, active)
VALUES
    (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    email = VALUES(email),
    role = VALUES(role),
    active = VALUES(active);`,
		u.ID, u.Email, string(u.Role), u.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}
