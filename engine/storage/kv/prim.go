package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/storage/kv"
)

const (
	keyPfxTemplate     = "tpl."     // template metadata
	keyPfxTemplateTask = "tpltask." // template tasks, by template ID and position
	keyPfxWorkflow     = "wf."      // workflow instance
	keyPfxWorkflowTask = "wftask."  // task instances, by workflow ID and task ID
	keyPfxTask         = "task."    // task ID to workflow ID index
	keyPfxHistory      = "hist."    // history entries, by workflow ID and append position
	keyPfxUser         = "user."    // user directory
)

func notFound(err error) bool {
	return errors.Is(err, kv.ErrKeyNotFound) || errors.Is(err, fs.ErrNotExist)
}

func kvGetJSON(ctx context.Context, b bucket, k string, v interface{}) error {
	raw, err := b.Get(ctx, k)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", k, err)
	}
	return nil
}

func kvSetJSON(ctx context.Context, b bucket, k string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return b.Set(ctx, k, raw)
}

func kvDeleteKeys(ctx context.Context, b bucket, keys []string) error {
	if err := kv.DeleteSlice(ctx, b, keys); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

// templates

// templateTaskKey pads pos wide enough that any int32 position sorts in order.
func templateTaskKey(templateID string, pos int) string {
	return fmt.Sprintf("%s%s.%010d", keyPfxTemplateTask, templateID, pos)
}

// kvGetTemplate reads a template and its tasks in stored order.
func kvGetTemplate(ctx context.Context, b bucket, id string) (*storage.Template, error) {
	t := new(storage.Template)
	err := kvGetJSON(ctx, b, keyPfxTemplate+id, t)
	if notFound(err) {
		return nil, workflow.NewNotFoundError("template", id)
	} else if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	t.Tasks = nil
	for _, k := range b.keysPrefix(ctx, keyPfxTemplateTask+id+".") {
		var tt storage.TemplateTask
		if err = kvGetJSON(ctx, b, k, &tt); err != nil {
			return nil, fmt.Errorf("getting template task: %w", err)
		}
		t.Tasks = append(t.Tasks, tt)
	}
	return t, nil
}

// kvGetTemplates reads all templates ordered by name.
func kvGetTemplates(ctx context.Context, b bucket) ([]*storage.Template, error) {
	var ret []*storage.Template
	for _, k := range b.keysPrefix(ctx, keyPfxTemplate) {
		t, err := kvGetTemplate(ctx, b, k[len(keyPfxTemplate):])
		if err != nil {
			return nil, err
		}
		ret = append(ret, t)
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret, nil
}

// kvSetTemplate replaces a template: its previous tasks are removed first.
func kvSetTemplate(ctx context.Context, b bucket, t *storage.Template) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validating template: %w", err)
	}
	if err := kvDeleteKeys(ctx, b, b.keysPrefix(ctx, keyPfxTemplateTask+t.ID+".")); err != nil {
		return fmt.Errorf("deleting template tasks: %w", err)
	}
	meta := *t
	meta.Tasks = nil
	if err := kvSetJSON(ctx, b, keyPfxTemplate+t.ID, &meta); err != nil {
		return fmt.Errorf("setting template: %w", err)
	}
	for i := range t.Tasks {
		if err := kvSetJSON(ctx, b, templateTaskKey(t.ID, i), &t.Tasks[i]); err != nil {
			return fmt.Errorf("setting template task: %w", err)
		}
	}
	return nil
}

// kvDeleteTemplate deletes the tasks of a template and then the template.
func kvDeleteTemplate(ctx context.Context, b bucket, id string) error {
	if ok, err := b.Has(ctx, keyPfxTemplate+id); err != nil {
		return fmt.Errorf("checking template: %w", err)
	} else if !ok {
		return workflow.NewNotFoundError("template", id)
	}
	if err := kvDeleteKeys(ctx, b, b.keysPrefix(ctx, keyPfxTemplateTask+id+".")); err != nil {
		return fmt.Errorf("deleting template tasks: %w", err)
	}
	return b.Delete(ctx, keyPfxTemplate+id)
}

// workflows

func kvGetWorkflow(ctx context.Context, b bucket, id string) (*storage.Workflow, error) {
	w := new(storage.Workflow)
	err := kvGetJSON(ctx, b, keyPfxWorkflow+id, w)
	if notFound(err) {
		return nil, workflow.NewNotFoundError("workflow", id)
	} else if err != nil {
		return nil, fmt.Errorf("getting workflow: %w", err)
	}
	return w, nil
}

func kvGetWorkflows(ctx context.Context, b bucket, filter storage.WorkflowFilter) ([]*storage.Workflow, error) {
	name := strings.ToLower(filter.EmployeeName)
	var ret []*storage.Workflow
	for _, k := range b.keysPrefix(ctx, keyPfxWorkflow) {
		w, err := kvGetWorkflow(ctx, b, k[len(keyPfxWorkflow):])
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		if filter.Kind != "" && w.Kind != filter.Kind {
			continue
		}
		if filter.TemplateID != "" && w.TemplateID != filter.TemplateID {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(w.EmployeeName), name) {
			continue
		}
		if filter.AssignedUserID != "" {
			tasks, err := kvGetTasks(ctx, b, w.ID)
			if err != nil {
				return nil, err
			}
			var found bool
			for _, t := range tasks {
				if t.AssignedUserID == filter.AssignedUserID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		ret = append(ret, w)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].InitiatedAt.Equal(ret[j].InitiatedAt) {
			return ret[i].InitiatedAt.After(ret[j].InitiatedAt)
		}
		return ret[i].ID < ret[j].ID
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(ret) {
			return nil, nil
		}
		ret = ret[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(ret) {
		ret = ret[:filter.Limit]
	}
	return ret, nil
}

// kvSetWorkflow writes w. An already stored template reference is kept.
func kvSetWorkflow(ctx context.Context, b bucket, w *storage.Workflow) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("validating workflow: %w", err)
	}
	prev, err := kvGetWorkflow(ctx, b, w.ID)
	if err == nil {
		c := *w
		c.TemplateID = prev.TemplateID
		w = &c
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return err
	}
	return kvSetJSON(ctx, b, keyPfxWorkflow+w.ID, w)
}

func kvCountWorkflowsByTemplate(ctx context.Context, b bucket, templateID string, activeOnly bool) (int, error) {
	var ct int
	for _, k := range b.keysPrefix(ctx, keyPfxWorkflow) {
		w, err := kvGetWorkflow(ctx, b, k[len(keyPfxWorkflow):])
		if err != nil {
			return 0, err
		}
		if w.TemplateID != templateID {
			continue
		}
		if activeOnly && w.Status == workflow.WorkflowCompleted {
			continue
		}
		ct++
	}
	return ct, nil
}

// tasks

func workflowTaskKey(workflowID, taskID string) string {
	return keyPfxWorkflowTask + workflowID + "." + taskID
}

func kvGetTask(ctx context.Context, b bucket, id string) (*storage.Task, error) {
	wfID, err := b.Get(ctx, keyPfxTask+id)
	if notFound(err) {
		return nil, workflow.NewNotFoundError("task", id)
	} else if err != nil {
		return nil, fmt.Errorf("getting task index: %w", err)
	}
	t := new(storage.Task)
	if err = kvGetJSON(ctx, b, workflowTaskKey(string(wfID), id), t); err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

func sortTasks(tasks []*storage.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].SequenceOrder != tasks[j].SequenceOrder {
			return tasks[i].SequenceOrder < tasks[j].SequenceOrder
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func kvGetTasks(ctx context.Context, b bucket, workflowID string) ([]*storage.Task, error) {
	var ret []*storage.Task
	for _, k := range b.keysPrefix(ctx, keyPfxWorkflowTask+workflowID+".") {
		t := new(storage.Task)
		if err := kvGetJSON(ctx, b, k, t); err != nil {
			return nil, fmt.Errorf("getting task: %w", err)
		}
		ret = append(ret, t)
	}
	sortTasks(ret)
	return ret, nil
}

func kvSetTasks(ctx context.Context, b bucket, tasks []*storage.Task) error {
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("validating task: %w", err)
		}
		if err := kvSetJSON(ctx, b, workflowTaskKey(t.WorkflowID, t.ID), t); err != nil {
			return fmt.Errorf("setting task: %w", err)
		}
		if err := b.Set(ctx, keyPfxTask+t.ID, []byte(t.WorkflowID)); err != nil {
			return fmt.Errorf("setting task index: %w", err)
		}
	}
	return nil
}

func kvCountOpenTasks(ctx context.Context, b bucket, userID string) (int, error) {
	var ct int
	for _, k := range b.keysPrefix(ctx, keyPfxWorkflowTask) {
		var t storage.Task
		if err := kvGetJSON(ctx, b, k, &t); err != nil {
			return 0, fmt.Errorf("getting task: %w", err)
		}
		if t.AssignedUserID == userID && t.Status.Open() {
			ct++
		}
	}
	return ct, nil
}

// history

func kvGetHistory(ctx context.Context, b bucket, workflowID string) ([]*storage.HistoryEntry, error) {
	var ret []*storage.HistoryEntry
	for _, k := range b.keysPrefix(ctx, keyPfxHistory+workflowID+".") {
		h := new(storage.HistoryEntry)
		if err := kvGetJSON(ctx, b, k, h); err != nil {
			return nil, fmt.Errorf("getting history entry: %w", err)
		}
		ret = append(ret, h)
	}
	return ret, nil
}

func kvAppendHistory(ctx context.Context, b bucket, h *storage.HistoryEntry) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("validating history entry: %w", err)
	}
	pfx := keyPfxHistory + h.WorkflowID + "."
	n := len(b.keysPrefix(ctx, pfx))
	return kvSetJSON(ctx, b, fmt.Sprintf("%s%010d", pfx, n), h)
}

// users

func kvGetUser(ctx context.Context, b bucket, id string) (*storage.User, error) {
	u := new(storage.User)
	err := kvGetJSON(ctx, b, keyPfxUser+id, u)
	if notFound(err) {
		return nil, workflow.NewNotFoundError("user", id)
	} else if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

func kvGetUsers(ctx context.Context, b bucket) ([]*storage.User, error) {
	var ret []*storage.User
	// keys are sorted so users come back by ascending id
	for _, k := range b.keysPrefix(ctx, keyPfxUser) {
		u, err := kvGetUser(ctx, b, k[len(keyPfxUser):])
		if err != nil {
			return nil, err
		}
		ret = append(ret, u)
	}
	return ret, nil
}

func kvGetActiveUsersByRole(ctx context.Context, b bucket, role workflow.Role) ([]*storage.User, error) {
	users, err := kvGetUsers(ctx, b)
	if err != nil {
		return nil, err
	}
	var ret []*storage.User
	for _, u := range users {
		if u.Active && u.Role == role {
			ret = append(ret, u)
		}
	}
	return ret, nil
}

func kvSetUser(ctx context.Context, b bucket, u *storage.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("validating user: %w", err)
	}
	return kvSetJSON(ctx, b, keyPfxUser+u.ID, u)
}
