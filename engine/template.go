package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// TemplateRequest is a proposed template.
// On update the whole template, tasks included, is replaced.
type TemplateRequest struct {
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        workflow.Kind       `json:"kind" yaml:"kind"`
	Active      *bool               `json:"active,omitempty" yaml:"active,omitempty"`
	Tasks       []workflow.TaskSpec `json:"tasks" yaml:"tasks"`
}

// Validate checks the template fields and its task list.
// The normalized task list is returned.
func (r *TemplateRequest) Validate() ([]workflow.TaskSpec, error) {
	if r == nil {
		return nil, workflow.NewValidationError("empty template")
	}
	if r.Name == "" {
		return nil, workflow.NewValidationError("template name required")
	}
	if !r.Kind.Valid() {
		return nil, workflow.NewValidationError("invalid workflow kind: %q", r.Kind)
	}
	for i := range r.Tasks {
		if err := r.Tasks[i].Validate(); err != nil {
			return nil, err
		}
	}
	return workflow.ValidateAndNormalize(r.Tasks)
}

// buildTasks converts normalized task specs into template tasks.
// A task whose Ref names a task in prev keeps that task's identifier;
// other tasks get new identifiers. Dependencies are resolved from refs
// to identifiers.
func (e *Engine) buildTasks(specs []workflow.TaskSpec, prev []storage.TemplateTask) []storage.TemplateTask {
	known := make(map[string]bool)
	for _, t := range prev {
		known[t.ID] = true
	}
	ids := make(map[string]string)
	tasks := make([]storage.TemplateTask, len(specs))
	for i, spec := range specs {
		id := spec.Ref
		if id == "" || !known[id] {
			id = e.ider.ID()
		}
		// a reused id may only be claimed once
		delete(known, id)
		if spec.Ref != "" {
			ids[spec.Ref] = id
		}
		tasks[i] = storage.TemplateTask{
			ID:            id,
			Name:          spec.Name,
			Description:   spec.Description,
			Role:          spec.Role,
			SequenceOrder: spec.SequenceOrder,
			Parallel:      spec.Parallel,
		}
	}
	for i, spec := range specs {
		if spec.DependsOn != "" {
			tasks[i].DependsOn = ids[spec.DependsOn]
		}
	}
	return tasks
}

// checkNameUnique returns a conflict if another template uses name.
func checkNameUnique(ctx context.Context, tx storage.Tx, name, id string) error {
	other, err := tx.RetrieveTemplateByName(ctx, name)
	if errors.Is(err, workflow.ErrNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("retrieving template by name: %w", err)
	}
	if other.ID != id {
		return workflow.NewConflictError("template name already in use: %s", name)
	}
	return nil
}

// CreateTemplate validates and stores a new template.
// Templates are active unless the request says otherwise.
func (e *Engine) CreateTemplate(ctx context.Context, req *TemplateRequest, actorID string) (*storage.Template, error) {
	specs, err := req.Validate()
	if err != nil {
		return nil, err
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.TemplateName, req.Name)

	t := &storage.Template{
		ID:          e.ider.ID(),
		Name:        req.Name,
		Description: req.Description,
		Kind:        req.Kind,
		Active:      req.Active == nil || *req.Active,
		CreatedBy:   actorID,
		UpdatedBy:   actorID,
	}
	t.CreatedAt = e.now()
	t.UpdatedAt = t.CreatedAt
	t.Tasks = e.buildTasks(specs, nil)

	err = e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := checkNameUnique(ctx, tx, t.Name, t.ID); err != nil {
			return err
		}
		if err := tx.StoreTemplate(ctx, t); err != nil {
			return fmt.Errorf("storing template: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(
		logkeys.Message, "created template",
		logkeys.TemplateID, t.ID,
		logkeys.GenericCount, len(t.Tasks),
	)
	return t, nil
}

// UpdateTemplate replaces the template with id.
// Existing workflows keep the tasks they were instantiated with.
// A nil Active keeps the current active flag.
func (e *Engine) UpdateTemplate(ctx context.Context, id string, req *TemplateRequest, actorID string) (*storage.Template, error) {
	specs, err := req.Validate()
	if err != nil {
		return nil, err
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.TemplateID, id)

	var t *storage.Template
	err = e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		t, err = tx.RetrieveTemplate(ctx, id)
		if err != nil {
			return fmt.Errorf("retrieving template: %w", err)
		}
		if _, err = retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err = checkNameUnique(ctx, tx, req.Name, id); err != nil {
			return err
		}
		t.Name = req.Name
		t.Description = req.Description
		t.Kind = req.Kind
		if req.Active != nil {
			t.Active = *req.Active
		}
		t.Tasks = e.buildTasks(specs, t.Tasks)
		t.UpdatedBy = actorID
		t.UpdatedAt = e.now()
		if err = tx.StoreTemplate(ctx, t); err != nil {
			return fmt.Errorf("storing template: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(
		logkeys.Message, "updated template",
		logkeys.GenericCount, len(t.Tasks),
	)
	return t, nil
}

// DeleteTemplate deactivates the template with id so it can no longer
// be instantiated. Deactivation is refused while workflows that are not
// yet completed reference the template.
func (e *Engine) DeleteTemplate(ctx context.Context, id, actorID string) error {
	return e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		t, err := tx.RetrieveTemplate(ctx, id)
		if err != nil {
			return fmt.Errorf("retrieving template: %w", err)
		}
		if _, err = retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		n, err := tx.CountWorkflowsByTemplate(ctx, id, true)
		if err != nil {
			return fmt.Errorf("counting workflows: %w", err)
		}
		if n > 0 {
			return workflow.NewConflictError("template %s is referenced by %d active workflow(s)", id, n)
		}
		t.Active = false
		t.UpdatedBy = actorID
		t.UpdatedAt = e.now()
		if err = tx.StoreTemplate(ctx, t); err != nil {
			return fmt.Errorf("storing template: %w", err)
		}
		ctxlog.Logger(ctx, e.logger).Debug(
			logkeys.Message, "deactivated template",
			logkeys.TemplateID, id,
		)
		return nil
	})
}

// PurgeTemplate permanently removes the template with id and its tasks.
// Purging is refused while any workflow references the template.
func (e *Engine) PurgeTemplate(ctx context.Context, id, actorID string) error {
	return e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		n, err := tx.CountWorkflowsByTemplate(ctx, id, false)
		if err != nil {
			return fmt.Errorf("counting workflows: %w", err)
		}
		if n > 0 {
			return workflow.NewConflictError("template %s is referenced by %d workflow(s)", id, n)
		}
		if err = tx.DeleteTemplate(ctx, id); err != nil {
			return fmt.Errorf("deleting template: %w", err)
		}
		ctxlog.Logger(ctx, e.logger).Info(
			logkeys.Message, "purged template",
			logkeys.TemplateID, id,
			logkeys.ActorID, actorID,
		)
		return nil
	})
}

// Template retrieves the template with id.
func (e *Engine) Template(ctx context.Context, id string) (*storage.Template, error) {
	t, err := e.storage.RetrieveTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving template: %w", err)
	}
	return t, nil
}

// Templates retrieves all templates, inactive ones included.
func (e *Engine) Templates(ctx context.Context) ([]*storage.Template, error) {
	t, err := e.storage.RetrieveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving templates: %w", err)
	}
	return t, nil
}
