package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/magnab/lifecycle/workflow"
)

func TestCreateTemplate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testUsers()...)

	tpl := createTemplate(t, e, onboardingRequest())
	if !tpl.Active {
		t.Error("expected active template")
	}
	if have, want := tpl.CreatedBy, "admin"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(tpl.Tasks), 4; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	// renumbered to consecutive sequence orders
	for i, want := range []int{1, 2, 2, 3} {
		if have := tpl.Tasks[i].SequenceOrder; have != want {
			t.Errorf("task %d: have: %v, want: %v", i, have, want)
		}
	}

	stored, err := e.Template(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := stored.Name, tpl.Name; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	_, err = e.CreateTemplate(ctx, onboardingRequest(), "admin")
	if !errors.Is(err, workflow.ErrConflict) {
		t.Errorf("duplicate name: have: %v, want: %v", err, workflow.ErrConflict)
	}

	templates, err := e.Templates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(templates), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestCreateTemplateInvalid(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testUsers()...)

	for _, test := range []struct {
		name  string
		req   *TemplateRequest
		actor string
		err   error
	}{
		{"nil", nil, "admin", workflow.ErrValidation},
		{"no_name", &TemplateRequest{Kind: workflow.KindOnboarding, Tasks: onboardingRequest().Tasks}, "admin", workflow.ErrValidation},
		{"bad_kind", &TemplateRequest{Name: "x", Kind: "HIRING", Tasks: onboardingRequest().Tasks}, "admin", workflow.ErrValidation},
		{"no_tasks", &TemplateRequest{Name: "x", Kind: workflow.KindOnboarding}, "admin", workflow.ErrValidation},
		{"bad_role", &TemplateRequest{Name: "x", Kind: workflow.KindOnboarding, Tasks: []workflow.TaskSpec{
			{Name: "a", Role: "JANITOR", SequenceOrder: 1},
		}}, "admin", workflow.ErrValidation},
		{"duplicate_order", &TemplateRequest{Name: "x", Kind: workflow.KindOnboarding, Tasks: []workflow.TaskSpec{
			{Name: "a", Role: workflow.RoleHRAdmin, SequenceOrder: 1},
			{Name: "b", Role: workflow.RoleHRAdmin, SequenceOrder: 1},
		}}, "admin", workflow.ErrValidation},
		{"unknown_actor", onboardingRequest(), "ghost", workflow.ErrNotFound},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := e.CreateTemplate(ctx, test.req, test.actor)
			if !errors.Is(err, test.err) {
				t.Errorf("have: %v, want: %v", err, test.err)
			}
		})
	}
}

func TestUpdateTemplate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testUsers()...)
	tpl := createTemplate(t, e, onboardingRequest())
	contractID := tpl.Tasks[0].ID

	summary, err := e.Instantiate(ctx, tpl.ID, testEmployee(), nil, "admin")
	if err != nil {
		t.Fatal(err)
	}

	inactive := false
	updated, err := e.UpdateTemplate(ctx, tpl.ID, &TemplateRequest{
		Name:   "Lean Onboarding",
		Kind:   workflow.KindOnboarding,
		Active: &inactive,
		Tasks: []workflow.TaskSpec{
			{Ref: contractID, Name: "Contract (e-sign)", Role: workflow.RoleHRAdmin, SequenceOrder: 1},
			{Name: "Laptop", Role: workflow.RoleTechSupport, SequenceOrder: 2, DependsOn: contractID},
		},
	}, "hr-a")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(updated.Tasks), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := updated.Tasks[0].ID, contractID; have != want {
		t.Errorf("persisted id not reused: have: %v, want: %v", have, want)
	}
	if have, want := updated.Tasks[1].DependsOn, contractID; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if updated.Active {
		t.Error("expected inactive template")
	}
	if have, want := updated.UpdatedBy, "hr-a"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := updated.CreatedBy, "admin"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	// existing workflows keep their tasks
	d, err := e.Workflow(ctx, summary.WorkflowID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(d.Tasks), 4; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	_, err = e.Instantiate(ctx, tpl.ID, testEmployee(), nil, "admin")
	if !errors.Is(err, workflow.ErrValidation) {
		t.Errorf("inactive template: have: %v, want: %v", err, workflow.ErrValidation)
	}

	other := onboardingRequest()
	other.Name = "Other"
	createTemplate(t, e, other)
	rename := onboardingRequest()
	rename.Name = "Other"
	_, err = e.UpdateTemplate(ctx, tpl.ID, rename, "admin")
	if !errors.Is(err, workflow.ErrConflict) {
		t.Errorf("rename to taken name: have: %v, want: %v", err, workflow.ErrConflict)
	}

	_, err = e.UpdateTemplate(ctx, "nope", onboardingRequest(), "admin")
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
}

func TestDeleteTemplate(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testUsers()...)
	tpl := createTemplate(t, e, &TemplateRequest{
		Name: "Single",
		Kind: workflow.KindOffboarding,
		Tasks: []workflow.TaskSpec{
			{Name: "Collect badge", Role: workflow.RoleHRAdmin, SequenceOrder: 1},
		},
	})

	summary, err := e.InitiateWorkflow(ctx, tpl.ID, testEmployee(), nil, "admin")
	if err != nil {
		t.Fatal(err)
	}

	err = e.DeleteTemplate(ctx, tpl.ID, "admin")
	if !errors.Is(err, workflow.ErrConflict) {
		t.Errorf("active workflow: have: %v, want: %v", err, workflow.ErrConflict)
	}

	task := summary.Assigned[0]
	if _, err = e.TransitionTask(ctx, task.TaskID, workflow.TaskCompleted, task.UserID); err != nil {
		t.Fatal(err)
	}

	if err = e.DeleteTemplate(ctx, tpl.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	stored, err := e.Template(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Active {
		t.Error("expected soft-deleted template to be inactive")
	}

	err = e.PurgeTemplate(ctx, tpl.ID, "admin")
	if !errors.Is(err, workflow.ErrConflict) {
		t.Errorf("referenced template: have: %v, want: %v", err, workflow.ErrConflict)
	}

	unused := createTemplate(t, e, onboardingRequest())
	if err = e.PurgeTemplate(ctx, unused.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	_, err = e.Template(ctx, unused.ID)
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
	err = e.PurgeTemplate(ctx, unused.ID, "admin")
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
	err = e.DeleteTemplate(ctx, unused.ID, "admin")
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
}
