package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/magnab/lifecycle/workflow"
)

func TestUserDirectory(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testUsers()...)

	u, err := e.CreateUser(ctx, &UserRequest{ID: "lm-a", Email: "lm@example.com", Role: workflow.RoleLineManager}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if !u.Active {
		t.Error("expected active user")
	}

	for _, test := range []struct {
		name  string
		req   *UserRequest
		actor string
		err   error
	}{
		{"nil", nil, "admin", workflow.ErrValidation},
		{"no_id", &UserRequest{Role: workflow.RoleHRAdmin}, "admin", workflow.ErrValidation},
		{"bad_role", &UserRequest{ID: "x", Role: "JANITOR"}, "admin", workflow.ErrValidation},
		{"duplicate", &UserRequest{ID: "lm-a", Role: workflow.RoleLineManager}, "admin", workflow.ErrConflict},
		{"unknown_actor", &UserRequest{ID: "y", Role: workflow.RoleHRAdmin}, "ghost", workflow.ErrNotFound},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := e.CreateUser(ctx, test.req, test.actor)
			if !errors.Is(err, test.err) {
				t.Errorf("have: %v, want: %v", err, test.err)
			}
		})
	}

	users, err := e.Users(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	for i, want := range []string{"admin", "hr-0", "hr-a", "hr-b", "it-a", "lm-a"} {
		if i >= len(ids) || ids[i] != want {
			t.Fatalf("have: %v, want %s at %d", ids, want, i)
		}
	}

	role := workflow.RoleTechSupport
	email := "it@example.com"
	u, err = e.UpdateUser(ctx, "lm-a", &UserUpdate{Role: &role, Email: &email}, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := u.Role, workflow.RoleTechSupport; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !u.Active {
		t.Error("unset active flag changed")
	}
	u, err = e.User(ctx, "lm-a")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := u.Email, email; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	bad := workflow.Role("JANITOR")
	if _, err = e.UpdateUser(ctx, "lm-a", &UserUpdate{Role: &bad}, "admin"); !errors.Is(err, workflow.ErrValidation) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrValidation)
	}
	if _, err = e.UpdateUser(ctx, "nope", &UserUpdate{}, "admin"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
	if _, err = e.DeactivateUser(ctx, "nope", "admin"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
	if _, err = e.User(ctx, "nope"); !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("have: %v, want: %v", err, workflow.ErrNotFound)
	}
}

func TestDeactivatedUserReceivesNoAssignments(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, testUsers()...)
	tpl := createTemplate(t, e, &TemplateRequest{
		Name:  "Single",
		Kind:  workflow.KindOnboarding,
		Tasks: []workflow.TaskSpec{{Name: "Welcome", Role: workflow.RoleHRAdmin, SequenceOrder: 1}},
	})

	first, err := e.InitiateWorkflow(ctx, tpl.ID, testEmployee(), nil, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := first.Assigned[0].UserID, "hr-a"; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}

	// hr-a is least loaded again
	if _, err = e.TransitionTask(ctx, first.Assigned[0].TaskID, workflow.TaskCompleted, "hr-a"); err != nil {
		t.Fatal(err)
	}

	u, err := e.DeactivateUser(ctx, "hr-a", "admin")
	if err != nil {
		t.Fatal(err)
	}
	if u.Active {
		t.Error("expected inactive user")
	}

	for i := 0; i < 2; i++ {
		summary, err := e.InitiateWorkflow(ctx, tpl.ID, testEmployee(), nil, "admin")
		if err != nil {
			t.Fatal(err)
		}
		if have, want := len(summary.Assigned), 1; have != want {
			t.Fatalf("have: %v, want: %v", have, want)
		}
		if have, want := summary.Assigned[0].UserID, "hr-b"; have != want {
			t.Errorf("workflow %d: have: %v, want: %v", i, have, want)
		}
	}

	// the last HR user going inactive leaves tasks unassigned
	if _, err = e.DeactivateUser(ctx, "hr-b", "admin"); err != nil {
		t.Fatal(err)
	}
	summary, err := e.InitiateWorkflow(ctx, tpl.ID, testEmployee(), nil, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(summary.Assigned), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	active := true
	if _, err = e.UpdateUser(ctx, "hr-a", &UserUpdate{Active: &active}, "admin"); err != nil {
		t.Fatal(err)
	}
	assigned, err := e.AssignReadyTasks(ctx, summary.WorkflowID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(assigned), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := assigned[0].UserID, "hr-a"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
