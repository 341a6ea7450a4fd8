// Package test runs a conformance suite against lifecycle engine storage backends.
package test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/utils/uuid"
	"github.com/magnab/lifecycle/workflow"
)

var errTestRollback = errors.New("test rollback")

// TestEngineStorage exercises a storage backend.
// IDs are freshly generated so backends with persistent state (e.g.
// a shared database) can be tested repeatedly.
func TestEngineStorage(t *testing.T, newStorage func() storage.Storage) {
	s := newStorage()

	t.Run("testTemplates", func(t *testing.T) {
		testTemplates(t, s)
	})

	t.Run("testRollback", func(t *testing.T) {
		testRollback(t, s)
	})

	t.Run("testUsers", func(t *testing.T) {
		testUsers(t, s)
	})

	t.Run("testWorkflows", func(t *testing.T) {
		testWorkflows(t, s)
	})

	t.Run("testWorkflowFilter", func(t *testing.T) {
		testWorkflowFilter(t, newStorage())
	})
}

func store(t *testing.T, s storage.Storage, fn storage.TxFunc) {
	t.Helper()
	if err := s.Tx(context.Background(), fn); err != nil {
		t.Fatal(err)
	}
}

func newTemplate(ider uuid.IDer, name string, n int) *storage.Template {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tpl := &storage.Template{
		ID:        ider.ID(),
		Name:      name,
		Kind:      workflow.KindOnboarding,
		Active:    true,
		CreatedBy: "admin",
		CreatedAt: now,
		UpdatedBy: "admin",
		UpdatedAt: now,
	}
	for i := 0; i < n; i++ {
		tt := storage.TemplateTask{
			ID:            ider.ID(),
			Name:          name + " task",
			Role:          workflow.RoleHRAdmin,
			SequenceOrder: i + 1,
		}
		if i > 0 {
			tt.DependsOn = tpl.Tasks[i-1].ID
		}
		tpl.Tasks = append(tpl.Tasks, tt)
	}
	return tpl
}

func testTemplates(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	suffix := ider.ID()

	tpl := newTemplate(ider, "b-template-"+suffix, 3)
	// a parallel pair keeps its stored order
	tpl.Tasks[1].SequenceOrder = 2
	tpl.Tasks[1].Parallel = true
	tpl.Tasks[2].SequenceOrder = 2
	tpl.Tasks[2].Parallel = true
	tpl.Tasks[2].DependsOn = tpl.Tasks[0].ID
	other := newTemplate(ider, "a-template-"+suffix, 1)

	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.StoreTemplate(ctx, tpl); err != nil {
			return err
		}
		return tx.StoreTemplate(ctx, other)
	})

	have, err := s.RetrieveTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := have.Name, tpl.Name; have != want {
		t.Errorf("name: have: %v, want: %v", have, want)
	}
	if have, want := have.Kind, workflow.KindOnboarding; have != want {
		t.Errorf("kind: have: %v, want: %v", have, want)
	}
	if !have.Active {
		t.Error("expected active template")
	}
	if !have.CreatedAt.Equal(tpl.CreatedAt) {
		t.Errorf("created at: have: %v, want: %v", have.CreatedAt, tpl.CreatedAt)
	}
	if have, want := len(have.Tasks), 3; have != want {
		t.Fatalf("task count: have: %v, want: %v", have, want)
	}
	for i := range tpl.Tasks {
		if have, want := have.Tasks[i], tpl.Tasks[i]; have != want {
			t.Errorf("task %d: have: %+v, want: %+v", i, have, want)
		}
	}

	byName, err := s.RetrieveTemplateByName(ctx, tpl.Name)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := byName.ID, tpl.ID; have != want {
		t.Errorf("by name: have: %v, want: %v", have, want)
	}

	_, err = s.RetrieveTemplateByName(ctx, "missing-"+suffix)
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("by name: expected ErrNotFound, have: %v", err)
	}

	// ours sort by name amongst whatever else is stored
	templates, err := s.RetrieveTemplates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, x := range templates {
		if x.ID == tpl.ID || x.ID == other.ID {
			order = append(order, x.ID)
		}
	}
	if len(order) != 2 || order[0] != other.ID || order[1] != tpl.ID {
		t.Errorf("template order: have: %v, want: [%s %s]", order, other.ID, tpl.ID)
	}

	// full replacement drops tasks no longer present
	tpl.Tasks = tpl.Tasks[:1]
	tpl.Active = false
	tpl.UpdatedBy = "someone"
	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		return tx.StoreTemplate(ctx, tpl)
	})
	have, err = s.RetrieveTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(have.Tasks), 1; have != want {
		t.Errorf("task count after replace: have: %v, want: %v", have, want)
	}
	if have.Active {
		t.Error("expected inactive template")
	}
	if have, want := have.UpdatedBy, "someone"; have != want {
		t.Errorf("updated by: have: %v, want: %v", have, want)
	}

	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteTemplate(ctx, tpl.ID)
	})
	_, err = s.RetrieveTemplate(ctx, tpl.ID)
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("after delete: expected ErrNotFound, have: %v", err)
	}

	err = s.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteTemplate(ctx, tpl.ID)
	})
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("delete missing: expected ErrNotFound, have: %v", err)
	}

	// re-creating a deleted template starts with no stale tasks
	tpl.Tasks = nil
	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		return tx.StoreTemplate(ctx, tpl)
	})
	have, err = s.RetrieveTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(have.Tasks), 0; have != want {
		t.Errorf("task count after re-create: have: %v, want: %v", have, want)
	}
}

func testRollback(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	tpl := newTemplate(ider, "rollback-"+ider.ID(), 2)

	err := s.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.StoreTemplate(ctx, tpl); err != nil {
			return err
		}
		// visible within the transaction
		if _, err := tx.RetrieveTemplate(ctx, tpl.ID); err != nil {
			return err
		}
		return errTestRollback
	})
	if !errors.Is(err, errTestRollback) {
		t.Errorf("expected callback error, have: %v", err)
	}

	_, err = s.RetrieveTemplate(ctx, tpl.ID)
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected ErrNotFound after rollback, have: %v", err)
	}
}

func testUsers(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	pfx := uuid.NewUUID().ID()

	users := []*storage.User{
		{ID: pfx + "-c", Role: workflow.RoleTechSupport, Active: true},
		{ID: pfx + "-a", Role: workflow.RoleTechSupport, Active: true, Email: "a@example.com"},
		{ID: pfx + "-b", Role: workflow.RoleTechSupport, Active: false},
		{ID: pfx + "-d", Role: workflow.RoleLineManager, Active: true},
	}
	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, u := range users {
			if err := tx.StoreUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})

	u, err := s.RetrieveUser(ctx, pfx+"-a")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := *u, *users[1]; have != want {
		t.Errorf("have: %+v, want: %+v", have, want)
	}

	_, err = s.RetrieveUser(ctx, pfx+"-missing")
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected ErrNotFound, have: %v", err)
	}

	active, err := s.RetrieveActiveUsersByRole(ctx, workflow.RoleTechSupport)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, u := range active {
		if len(u.ID) > len(pfx) && u.ID[:len(pfx)] == pfx {
			ids = append(ids, u.ID)
		}
	}
	if len(ids) != 2 || ids[0] != pfx+"-a" || ids[1] != pfx+"-c" {
		t.Errorf("active users: have: %v, want: [%s-a %s-c]", ids, pfx, pfx)
	}

	all, err := s.RetrieveUsers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ids = nil
	for _, u := range all {
		if len(u.ID) > len(pfx) && u.ID[:len(pfx)] == pfx {
			ids = append(ids, u.ID)
		}
	}
	if have, want := fmt.Sprint(ids), fmt.Sprintf("[%[1]s-a %[1]s-b %[1]s-c %[1]s-d]", pfx); have != want {
		t.Errorf("all users: have: %v, want: %v", have, want)
	}

	// deactivation is a replace of the stored user
	deactivated := *users[1]
	deactivated.Active = false
	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		return tx.StoreUser(ctx, &deactivated)
	})
	active, err = s.RetrieveActiveUsersByRole(ctx, workflow.RoleTechSupport)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range active {
		if u.ID == deactivated.ID {
			t.Errorf("deactivated user %s still active", u.ID)
		}
	}
}

func testWorkflows(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	tpl := newTemplate(ider, "wf-"+ider.ID(), 3)
	userID := "user-" + ider.ID()
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	wf := &storage.Workflow{
		ID:            ider.ID(),
		TemplateID:    tpl.ID,
		EmployeeName:  "Ada Lovelace",
		EmployeeEmail: "ada@example.com",
		EmployeeRole:  "Engineer",
		Kind:          workflow.KindOnboarding,
		Status:        workflow.WorkflowInitiated,
		InitiatedBy:   "admin",
		InitiatedAt:   now,
		CustomFields:  map[string]interface{}{"dept": "eng"},
	}
	var tasks []*storage.Task
	for i, tt := range tpl.Tasks {
		task := &storage.Task{
			ID:             ider.ID(),
			WorkflowID:     wf.ID,
			TemplateTaskID: tt.ID,
			Name:           tt.Name,
			Role:           tt.Role,
			// stored out of order on purpose
			SequenceOrder: len(tpl.Tasks) - i,
			Status:        workflow.TaskNotStarted,
			Visible:       true,
		}
		tasks = append(tasks, task)
	}
	tasks[0].AssignedUserID = userID
	tasks[0].Status = workflow.TaskInProgress
	tasks[0].DueAt = now.Add(48 * time.Hour)
	tasks[1].AssignedUserID = userID
	tasks[1].DependsOn = tasks[0].ID
	tasks[1].Checklist = map[string]interface{}{"laptop": "ordered"}

	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.StoreTemplate(ctx, tpl); err != nil {
			return err
		}
		if err := tx.StoreWorkflow(ctx, wf); err != nil {
			return err
		}
		if err := tx.StoreTasks(ctx, tasks); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &storage.HistoryEntry{
			ID:             ider.ID(),
			WorkflowID:     wf.ID,
			PreviousStatus: workflow.WorkflowInitiated,
			NewStatus:      workflow.WorkflowInitiated,
			ChangedBy:      "admin",
			ChangedAt:      now,
			Note:           "Workflow initiated",
		})
	})

	haveWF, err := s.RetrieveWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := haveWF.EmployeeEmail, wf.EmployeeEmail; have != want {
		t.Errorf("email: have: %v, want: %v", have, want)
	}
	if have, want := haveWF.Status, workflow.WorkflowInitiated; have != want {
		t.Errorf("status: have: %v, want: %v", have, want)
	}
	if !haveWF.InitiatedAt.Equal(now) {
		t.Errorf("initiated at: have: %v, want: %v", haveWF.InitiatedAt, now)
	}
	if !haveWF.CompletedAt.IsZero() {
		t.Errorf("completed at: expected zero, have: %v", haveWF.CompletedAt)
	}
	if have, want := haveWF.CustomFields["dept"], "eng"; have != want {
		t.Errorf("custom field: have: %v, want: %v", have, want)
	}

	_, err = s.RetrieveWorkflow(ctx, "missing-"+wf.ID)
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected ErrNotFound, have: %v", err)
	}

	haveTasks, err := s.RetrieveTasks(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(haveTasks), 3; have != want {
		t.Fatalf("task count: have: %v, want: %v", have, want)
	}
	for i, task := range haveTasks {
		if have, want := task.SequenceOrder, i+1; have != want {
			t.Errorf("task order %d: have: %v, want: %v", i, have, want)
		}
	}

	task, err := s.RetrieveTask(ctx, tasks[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := task.DependsOn, tasks[0].ID; have != want {
		t.Errorf("depends on: have: %v, want: %v", have, want)
	}
	if have, want := task.Checklist["laptop"], "ordered"; have != want {
		t.Errorf("checklist: have: %v, want: %v", have, want)
	}
	if have, want := task.WorkflowID, wf.ID; have != want {
		t.Errorf("workflow id: have: %v, want: %v", have, want)
	}

	_, err = s.RetrieveTask(ctx, "missing-"+wf.ID)
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("expected ErrNotFound, have: %v", err)
	}

	ct, err := s.CountOpenTasks(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ct, 2; have != want {
		t.Errorf("open tasks: have: %v, want: %v", have, want)
	}

	ct, err = s.CountWorkflowsByTemplate(ctx, tpl.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ct, 1; have != want {
		t.Errorf("active workflows: have: %v, want: %v", have, want)
	}

	// complete things within a locked transaction
	completedAt := now.Add(time.Hour)
	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		locked, err := tx.LockWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		locked.Status = workflow.WorkflowCompleted
		locked.CompletedAt = completedAt
		locked.TemplateID = "changed"
		if err = tx.StoreWorkflow(ctx, locked); err != nil {
			return err
		}
		task, err := tx.RetrieveTask(ctx, tasks[0].ID)
		if err != nil {
			return err
		}
		task.Status = workflow.TaskCompleted
		task.CompletedAt = completedAt
		task.CompletedBy = userID
		if err = tx.StoreTasks(ctx, []*storage.Task{task}); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &storage.HistoryEntry{
			ID:             ider.ID(),
			WorkflowID:     wf.ID,
			PreviousStatus: workflow.WorkflowInitiated,
			NewStatus:      workflow.WorkflowCompleted,
			ChangedBy:      userID,
			ChangedAt:      completedAt,
		})
	})

	haveWF, err = s.RetrieveWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := haveWF.TemplateID, tpl.ID; have != want {
		t.Errorf("template reference changed: have: %v, want: %v", have, want)
	}
	if !haveWF.CompletedAt.Equal(completedAt) {
		t.Errorf("completed at: have: %v, want: %v", haveWF.CompletedAt, completedAt)
	}

	task, err = s.RetrieveTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := task.CompletedBy, userID; have != want {
		t.Errorf("completed by: have: %v, want: %v", have, want)
	}
	if !task.DueAt.Equal(now.Add(48 * time.Hour)) {
		t.Errorf("due at: have: %v", task.DueAt)
	}

	ct, err = s.CountOpenTasks(ctx, userID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ct, 1; have != want {
		t.Errorf("open tasks after completion: have: %v, want: %v", have, want)
	}

	ct, err = s.CountWorkflowsByTemplate(ctx, tpl.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ct, 0; have != want {
		t.Errorf("active workflows after completion: have: %v, want: %v", have, want)
	}
	ct, err = s.CountWorkflowsByTemplate(ctx, tpl.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ct, 1; have != want {
		t.Errorf("all workflows: have: %v, want: %v", have, want)
	}

	history, err := s.RetrieveHistory(ctx, wf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(history), 2; have != want {
		t.Fatalf("history length: have: %v, want: %v", have, want)
	}
	if have, want := history[0].Note, "Workflow initiated"; have != want {
		t.Errorf("first note: have: %v, want: %v", have, want)
	}
	if have, want := history[1].NewStatus, workflow.WorkflowCompleted; have != want {
		t.Errorf("second status: have: %v, want: %v", have, want)
	}

	err = s.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.LockWorkflow(ctx, "missing-"+wf.ID)
		return err
	})
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Errorf("lock missing: expected ErrNotFound, have: %v", err)
	}
}

func testWorkflowFilter(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ider := uuid.NewUUID()
	tpl := newTemplate(ider, "filter-"+ider.ID(), 1)
	userID := "user-" + ider.ID()
	base := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)

	var wfs []*storage.Workflow
	for i, name := range []string{"Grace Hopper", "Alan Turing", "Grace Kelly", "Linus"} {
		wf := &storage.Workflow{
			ID:            ider.ID(),
			TemplateID:    tpl.ID,
			EmployeeName:  name,
			EmployeeEmail: "e@example.com",
			EmployeeRole:  "Staff",
			Kind:          workflow.KindOnboarding,
			Status:        workflow.WorkflowInProgress,
			InitiatedBy:   "admin",
			InitiatedAt:   base.Add(time.Duration(i) * time.Hour),
			CustomFields:  map[string]interface{}{},
		}
		wfs = append(wfs, wf)
	}
	wfs[3].Kind = workflow.KindOffboarding
	wfs[1].Status = workflow.WorkflowBlocked

	store(t, s, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.StoreTemplate(ctx, tpl); err != nil {
			return err
		}
		for _, wf := range wfs {
			if err := tx.StoreWorkflow(ctx, wf); err != nil {
				return err
			}
		}
		return tx.StoreTasks(ctx, []*storage.Task{{
			ID:             ider.ID(),
			WorkflowID:     wfs[2].ID,
			TemplateTaskID: tpl.Tasks[0].ID,
			Name:           "assigned",
			Role:           workflow.RoleHRAdmin,
			SequenceOrder:  1,
			AssignedUserID: userID,
			Status:         workflow.TaskInProgress,
			Visible:        true,
		}})
	})

	ids := func(list []*storage.Workflow) []string {
		var r []string
		for _, wf := range list {
			r = append(r, wf.ID)
		}
		return r
	}

	for _, test := range []struct {
		name   string
		filter storage.WorkflowFilter
		want   []string
	}{
		{
			"newest_first",
			storage.WorkflowFilter{},
			[]string{wfs[3].ID, wfs[2].ID, wfs[1].ID, wfs[0].ID},
		},
		{
			"status",
			storage.WorkflowFilter{Status: workflow.WorkflowBlocked},
			[]string{wfs[1].ID},
		},
		{
			"kind",
			storage.WorkflowFilter{Kind: workflow.KindOffboarding},
			[]string{wfs[3].ID},
		},
		{
			"name_substring_case",
			storage.WorkflowFilter{EmployeeName: "grace"},
			[]string{wfs[2].ID, wfs[0].ID},
		},
		{
			"assigned_user",
			storage.WorkflowFilter{AssignedUserID: userID},
			[]string{wfs[2].ID},
		},
		{
			"limit_offset",
			storage.WorkflowFilter{Limit: 2, Offset: 1},
			[]string{wfs[2].ID, wfs[1].ID},
		},
		{
			"offset_past_end",
			storage.WorkflowFilter{Offset: 10},
			nil,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			test.filter.TemplateID = tpl.ID
			list, err := s.RetrieveWorkflows(ctx, test.filter)
			if err != nil {
				t.Fatal(err)
			}
			have := ids(list)
			if len(have) != len(test.want) {
				t.Fatalf("have: %v, want: %v", have, test.want)
			}
			for i := range have {
				if have[i] != test.want[i] {
					t.Errorf("position %d: have: %v, want: %v", i, have[i], test.want[i])
				}
			}
		})
	}
}
