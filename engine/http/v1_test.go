package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/engine/storage/inmem"
	"github.com/magnab/lifecycle/utils/uuid"
	"github.com/magnab/lifecycle/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	e := engine.New(
		inmem.New(),
		engine.WithIDer(uuid.NewSequence("id")),
		engine.WithClock(func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }),
	)
	for _, u := range []*storage.User{
		{ID: "admin", Role: workflow.RoleAdministrator, Active: true},
		{ID: "hr-a", Role: workflow.RoleHRAdmin, Active: true},
		{ID: "it-a", Role: workflow.RoleTechSupport, Active: true},
	} {
		require.NoError(t, e.PutUser(context.Background(), u))
	}
	mux := flow.New()
	HandleAPIv1("/v1", mux, log.NopLogger, e)
	return mux
}

// do sends a request with a JSON body (if any) acting as actorID (if any).
func do(t *testing.T, h http.Handler, method, path, actorID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if actorID != "" {
		r.Header.Set(ActorHeader, actorID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

var testTemplate = &engine.TemplateRequest{
	Name: "Onboarding",
	Kind: workflow.KindOnboarding,
	Tasks: []workflow.TaskSpec{
		{Name: "Contract", Role: workflow.RoleHRAdmin, SequenceOrder: 1},
		{Name: "Laptop", Role: workflow.RoleTechSupport, SequenceOrder: 2},
	},
}

func TestTemplateEndpoints(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, "POST", "/v1/templates", "", testTemplate)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing actor")

	rec = do(t, h, "POST", "/v1/templates", "admin", testTemplate)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tpl storage.Template
	decodeBody(t, rec, &tpl)
	assert.True(t, tpl.Active)
	require.Len(t, tpl.Tasks, 2)

	rec = do(t, h, "POST", "/v1/templates", "admin", testTemplate)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "POST", "/v1/templates", "admin", &engine.TemplateRequest{Name: "Empty", Kind: workflow.KindOnboarding})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	r := httptest.NewRequest("POST", "/v1/templates", bytes.NewBufferString("{not json"))
	r.Header.Set(ActorHeader, "admin")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", "/v1/templates/"+tpl.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got storage.Template
	decodeBody(t, rec, &got)
	assert.Equal(t, tpl.Name, got.Name)

	rec = do(t, h, "GET", "/v1/templates/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	update := *testTemplate
	update.Description = "revised"
	rec = do(t, h, "PUT", "/v1/templates/"+tpl.ID, "admin", &update)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &got)
	assert.Equal(t, "revised", got.Description)

	rec = do(t, h, "GET", "/v1/templates", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []storage.Template
	decodeBody(t, rec, &list)
	assert.Len(t, list, 1)

	rec = do(t, h, "DELETE", "/v1/templates/"+tpl.ID+"?purge=maybe", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "DELETE", "/v1/templates/"+tpl.ID, "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, "DELETE", "/v1/templates/"+tpl.ID+"?purge=true", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, "GET", "/v1/templates/"+tpl.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkflowEndpoints(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, "POST", "/v1/templates", "admin", testTemplate)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tpl storage.Template
	decodeBody(t, rec, &tpl)

	rec = do(t, h, "POST", "/v1/workflows", "admin", &InitiateRequest{
		TemplateID: tpl.ID,
		Employee:   &engine.EmployeeDetails{Name: "Jane Doe", Email: "jane@example.com", Role: "Engineer"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var summary engine.CreationSummary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 2, summary.TotalTasks)
	assert.Equal(t, workflow.WorkflowInProgress, summary.Status)
	require.Len(t, summary.Assigned, 1)
	assert.Equal(t, "hr-a", summary.Assigned[0].UserID)

	rec = do(t, h, "POST", "/v1/workflows", "admin", &InitiateRequest{TemplateID: tpl.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing employee")

	rec = do(t, h, "GET", "/v1/workflows?status=IN_PROGRESS", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wfs []storage.Workflow
	decodeBody(t, rec, &wfs)
	require.Len(t, wfs, 1)
	assert.Equal(t, summary.WorkflowID, wfs[0].ID)

	rec = do(t, h, "GET", "/v1/workflows?status=COMPLETED", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, "GET", "/v1/workflows?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", "/v1/workflows/"+summary.WorkflowID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail engine.WorkflowDetail
	decodeBody(t, rec, &detail)
	require.Len(t, detail.Tasks, 2)
	assert.Len(t, detail.History, 2)
	contract := detail.Tasks[0]
	assert.Equal(t, "Contract", contract.Name)

	rec = do(t, h, "PUT", "/v1/tasks/"+contract.ID+"/checklist", "hr-a", &ChecklistRequest{
		Checklist: map[string]interface{}{"signed": true},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, "PUT", "/v1/tasks/"+contract.ID+"/status", "hr-a", &StatusRequest{Status: "COMPLETED"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var update engine.TaskUpdate
	decodeBody(t, rec, &update)
	require.Len(t, update.Assigned, 1)
	assert.Equal(t, "it-a", update.Assigned[0].UserID)

	rec = do(t, h, "PUT", "/v1/tasks/"+contract.ID+"/status", "hr-a", &StatusRequest{Status: "IN_PROGRESS"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "PUT", "/v1/tasks/nope/status", "hr-a", &StatusRequest{Status: "COMPLETED"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "POST", "/v1/workflows/"+summary.WorkflowID+"/assign", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = do(t, h, "DELETE", "/v1/templates/"+tpl.ID, "admin", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "PUT", "/v1/workflows/"+summary.WorkflowID+"/status", "admin", &StatusRequest{Status: "INITIATED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "PUT", "/v1/workflows/"+summary.WorkflowID+"/status", "admin", &StatusRequest{Status: "BLOCKED", Note: "on hold"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var state engine.StateSummary
	decodeBody(t, rec, &state)
	assert.Equal(t, workflow.WorkflowBlocked, state.Status)

	rec = do(t, h, "GET", "/v1/workflows/"+summary.WorkflowID+"/summary", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &state)
	assert.Equal(t, 1, state.TaskCounts[workflow.TaskCompleted])
	assert.Equal(t, 1, state.TaskCounts[workflow.TaskInProgress])

	rec = do(t, h, "GET", "/v1/workflows/nope/summary", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserEndpoints(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, "POST", "/v1/users", "", &engine.UserRequest{ID: "hr-b", Role: workflow.RoleHRAdmin})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing actor")

	rec = do(t, h, "POST", "/v1/users", "admin", &engine.UserRequest{ID: "hr-b", Role: workflow.RoleHRAdmin})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var u storage.User
	decodeBody(t, rec, &u)
	assert.True(t, u.Active)

	rec = do(t, h, "POST", "/v1/users", "admin", &engine.UserRequest{ID: "hr-b", Role: workflow.RoleHRAdmin})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, "POST", "/v1/users", "admin", &engine.UserRequest{ID: "x", Role: "JANITOR"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "GET", "/v1/users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []storage.User
	decodeBody(t, rec, &list)
	require.Len(t, list, 4)
	assert.Equal(t, "hr-b", list[2].ID)

	email := "hr-b@example.com"
	rec = do(t, h, "PUT", "/v1/users/hr-b", "admin", &engine.UserUpdate{Email: &email})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, "GET", "/v1/users/hr-b", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &u)
	assert.Equal(t, email, u.Email)

	rec = do(t, h, "GET", "/v1/users/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "DELETE", "/v1/users/hr-a", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &u)
	assert.False(t, u.Active)

	rec = do(t, h, "DELETE", "/v1/users/nope", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// hr-a is inactive so hr-b gets the work
	rec = do(t, h, "POST", "/v1/templates", "admin", testTemplate)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tpl storage.Template
	decodeBody(t, rec, &tpl)

	rec = do(t, h, "POST", "/v1/workflows", "admin", &InitiateRequest{
		TemplateID: tpl.ID,
		Employee:   &engine.EmployeeDetails{Name: "Jane Doe", Email: "jane@example.com", Role: "Engineer"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var summary engine.CreationSummary
	decodeBody(t, rec, &summary)
	require.Len(t, summary.Assigned, 1)
	assert.Equal(t, "hr-b", summary.Assigned[0].UserID)
}
