// Package http contains HTTP handlers that work with the lifecycle engine.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/http/api"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log"
)

// ActorHeader carries the identifier of the acting user.
const ActorHeader = "X-Actor-ID"

var ErrNoActor = errors.New("missing " + ActorHeader + " header")

type TemplateManager interface {
	CreateTemplate(ctx context.Context, req *engine.TemplateRequest, actorID string) (*storage.Template, error)
	UpdateTemplate(ctx context.Context, id string, req *engine.TemplateRequest, actorID string) (*storage.Template, error)
	DeleteTemplate(ctx context.Context, id, actorID string) error
	PurgeTemplate(ctx context.Context, id, actorID string) error
	Template(ctx context.Context, id string) (*storage.Template, error)
	Templates(ctx context.Context) ([]*storage.Template, error)
}

type WorkflowManager interface {
	InitiateWorkflow(ctx context.Context, templateID string, details *engine.EmployeeDetails, customFields map[string]interface{}, actorID string) (*engine.CreationSummary, error)
	Workflow(ctx context.Context, id string) (*engine.WorkflowDetail, error)
	Workflows(ctx context.Context, filter storage.WorkflowFilter) ([]*storage.Workflow, error)
	TransitionWorkflow(ctx context.Context, workflowID string, next workflow.WorkflowStatus, actorID, note string) (*engine.StateSummary, error)
	AssignReadyTasks(ctx context.Context, workflowID string) ([]engine.AssignmentResult, error)
	StateSummary(ctx context.Context, id string) (*engine.StateSummary, error)
}

type TaskManager interface {
	TransitionTask(ctx context.Context, taskID string, next workflow.TaskStatus, actorID string) (*engine.TaskUpdate, error)
	UpdateChecklist(ctx context.Context, taskID string, checklist map[string]interface{}, actorID string) (*storage.Task, error)
}

type UserManager interface {
	CreateUser(ctx context.Context, req *engine.UserRequest, actorID string) (*storage.User, error)
	UpdateUser(ctx context.Context, id string, req *engine.UserUpdate, actorID string) (*storage.User, error)
	DeactivateUser(ctx context.Context, id, actorID string) (*storage.User, error)
	User(ctx context.Context, id string) (*storage.User, error)
	Users(ctx context.Context) ([]*storage.User, error)
}

// actor returns the acting user of r.
// An error response is written and false returned if there is none.
func actor(w http.ResponseWriter, r *http.Request, logger log.Logger) (string, bool) {
	actorID := r.Header.Get(ActorHeader)
	if actorID == "" {
		logger.Info(logkeys.Message, "parameters", logkeys.Error, ErrNoActor)
		api.JSONError(w, ErrNoActor, http.StatusBadRequest)
		return "", false
	}
	return actorID, true
}

// decode reads the JSON body of r into v.
// An error response is written and false returned on failure.
func decode(w http.ResponseWriter, r *http.Request, logger log.Logger, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logger.Info(logkeys.Message, "decoding json body", logkeys.Error, err)
		api.JSONError(w, err, http.StatusBadRequest)
		return false
	}
	return true
}

// respond writes v as JSON, logging any encoding error.
func respond(w http.ResponseWriter, logger log.Logger, v interface{}, statusCode int) {
	if err := api.JSON(w, v, statusCode); err != nil {
		logger.Info(logkeys.Message, "encoding json response", logkeys.Error, err)
	}
}
