package http

import (
	"net/http"

	"github.com/magnab/lifecycle/http/api"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// ChecklistRequest is the body of a checklist update.
type ChecklistRequest struct {
	Checklist map[string]interface{} `json:"checklist"`
}

// TransitionTaskHandler creates a HandlerFunc that changes the status of a task.
func TransitionTaskHandler(m TaskManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.TaskID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(StatusRequest)
		if !decode(w, r, logger, req) {
			return
		}
		logger = logger.With(logkeys.Status, req.Status, logkeys.ActorID, actorID)

		update, err := m.TransitionTask(r.Context(), id, workflow.TaskStatus(req.Status), actorID)
		if err != nil {
			logger.Info(logkeys.Message, "transitioning task", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(
			logkeys.Message, "transitioned task",
			logkeys.WorkflowID, update.Task.WorkflowID,
			logkeys.GenericCount, len(update.Assigned),
		)
		respond(w, logger, update, 0)
	}
}

// UpdateChecklistHandler creates a HandlerFunc that stores a task's checklist.
func UpdateChecklistHandler(m TaskManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.TaskID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(ChecklistRequest)
		if !decode(w, r, logger, req) {
			return
		}

		task, err := m.UpdateChecklist(r.Context(), id, req.Checklist, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "updating checklist", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, task, 0)
	}
}
