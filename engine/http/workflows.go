package http

import (
	"net/http"
	"strconv"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/http/api"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// InitiateRequest is the body of a workflow initiation.
type InitiateRequest struct {
	TemplateID   string                  `json:"template_id"`
	Employee     *engine.EmployeeDetails `json:"employee"`
	CustomFields map[string]interface{}  `json:"custom_fields,omitempty"`
}

// StatusRequest is the body of a workflow or task status change.
type StatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// InitiateWorkflowHandler creates a HandlerFunc that instantiates a
// template into a workflow and assigns its first tasks.
func InitiateWorkflowHandler(m WorkflowManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(InitiateRequest)
		if !decode(w, r, logger, req) {
			return
		}
		logger = logger.With(logkeys.TemplateID, req.TemplateID, logkeys.ActorID, actorID)

		summary, err := m.InitiateWorkflow(r.Context(), req.TemplateID, req.Employee, req.CustomFields, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "initiating workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(
			logkeys.Message, "initiated workflow",
			logkeys.WorkflowID, summary.WorkflowID,
			logkeys.GenericCount, len(summary.Assigned),
		)
		respond(w, logger, summary, http.StatusCreated)
	}
}

// GetWorkflowHandler creates a HandlerFunc that returns JSON of a
// workflow with its tasks and history.
func GetWorkflowHandler(m WorkflowManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, id)

		d, err := m.Workflow(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, d, 0)
	}
}

// filterFromQuery reads a workflow filter from URL query parameters.
func filterFromQuery(r *http.Request) (storage.WorkflowFilter, error) {
	q := r.URL.Query()
	filter := storage.WorkflowFilter{
		Status:         workflow.WorkflowStatus(q.Get("status")),
		Kind:           workflow.Kind(q.Get("kind")),
		EmployeeName:   q.Get("employee"),
		AssignedUserID: q.Get("assigned_user"),
		TemplateID:     q.Get("template_id"),
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &filter.Limit},
		{"offset", &filter.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, workflow.NewValidationError("invalid %s: %q", p.name, v)
		}
		*p.dst = n
	}
	return filter, nil
}

// ListWorkflowsHandler creates a HandlerFunc that returns JSON of the
// workflows matching the query parameters, newest first.
func ListWorkflowsHandler(m WorkflowManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		filter, err := filterFromQuery(r)
		if err != nil {
			logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}

		wfs, err := m.Workflows(r.Context(), filter)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving workflows", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if wfs == nil {
			wfs = []*storage.Workflow{}
		}
		respond(w, logger, wfs, 0)
	}
}

// TransitionWorkflowHandler creates a HandlerFunc that changes the status of a workflow.
func TransitionWorkflowHandler(m WorkflowManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(StatusRequest)
		if !decode(w, r, logger, req) {
			return
		}
		logger = logger.With(logkeys.Status, req.Status, logkeys.ActorID, actorID)

		summary, err := m.TransitionWorkflow(r.Context(), id, workflow.WorkflowStatus(req.Status), actorID, req.Note)
		if err != nil {
			logger.Info(logkeys.Message, "transitioning workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, summary, 0)
	}
}

// AssignHandler creates a HandlerFunc that runs an assignment pass on a workflow.
func AssignHandler(m WorkflowManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, id)

		assigned, err := m.AssignReadyTasks(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "assigning tasks", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(logkeys.Message, "assigned tasks", logkeys.GenericCount, len(assigned))
		if assigned == nil {
			assigned = []engine.AssignmentResult{}
		}
		respond(w, logger, assigned, 0)
	}
}

// SummaryHandler creates a HandlerFunc that returns JSON of a workflow's state summary.
func SummaryHandler(m WorkflowManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.WorkflowID, id)

		summary, err := m.StateSummary(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "summarizing workflow", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, summary, 0)
	}
}
