package http

import (
	"net/http"

	"github.com/micromdm/nanolib/log"
)

type APIEngine interface {
	TemplateManager
	WorkflowManager
	TaskManager
	UserManager
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the various API handlers into mux.
// API endpoint paths are prepended with prefix.
// Authentication or any other layered handlers are not present.
// They are assumed to be layered with mux, possibly at the Handle call.
// If prefix is empty and these handlers are used in sub-paths then
// handlers should have that sub-path stripped from the request.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, e APIEngine) {
	// templates

	mux.Handle(
		prefix+"/templates",
		CreateTemplateHandler(e, logger.With("handler", "create template")),
		"POST",
	)
	mux.Handle(
		prefix+"/templates",
		ListTemplatesHandler(e, logger.With("handler", "list templates")),
		"GET",
	)
	mux.Handle(
		prefix+"/templates/:id",
		GetTemplateHandler(e, logger.With("handler", "get template")),
		"GET",
	)
	mux.Handle(
		prefix+"/templates/:id",
		UpdateTemplateHandler(e, logger.With("handler", "update template")),
		"PUT",
	)
	mux.Handle(
		prefix+"/templates/:id",
		DeleteTemplateHandler(e, logger.With("handler", "delete template")),
		"DELETE",
	)

	// workflows

	mux.Handle(
		prefix+"/workflows",
		InitiateWorkflowHandler(e, logger.With("handler", "initiate workflow")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows",
		ListWorkflowsHandler(e, logger.With("handler", "list workflows")),
		"GET",
	)
	mux.Handle(
		prefix+"/workflows/:id",
		GetWorkflowHandler(e, logger.With("handler", "get workflow")),
		"GET",
	)
	mux.Handle(
		prefix+"/workflows/:id/status",
		TransitionWorkflowHandler(e, logger.With("handler", "transition workflow")),
		"PUT",
	)
	mux.Handle(
		prefix+"/workflows/:id/assign",
		AssignHandler(e, logger.With("handler", "assign tasks")),
		"POST",
	)
	mux.Handle(
		prefix+"/workflows/:id/summary",
		SummaryHandler(e, logger.With("handler", "workflow summary")),
		"GET",
	)

	// tasks

	mux.Handle(
		prefix+"/tasks/:id/status",
		TransitionTaskHandler(e, logger.With("handler", "transition task")),
		"PUT",
	)
	mux.Handle(
		prefix+"/tasks/:id/checklist",
		UpdateChecklistHandler(e, logger.With("handler", "update checklist")),
		"PUT",
	)

	// users

	mux.Handle(
		prefix+"/users",
		CreateUserHandler(e, logger.With("handler", "create user")),
		"POST",
	)
	mux.Handle(
		prefix+"/users",
		ListUsersHandler(e, logger.With("handler", "list users")),
		"GET",
	)
	mux.Handle(
		prefix+"/users/:id",
		GetUserHandler(e, logger.With("handler", "get user")),
		"GET",
	)
	mux.Handle(
		prefix+"/users/:id",
		UpdateUserHandler(e, logger.With("handler", "update user")),
		"PUT",
	)
	mux.Handle(
		prefix+"/users/:id",
		DeactivateUserHandler(e, logger.With("handler", "deactivate user")),
		"DELETE",
	)
}
