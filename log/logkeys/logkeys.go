// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	TemplateID   = "template_id"
	TemplateName = "template_name"
	WorkflowID   = "workflow_id"
	TaskID       = "task_id"

	// the acting user of an operation
	ActorID = "actor_id"

	// a user a task was (or could not be) assigned to
	UserID = "user_id"
	Role   = "role"

	Status     = "status"
	PrevStatus = "prev_status"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
