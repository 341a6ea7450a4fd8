package workflow

// Kind is the kind of employee lifecycle event a workflow handles.
type Kind string

const (
	KindOnboarding  Kind = "ONBOARDING"
	KindOffboarding Kind = "OFFBOARDING"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindOnboarding || k == KindOffboarding
}

// Role is the role a user holds and a task requires.
type Role string

const (
	RoleHRAdmin       Role = "HR_ADMIN"
	RoleLineManager   Role = "LINE_MANAGER"
	RoleTechSupport   Role = "TECH_SUPPORT"
	RoleAdministrator Role = "ADMINISTRATOR"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleHRAdmin, RoleLineManager, RoleTechSupport, RoleAdministrator:
		return true
	}
	return false
}

// WorkflowStatus is the status of a workflow instance.
type WorkflowStatus string

const (
	WorkflowInitiated  WorkflowStatus = "INITIATED"
	WorkflowInProgress WorkflowStatus = "IN_PROGRESS"
	WorkflowBlocked    WorkflowStatus = "BLOCKED"
	WorkflowCompleted  WorkflowStatus = "COMPLETED"
)

var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowInitiated:  {WorkflowInProgress},
	WorkflowInProgress: {WorkflowBlocked, WorkflowCompleted},
	WorkflowBlocked:    {WorkflowInProgress},
}

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowInitiated, WorkflowInProgress, WorkflowBlocked, WorkflowCompleted:
		return true
	}
	return false
}

// CheckWorkflowTransition returns an error if a workflow may not move from current to next.
func CheckWorkflowTransition(current, next WorkflowStatus) error {
	return checkTransition("workflow", workflowTransitions, current, next)
}

// TaskStatus is the status of a task instance.
type TaskStatus string

const (
	TaskNotStarted TaskStatus = "NOT_STARTED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskCompleted  TaskStatus = "COMPLETED"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskNotStarted: {TaskInProgress},
	TaskInProgress: {TaskBlocked, TaskCompleted},
	TaskBlocked:    {TaskInProgress},
}

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskNotStarted, TaskInProgress, TaskBlocked, TaskCompleted:
		return true
	}
	return false
}

// Open reports whether a task in status s counts toward its assignee's load.
func (s TaskStatus) Open() bool {
	return s == TaskNotStarted || s == TaskInProgress
}

// CheckTaskTransition returns an error if a task may not move from current to next.
func CheckTaskTransition(current, next TaskStatus) error {
	return checkTransition("task", taskTransitions, current, next)
}

// checkTransition looks up next in the allowed transitions of current.
// Statuses without an entry in table (i.e. COMPLETED) are terminal.
func checkTransition[S ~string](name string, table map[S][]S, current, next S) error {
	for _, allowed := range table[current] {
		if allowed == next {
			return nil
		}
	}
	return NewValidationError("invalid %s status transition from %s to %s", name, current, next)
}
