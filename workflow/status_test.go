package workflow

import (
	"errors"
	"strings"
	"testing"
)

func TestCheckWorkflowTransition(t *testing.T) {
	all := []WorkflowStatus{WorkflowInitiated, WorkflowInProgress, WorkflowBlocked, WorkflowCompleted}
	allowed := map[[2]WorkflowStatus]bool{
		{WorkflowInitiated, WorkflowInProgress}: true,
		{WorkflowInProgress, WorkflowBlocked}:   true,
		{WorkflowBlocked, WorkflowInProgress}:   true,
		{WorkflowInProgress, WorkflowCompleted}: true,
	}
	for _, from := range all {
		for _, to := range all {
			err := CheckWorkflowTransition(from, to)
			if want := allowed[[2]WorkflowStatus{from, to}]; want != (err == nil) {
				t.Errorf("%s -> %s: have err: %v, want allowed: %v", from, to, err, want)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("%s -> %s: expected ErrValidation", from, to)
			}
		}
	}
}

func TestCheckTaskTransition(t *testing.T) {
	all := []TaskStatus{TaskNotStarted, TaskInProgress, TaskBlocked, TaskCompleted}
	allowed := map[[2]TaskStatus]bool{
		{TaskNotStarted, TaskInProgress}: true,
		{TaskInProgress, TaskBlocked}:    true,
		{TaskBlocked, TaskInProgress}:    true,
		{TaskInProgress, TaskCompleted}:  true,
	}
	for _, from := range all {
		for _, to := range all {
			err := CheckTaskTransition(from, to)
			if want := allowed[[2]TaskStatus{from, to}]; want != (err == nil) {
				t.Errorf("%s -> %s: have err: %v, want allowed: %v", from, to, err, want)
			}
		}
	}
}

func TestTransitionErrorNamesStatuses(t *testing.T) {
	err := CheckTaskTransition(TaskCompleted, TaskInProgress)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, s := range []string{"COMPLETED", "IN_PROGRESS"} {
		if !strings.Contains(err.Error(), s) {
			t.Errorf("error %q missing %s", err, s)
		}
	}
}

func TestValid(t *testing.T) {
	if !KindOffboarding.Valid() || Kind("HIRING").Valid() {
		t.Error("kind validity")
	}
	if !RoleTechSupport.Valid() || Role("").Valid() {
		t.Error("role validity")
	}
	if !WorkflowBlocked.Valid() || WorkflowStatus("DONE").Valid() {
		t.Error("workflow status validity")
	}
	if !TaskNotStarted.Valid() || TaskStatus("").Valid() {
		t.Error("task status validity")
	}
	if !TaskInProgress.Open() || TaskBlocked.Open() || TaskCompleted.Open() {
		t.Error("open statuses")
	}
}
