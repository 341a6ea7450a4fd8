/*
Package workflow defines the employee lifecycle workflow primitives.

# Templates

A template is a reusable, ordered list of tasks for one workflow kind
(onboarding or offboarding). Each task names the role that should carry
it out and a sequence order. Tasks sharing a sequence order form a
parallel group and must all carry the parallel flag. A task may
additionally depend on one earlier task of the same template.

Proposed task lists are checked and renumbered by ValidateAndNormalize
before they are stored. It is a pure function: nothing is persisted
until it succeeds.

# Statuses

Workflow instances and their task instances each move through a small
state machine. COMPLETED is terminal for both. Transition checks are
shared by CheckWorkflowTransition and CheckTaskTransition and return an
error wrapping ErrValidation for any move the machine does not allow.

# Errors

Errors are classified by three sentinels: ErrValidation, ErrNotFound and
ErrConflict. Use errors.Is to test for them; the wrapped message is
meant for humans.
*/
package workflow
