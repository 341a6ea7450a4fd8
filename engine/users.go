package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// UserRequest is a proposed user.
// Users are active unless the request says otherwise.
type UserRequest struct {
	ID     string        `json:"id"`
	Email  string        `json:"email,omitempty"`
	Role   workflow.Role `json:"role"`
	Active *bool         `json:"active,omitempty"`
}

// UserUpdate changes some fields of a user.
// Nil fields are left as they are.
type UserUpdate struct {
	Email  *string        `json:"email,omitempty"`
	Role   *workflow.Role `json:"role,omitempty"`
	Active *bool          `json:"active,omitempty"`
}

func validateUser(u *storage.User) error {
	if u == nil || u.ID == "" {
		return workflow.NewValidationError("user id required")
	}
	if !u.Role.Valid() {
		return workflow.NewValidationError("user %s: invalid role: %q", u.ID, u.Role)
	}
	return nil
}

// PutUser creates or replaces a user in the user directory.
// No actor is checked; this exists to seed the directory.
func (e *Engine) PutUser(ctx context.Context, u *storage.User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.StoreUser(ctx, u)
	})
	if err != nil {
		return fmt.Errorf("storing user: %w", err)
	}
	ctxlog.Logger(ctx, e.logger).Debug(
		logkeys.Message, "stored user",
		logkeys.UserID, u.ID,
		logkeys.Role, u.Role,
	)
	return nil
}

// CreateUser adds a new user to the user directory.
func (e *Engine) CreateUser(ctx context.Context, req *UserRequest, actorID string) (*storage.User, error) {
	if req == nil {
		return nil, workflow.NewValidationError("empty user")
	}
	u := &storage.User{
		ID:     req.ID,
		Email:  req.Email,
		Role:   req.Role,
		Active: req.Active == nil || *req.Active,
	}
	if err := validateUser(u); err != nil {
		return nil, err
	}
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		_, err := tx.RetrieveUser(ctx, u.ID)
		if err == nil {
			return workflow.NewConflictError("user already exists: %s", u.ID)
		} else if !errors.Is(err, workflow.ErrNotFound) {
			return fmt.Errorf("retrieving user: %w", err)
		}
		if err = tx.StoreUser(ctx, u); err != nil {
			return fmt.Errorf("storing user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctxlog.Logger(ctx, e.logger).Info(
		logkeys.Message, "created user",
		logkeys.UserID, u.ID,
		logkeys.Role, u.Role,
		logkeys.ActorID, actorID,
	)
	return u, nil
}

// UpdateUser changes the user with id.
// Tasks already assigned to the user stay assigned; a role change or
// deactivation only affects later assignment passes.
func (e *Engine) UpdateUser(ctx context.Context, id string, req *UserUpdate, actorID string) (*storage.User, error) {
	if req == nil {
		return nil, workflow.NewValidationError("empty user update")
	}
	if req.Role != nil && !req.Role.Valid() {
		return nil, workflow.NewValidationError("user %s: invalid role: %q", id, *req.Role)
	}
	var u *storage.User
	err := e.storage.Tx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := retrieveActor(ctx, tx, actorID); err != nil {
			return err
		}
		var err error
		if u, err = tx.RetrieveUser(ctx, id); err != nil {
			return fmt.Errorf("retrieving user: %w", err)
		}
		if req.Email != nil {
			u.Email = *req.Email
		}
		if req.Role != nil {
			u.Role = *req.Role
		}
		if req.Active != nil {
			u.Active = *req.Active
		}
		if err = tx.StoreUser(ctx, u); err != nil {
			return fmt.Errorf("storing user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctxlog.Logger(ctx, e.logger).Info(
		logkeys.Message, "updated user",
		logkeys.UserID, u.ID,
		logkeys.Role, u.Role,
		"active", u.Active,
		logkeys.ActorID, actorID,
	)
	return u, nil
}

// DeactivateUser marks the user with id inactive.
// Inactive users receive no further assignments.
func (e *Engine) DeactivateUser(ctx context.Context, id, actorID string) (*storage.User, error) {
	inactive := false
	return e.UpdateUser(ctx, id, &UserUpdate{Active: &inactive}, actorID)
}

// User retrieves the user with id.
func (e *Engine) User(ctx context.Context, id string) (*storage.User, error) {
	u, err := e.storage.RetrieveUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving user: %w", err)
	}
	return u, nil
}

// Users retrieves all users, inactive ones included.
func (e *Engine) Users(ctx context.Context) ([]*storage.User, error) {
	u, err := e.storage.RetrieveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieving users: %w", err)
	}
	return u, nil
}
