package http

import (
	"net/http"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/http/api"
	"github.com/magnab/lifecycle/log/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// CreateUserHandler creates a HandlerFunc that adds a user from the JSON body.
func CreateUserHandler(m UserManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(engine.UserRequest)
		if !decode(w, r, logger, req) {
			return
		}
		logger = logger.With(logkeys.UserID, req.ID, logkeys.ActorID, actorID)

		u, err := m.CreateUser(r.Context(), req, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "creating user", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, u, http.StatusCreated)
	}
}

// UpdateUserHandler creates a HandlerFunc that changes a user with the JSON body.
func UpdateUserHandler(m UserManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.UserID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(engine.UserUpdate)
		if !decode(w, r, logger, req) {
			return
		}

		u, err := m.UpdateUser(r.Context(), id, req, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "updating user", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, u, 0)
	}
}

// DeactivateUserHandler creates a HandlerFunc that deactivates a user.
// Users are never removed.
func DeactivateUserHandler(m UserManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.UserID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}

		u, err := m.DeactivateUser(r.Context(), id, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "deactivating user", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, u, 0)
	}
}

// GetUserHandler creates a HandlerFunc that returns JSON of a user.
func GetUserHandler(m UserManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.UserID, id)

		u, err := m.User(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving user", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, u, 0)
	}
}

// ListUsersHandler creates a HandlerFunc that returns JSON of all users.
func ListUsersHandler(m UserManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		users, err := m.Users(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "retrieving users", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(logkeys.Message, "retrieved users", logkeys.GenericCount, len(users))
		if users == nil {
			users = []*storage.User{}
		}
		respond(w, logger, users, 0)
	}
}
