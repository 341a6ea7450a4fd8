package http

import (
	"net/http"
	"strconv"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/http/api"
	"github.com/magnab/lifecycle/log/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// CreateTemplateHandler creates a HandlerFunc that creates a template from the JSON body.
func CreateTemplateHandler(m TemplateManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(engine.TemplateRequest)
		if !decode(w, r, logger, req) {
			return
		}
		logger = logger.With(logkeys.TemplateName, req.Name, logkeys.ActorID, actorID)

		t, err := m.CreateTemplate(r.Context(), req, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "creating template", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(logkeys.Message, "created template", logkeys.TemplateID, t.ID)
		respond(w, logger, t, http.StatusCreated)
	}
}

// UpdateTemplateHandler creates a HandlerFunc that replaces a template with the JSON body.
func UpdateTemplateHandler(m TemplateManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.TemplateID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}
		req := new(engine.TemplateRequest)
		if !decode(w, r, logger, req) {
			return
		}

		t, err := m.UpdateTemplate(r.Context(), id, req, actorID)
		if err != nil {
			logger.Info(logkeys.Message, "updating template", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, t, 0)
	}
}

// DeleteTemplateHandler creates a HandlerFunc that deactivates a template.
// With a true "purge" query parameter the template is removed instead.
func DeleteTemplateHandler(m TemplateManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.TemplateID, id)
		actorID, ok := actor(w, r, logger)
		if !ok {
			return
		}

		var purge bool
		if v := r.URL.Query().Get("purge"); v != "" {
			var err error
			if purge, err = strconv.ParseBool(v); err != nil {
				logger.Info(logkeys.Message, "parameters", logkeys.Error, err)
				api.JSONError(w, err, http.StatusBadRequest)
				return
			}
		}

		var err error
		if purge {
			err = m.PurgeTemplate(r.Context(), id, actorID)
		} else {
			err = m.DeleteTemplate(r.Context(), id, actorID)
		}
		if err != nil {
			logger.Info(logkeys.Message, "deleting template", "purge", purge, logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetTemplateHandler creates a HandlerFunc that returns JSON of a template.
func GetTemplateHandler(m TemplateManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := flow.Param(r.Context(), "id")
		logger := ctxlog.Logger(r.Context(), logger).With(logkeys.TemplateID, id)

		t, err := m.Template(r.Context(), id)
		if err != nil {
			logger.Info(logkeys.Message, "retrieving template", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		respond(w, logger, t, 0)
	}
}

// ListTemplatesHandler creates a HandlerFunc that returns JSON of all templates.
func ListTemplatesHandler(m TemplateManager, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)

		templates, err := m.Templates(r.Context())
		if err != nil {
			logger.Info(logkeys.Message, "retrieving templates", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		logger.Debug(logkeys.Message, "retrieved templates", logkeys.GenericCount, len(templates))
		if templates == nil {
			templates = []*storage.Template{}
		}
		respond(w, logger, templates, 0)
	}
}
