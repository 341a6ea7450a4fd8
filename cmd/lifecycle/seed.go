package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/log/logkeys"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log"
	"gopkg.in/yaml.v3"
)

type seedUser struct {
	ID     string        `yaml:"id"`
	Email  string        `yaml:"email"`
	Role   workflow.Role `yaml:"role"`
	Active *bool         `yaml:"active"`
}

// seed is the startup data file.
// Templates are created by actor, which must be one of the users.
type seed struct {
	Actor     string                   `yaml:"actor"`
	Users     []seedUser               `yaml:"users"`
	Templates []engine.TemplateRequest `yaml:"templates"`
}

func parseSeed(b []byte) (*seed, error) {
	s := new(seed)
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, err
	}
	if len(s.Templates) > 0 && s.Actor == "" {
		return nil, errors.New("seed actor required to create templates")
	}
	return s, nil
}

// apply stores the users and creates the templates.
// Templates whose name is already taken are skipped so a seed can be
// loaded on every start.
func (s *seed) apply(ctx context.Context, e *engine.Engine, logger log.Logger) error {
	for _, u := range s.Users {
		err := e.PutUser(ctx, &storage.User{
			ID:     u.ID,
			Email:  u.Email,
			Role:   u.Role,
			Active: u.Active == nil || *u.Active,
		})
		if err != nil {
			return fmt.Errorf("seeding user %s: %w", u.ID, err)
		}
	}
	created := 0
	for i := range s.Templates {
		req := &s.Templates[i]
		_, err := e.CreateTemplate(ctx, req, s.Actor)
		if errors.Is(err, workflow.ErrConflict) {
			logger.Debug(logkeys.Message, "template exists", logkeys.TemplateName, req.Name)
			continue
		} else if err != nil {
			return fmt.Errorf("seeding template %q: %w", req.Name, err)
		}
		created++
	}
	logger.Info(
		logkeys.Message, "seeded",
		"users", len(s.Users),
		"templates", created,
	)
	return nil
}

// loadSeed reads the seed file at path and applies it.
func loadSeed(ctx context.Context, path string, e *engine.Engine, logger log.Logger) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s, err := parseSeed(b)
	if err != nil {
		return fmt.Errorf("parsing seed: %w", err)
	}
	return s.apply(ctx, e, logger)
}
