package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/magnab/lifecycle/engine"
	"github.com/magnab/lifecycle/engine/storage/inmem"
	"github.com/magnab/lifecycle/workflow"

	"github.com/micromdm/nanolib/log"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	b, err := os.ReadFile("testdata/seed.yaml")
	if err != nil {
		t.Fatal(err)
	}
	s, err := parseSeed(b)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(s.Users), 5; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	if have, want := s.Templates[0].Tasks[2].DependsOn, "contract"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	store := inmem.New()
	e := engine.New(store)
	if err = s.apply(ctx, e, log.NopLogger); err != nil {
		t.Fatal(err)
	}
	// loading twice skips existing templates
	if err = s.apply(ctx, e, log.NopLogger); err != nil {
		t.Fatal(err)
	}

	templates, err := e.Templates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(templates), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	for _, tpl := range templates {
		switch tpl.Name {
		case "Standard Onboarding":
			if !tpl.Active {
				t.Error("expected active onboarding template")
			}
			if have, want := len(tpl.Tasks), 4; have != want {
				t.Errorf("have: %v, want: %v", have, want)
			}
		case "Standard Offboarding":
			if tpl.Active {
				t.Error("expected inactive offboarding template")
			}
		default:
			t.Errorf("unexpected template: %s", tpl.Name)
		}
	}

	u, err := store.RetrieveUser(ctx, "hr-old")
	if err != nil {
		t.Fatal(err)
	}
	if u.Active {
		t.Error("expected inactive user")
	}
	users, err := store.RetrieveActiveUsersByRole(ctx, workflow.RoleHRAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(users), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestParseSeedRequiresActor(t *testing.T) {
	_, err := parseSeed([]byte("templates:\n  - name: x\n    kind: ONBOARDING\n"))
	if err == nil {
		t.Error("expected error")
	}
}

func TestParseStorage(t *testing.T) {
	s, closer, err := parseStorage(context.Background(), "inmem", "")
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if s == nil {
		t.Error("nil storage")
	}
	if _, _, err = parseStorage(context.Background(), "etcd", ""); err == nil {
		t.Error("expected error for unknown storage")
	}
}

func TestNewEngineClosesStorageOnSeedError(t *testing.T) {
	ctx := context.Background()
	var closed int
	closer := func() { closed++ }

	_, err := newEngine(ctx, inmem.New(), closer, "testdata/missing.yaml", 0, log.NopLogger)
	if err == nil {
		t.Fatal("expected error")
	}
	if have, want := closed, 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	closed = 0
	e, err := newEngine(ctx, inmem.New(), closer, "testdata/seed.yaml", time.Hour, log.NopLogger)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := closed, 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, err = e.User(ctx, "admin"); err != nil {
		t.Error(err)
	}
}
