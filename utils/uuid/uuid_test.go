package uuid

import (
	"testing"
)

func TestUUIDUnique(t *testing.T) {
	u := NewUUID()
	if u.ID() == u.ID() {
		t.Error("UUIDs are not unique")
	}
}

func TestValid(t *testing.T) {
	if !Valid(NewUUID().ID()) {
		t.Error("generated UUID not valid")
	}
	for _, id := range []string{"", "abc", "hr-alice"} {
		if Valid(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestStaticIDs(t *testing.T) {
	u := NewStaticIDs("A", "B")
	for _, expected := range []string{"A", "B", "A", "B", "A"} {
		if have, want := u.ID(), expected; have != want {
			t.Errorf("unexpected ID: have: %v, want: %v", have, want)
		}
	}
}

func TestSequence(t *testing.T) {
	s := NewSequence("wf")
	for _, expected := range []string{"wf-1", "wf-2", "wf-3"} {
		if have, want := s.ID(), expected; have != want {
			t.Errorf("unexpected ID: have: %v, want: %v", have, want)
		}
	}
}
