// Package uuid generates record identifiers.
package uuid

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// IDer generates identifiers for new records.
type IDer interface {
	ID() string
}

// UUID generates random (version 4) UUID strings.
type UUID struct{}

// NewUUID creates a new UUID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// ID returns a new random UUID string.
func (u *UUID) ID() string {
	return uuid.NewString()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// StaticIDs hands out a fixed list of IDs, cycling when exhausted.
// Mostly useful for deterministic tests.
type StaticIDs struct {
	mu  sync.Mutex
	ids []string
	i   int
}

// NewStaticIDs creates a generator cycling through ids.
func NewStaticIDs(ids ...string) *StaticIDs {
	return &StaticIDs{ids: ids}
}

// ID returns the next ID.
func (s *StaticIDs) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[s.i%len(s.ids)]
	s.i++
	return id
}

// Sequence generates "<prefix>-1", "<prefix>-2", and so on.
// Unlike StaticIDs the IDs never repeat.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a new sequential ID generator.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// ID returns the next ID in the sequence.
func (s *Sequence) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.prefix + "-" + strconv.Itoa(s.n)
}
