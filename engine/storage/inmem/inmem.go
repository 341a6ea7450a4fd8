// Package inmem implements a lifecycle engine storage backend using a map-based key-value store.
package inmem

import (
	"github.com/magnab/lifecycle/engine/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is an in-memory lifecycle engine storage backend.
type InMem struct {
	*kv.KV
}

func New() *InMem {
	return &InMem{KV: kv.New(kvmap.New())}
}
