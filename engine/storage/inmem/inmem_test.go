package inmem

import (
	"testing"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/engine/storage/test"
)

func TestInmemStorage(t *testing.T) {
	test.TestEngineStorage(t, func() storage.Storage { return New() })
}
