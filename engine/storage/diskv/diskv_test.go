package diskv

import (
	"testing"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/engine/storage/test"
)

func TestDiskvStorage(t *testing.T) {
	test.TestEngineStorage(t, func() storage.Storage { return New(t.TempDir()) })
}
