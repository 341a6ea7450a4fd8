package mysql

import (
	"os"
	"testing"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/engine/storage/test"
)

func TestMySQLStorage(t *testing.T) {
	testDSN := os.Getenv("LIFECYCLE_MYSQL_STORAGE_TEST_DSN")
	if testDSN == "" {
		t.Skip("LIFECYCLE_MYSQL_STORAGE_TEST_DSN not set")
	}

	// the database is expected to already have the schema loaded.
	// IDs and names are unique per run so the database can be re-used.
	s, err := New(WithDSN(testDSN))
	if err != nil {
		t.Fatal(err)
	}

	test.TestEngineStorage(t, func() storage.Storage { return s })
}

func TestSchemaEmbedded(t *testing.T) {
	if Schema == "" {
		t.Fatal("empty schema")
	}
}
