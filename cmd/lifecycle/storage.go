package main

import (
	"context"
	"fmt"

	"github.com/magnab/lifecycle/engine/storage"
	"github.com/magnab/lifecycle/engine/storage/diskv"
	"github.com/magnab/lifecycle/engine/storage/inmem"
	"github.com/magnab/lifecycle/engine/storage/mysql"
	"github.com/magnab/lifecycle/engine/storage/pgsql"
)

// parseStorage opens the named storage backend.
// The returned func releases the backend's resources.
func parseStorage(ctx context.Context, name, dsn string) (storage.Storage, func(), error) {
	nop := func() {}
	switch name {
	case "inmem":
		return inmem.New(), nop, nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		return diskv.New(dsn), nop, nil
	case "mysql":
		s, err := mysql.New(mysql.WithDSN(dsn))
		if err != nil {
			return nil, nil, fmt.Errorf("creating mysql storage: %w", err)
		}
		return s, nop, nil
	case "pgsql":
		s, err := pgsql.New(ctx, pgsql.WithDSN(dsn))
		if err != nil {
			return nil, nil, fmt.Errorf("creating pgsql storage: %w", err)
		}
		if err = s.Migrate(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("migrating pgsql schema: %w", err)
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage: %s", name)
}
