// Package main starts a lifecycle workflow server.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/magnab/lifecycle/engine"
	enginehttp "github.com/magnab/lifecycle/engine/http"
	"github.com/magnab/lifecycle/engine/storage"
	httplc "github.com/magnab/lifecycle/http"
	"github.com/magnab/lifecycle/log/logkeys"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "lifecycle"
	apiRealm    = "lifecycle"
)

func main() {
	var (
		flDebug   = flag.Bool("debug", false, "log debug messages")
		flListen  = flag.String("listen", ":9003", "HTTP listen address")
		flVersion = flag.Bool("version", false, "print version and exit")
		flDump    = flag.Bool("dump", false, "dump API requests to stdout")
		flAPIKey  = flag.String("api", "", "API key for API endpoints")
		flStorage = flag.String("storage", "file", "name of storage backend (inmem, file, mysql, pgsql)")
		flDSN     = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flSeed    = flag.String("seed", "", "path to YAML file of users and templates to load at startup")
		flDue     = flag.Duration("due", engine.DefaultDueInterval, "time allowed to finish an assigned task")
	)
	envflag.Parse("LIFECYCLE_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))
	ctx := context.Background()

	// configure storage
	st, closer, err := parseStorage(ctx, *flStorage, *flDSN)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	// configure the workflow engine
	e, err := newEngine(ctx, st, closer, *flSeed, *flDue, logger)
	if err != nil {
		logger.Info(logkeys.Message, "loading seed", "path", *flSeed, logkeys.Error, err)
		os.Exit(1)
	}
	defer closer()

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})

			enginehttp.HandleAPIv1("/v1", mux, logger, e)
		})
	} else {
		logger.Info(logkeys.Message, "no API key set: API endpoints are unauthenticated")
		enginehttp.HandleAPIv1("/v1", mux, logger, e)
	}

	var h http.Handler = mux
	if *flDump {
		h = httplc.DumpHandler(h, enginehttp.ActorHeader, os.Stdout)
	}

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(h, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

// newEngine creates the workflow engine over st and loads the seed file
// at seedPath, if any. The storage is closed with closer if seeding fails.
func newEngine(ctx context.Context, st storage.Storage, closer func(), seedPath string, due time.Duration, logger log.Logger) (*engine.Engine, error) {
	opts := []engine.Option{engine.WithLogger(logger.With("service", "engine"))}
	if due > 0 {
		opts = append(opts, engine.WithDueInterval(due))
	}
	e := engine.New(st, opts...)
	if seedPath == "" {
		return e, nil
	}
	if err := loadSeed(ctx, seedPath, e, logger.With("service", "seed")); err != nil {
		closer()
		return nil, err
	}
	return e, nil
}

// newTraceID generates a new HTTP trace ID for context logging.
// Currently this just makes a random string.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
