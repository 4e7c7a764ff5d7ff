// Command reindex drops and rebuilds the full-text search projection. Safe
// to run against a live database; the projection is derived state.
package main

import (
	"fmt"
	"os"

	"github.com/podsight/backend/internal/data/db"
	"github.com/podsight/backend/internal/pkg/envutil"
	"github.com/podsight/backend/internal/pkg/logger"
)

func main() {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbs, err := db.New(log)
	if err != nil {
		log.Error("db init failed", "error", err)
		os.Exit(1)
	}
	if !dbs.Postgres() {
		log.Warn("search projection only exists on postgres, nothing to do")
		return
	}
	if err := db.RebuildSearchIndexes(dbs.DB()); err != nil {
		log.Error("rebuild failed", "error", err)
		os.Exit(1)
	}
	log.Info("search projection rebuilt")
}
