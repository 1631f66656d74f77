package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/collections_backend/config"
	"bitbucket.org/mmdatafocus/collections_backend/models"
)

// migrate applies AutoMigrate as a one-off job, for deployments that start
// the server with SKIP_MIGRATIONS=true.
func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "How long to wait for the database")
	flag.Parse()

	logger := config.NewLogger()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := config.ConnectDatabaseWithRetry(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database not reachable: %v\n", err)
		os.Exit(1)
	}
	if sqlDB, derr := db.DB(); derr == nil {
		defer sqlDB.Close()
	}

	if err := models.MigrateTable(db); err != nil {
		config.LogError(logger, "migrate", "main", "MigrateTable", nil, err)
		os.Exit(1)
	}
	logger.Info("migration finished")
}
