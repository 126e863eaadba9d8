package main

import (
	"flag"
	"fmt"
	"os"

	"txcat/internal/cli"
	"txcat/internal/core"
	"txcat/internal/dataset"
	logpkg "txcat/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(logpkg.ComponentStorage)

	file := flag.String("file", "", "labeled transactions CSV to import (default DATASET_PATH)")
	flag.Parse()

	cfg := cli.LoadAndValidateConfig(logger)
	path := *file
	if path == "" {
		path = cfg.DatasetPath
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		logger.Error("Failed to open CSV", logpkg.FieldError, err, "path", path)
		os.Exit(1)
	}
	defer f.Close()

	rows, err := dataset.ReadCSV(ctx, f, core.DefaultCategories)
	if err != nil {
		logger.Error("Failed to parse CSV", logpkg.FieldError, err, "path", path)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	n, err := repo.InsertLabeled(ctx, rows)
	if err != nil {
		logger.Error("Failed to import transactions", logpkg.FieldError, err)
		os.Exit(1)
	}

	counts, err := repo.CountByCategory(ctx)
	if err != nil {
		logger.Error("Failed to count transactions", logpkg.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Transactions imported",
		logpkg.FieldOperation, logpkg.OpImport,
		"path", path,
		"imported", n,
		"db_path", cfg.SQLiteDBPath)
	for _, c := range core.DefaultCategories {
		if counts[c] > 0 {
			fmt.Printf("%-14s %d\n", c, counts[c])
		}
	}
}
