package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"txcat/internal/artifactstore"
	"txcat/internal/cli"
	"txcat/internal/dataset"
	logpkg "txcat/internal/log"
	"txcat/internal/model"
	"txcat/internal/storage"
	"txcat/internal/trainer"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(logpkg.ComponentTrainer)

	source := flag.String("source", "", "dataset source override (csv, sqlite, bigquery, sheets)")
	path := flag.String("dataset", "", "CSV dataset path override")
	out := flag.String("out", "", "artifact location override (path or gs://bucket/object)")
	printReport := flag.Bool("report", false, "print the training report as JSON on stdout")
	history := flag.Int("history", 0, "list the last N recorded training runs and exit")
	flag.Parse()

	if *source != "" {
		os.Setenv("DATASET_SOURCE", *source)
	}
	if *path != "" {
		os.Setenv("DATASET_PATH", *path)
	}
	if *out != "" {
		os.Setenv("MODEL_ARTIFACT_LOCATION", *out)
	}
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	if *history > 0 {
		listRuns(ctx, logger, cfg.SQLiteDBPath, *history)
		return
	}

	src, cleanup, err := dataset.Open(ctx, cfg.DatasetConfig())
	if err != nil {
		logger.Error("Failed to open dataset", logpkg.FieldError, err, "source", cfg.DatasetSource)
		os.Exit(1)
	}
	if cleanup != nil {
		defer func() {
			if err := cleanup(); err != nil {
				logger.Warn("Dataset cleanup failed", logpkg.FieldError, err)
			}
		}()
	}

	rows, err := src.Load(ctx)
	if err != nil {
		logger.Error("Failed to load dataset", logpkg.FieldError, err, "source", src.Name())
		os.Exit(1)
	}
	logger.Info("Dataset loaded", "source", src.Name(), "rows", len(rows))

	res, err := trainer.Train(ctx, rows, cfg.TrainerConfig())
	if err != nil {
		logger.Error("Training failed", logpkg.FieldError, err)
		os.Exit(1)
	}
	defer res.Artifact.Pipeline.Close()
	report := res.Report

	data, err := model.Marshal(res.Artifact)
	if err != nil {
		logger.Error("Failed to serialize model artifact", logpkg.FieldError, err)
		os.Exit(1)
	}
	store, err := artifactstore.Open(cfg.ModelArtifactLocation)
	if err != nil {
		logger.Error("Invalid model artifact location", logpkg.FieldError, err)
		os.Exit(1)
	}
	if err := store.Save(ctx, data); err != nil {
		logger.Error("Failed to save model artifact", logpkg.FieldError, err, logpkg.FieldLocation, store.Location())
		os.Exit(1)
	}

	candidates, err := json.Marshal(report.Candidates)
	if err != nil {
		logger.Error("Failed to encode candidate scores", logpkg.FieldError, err)
		os.Exit(1)
	}
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()
	run := storage.TrainingRun{
		ID:               uuid.NewString(),
		ModelVersion:     report.ModelVersion,
		Classifier:       report.Classifier,
		SelectionPolicy:  string(report.Policy),
		SelectionScore:   report.SelectionScore,
		HeldoutAccuracy:  report.HeldoutAccuracy,
		TrainSize:        report.TrainSize,
		TestSize:         report.TestSize,
		SkippedRows:      report.SkippedRows,
		Candidates:       candidates,
		ArtifactLocation: store.Location(),
	}
	if prev, err := repo.LatestTrainingRun(ctx); err == nil {
		logger.Info("Previous model",
			logpkg.FieldModelVersion, prev.ModelVersion,
			logpkg.FieldClassifier, prev.Classifier,
			logpkg.FieldAccuracy, prev.HeldoutAccuracy,
			"accuracy_delta", report.HeldoutAccuracy-prev.HeldoutAccuracy)
	} else if !errors.Is(err, storage.ErrNoTrainingRuns) {
		logger.Warn("Failed to read previous training run", logpkg.FieldError, err)
	}
	if err := repo.RecordTrainingRun(ctx, run); err != nil {
		// The artifact is already published; losing the history row is not fatal.
		logger.Warn("Failed to record training run", logpkg.FieldError, err)
	}

	logger.Info("Model trained and saved",
		logpkg.FieldModelVersion, report.ModelVersion,
		logpkg.FieldClassifier, report.Classifier,
		logpkg.FieldAccuracy, report.HeldoutAccuracy,
		"selection_policy", report.Policy,
		"skipped_rows", report.SkippedRows,
		logpkg.FieldLocation, store.Location(),
		logpkg.FieldDuration, report.Duration.Milliseconds())

	if *printReport {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintln(os.Stderr, "encode report:", err)
			os.Exit(1)
		}
	}
}

func listRuns(ctx context.Context, logger *logpkg.Logger, dbPath string, limit int) {
	repo := cli.InitSQLite(logger, dbPath)
	defer repo.Close()

	runs, err := repo.ListTrainingRuns(ctx, limit)
	if err != nil {
		logger.Error("Failed to list training runs", logpkg.FieldError, err)
		return
	}
	if len(runs) == 0 {
		fmt.Println("no training runs recorded")
		return
	}
	for _, r := range runs {
		fmt.Printf("%s  %-28s %-9s %-8s heldout=%.4f train=%d test=%d skipped=%d  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.ModelVersion, r.Classifier,
			r.SelectionPolicy, r.HeldoutAccuracy, r.TrainSize, r.TestSize, r.SkippedRows,
			r.ArtifactLocation)
	}
}
