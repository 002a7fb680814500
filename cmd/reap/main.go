package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonops/opsml-backend/internal/app"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
)

// reap fails runs stuck in running longer than the cutoff, so a crashed
// pipeline process cannot leave the ledger claiming work is still in flight.
func main() {
	var (
		olderThan = flag.Duration("older-than", 24*time.Hour, "running runs started earlier than this are reaped")
		limit     = flag.Int("limit", 100, "max runs to reap per kind")
		dryRun    = flag.Bool("dry-run", false, "list stale runs without failing them")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *olderThan, *limit, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "reap: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, olderThan time.Duration, limit int, dryRun bool) error {
	a, err := app.New(ctx, "opsml-reap")
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	dbc := dbctx.Context{Ctx: ctx}
	cutoff := time.Now().UTC().Add(-olderThan)
	cause := fmt.Errorf("run exceeded max duration; reaped after %s", olderThan)

	summary := map[string]interface{}{
		"cutoff":  cutoff.Format(time.RFC3339),
		"dry_run": dryRun,
	}

	staleTraining, err := a.Repos.TrainingRuns.ListStaleRunning(dbc, cutoff, limit)
	if err != nil {
		return fmt.Errorf("list stale training runs: %w", err)
	}
	trainingIDs := make([]uuid.UUID, 0, len(staleTraining))
	for _, run := range staleTraining {
		trainingIDs = append(trainingIDs, run.ID)
		if dryRun {
			continue
		}
		if _, err := a.Ledger.FinishTrainingFailed(dbc, run, "reaped", cause); err != nil {
			return fmt.Errorf("reap training run %s: %w", run.ID, err)
		}
	}
	summary["training_runs"] = trainingIDs

	staleInference, err := a.Repos.InferenceRuns.ListStaleRunning(dbc, cutoff, limit)
	if err != nil {
		return fmt.Errorf("list stale inference runs: %w", err)
	}
	inferenceIDs := make([]uuid.UUID, 0, len(staleInference))
	for _, run := range staleInference {
		inferenceIDs = append(inferenceIDs, run.ID)
		if dryRun {
			continue
		}
		if _, err := a.Ledger.FinishInferenceFailed(dbc, run, "reaped", cause); err != nil {
			return fmt.Errorf("reap inference run %s: %w", run.ID, err)
		}
	}
	summary["inference_runs"] = inferenceIDs

	enc, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
