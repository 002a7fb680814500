package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/halcyonops/opsml-backend/internal/app"
	"github.com/halcyonops/opsml-backend/internal/pipeline/train"
)

func main() {
	var (
		entityID    = flag.String("entity-id", "", "entity (tenant) id, required")
		modelKey    = flag.String("model-key", "", "model key, e.g. ticket_priority, required")
		algorithm   = flag.String("algorithm", "gbm", "training algorithm: gbm or isolation_forest")
		datasetID   = flag.String("dataset-id", "", "reuse a registered dataset by id")
		datasetBlob = flag.String("dataset-blob-path", "", "blob path of a CSV extract to register as a new dataset")
		datasetKey  = flag.String("dataset-key", "", "dataset key when registering a new dataset")
		version     = flag.Int("version", 0, "explicit model version; 0 picks the next available")
		hpFile      = flag.String("hyperparams", "", "path to a YAML hyperparameter file")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *entityID, *modelKey, *algorithm, *datasetID, *datasetBlob, *datasetKey, *version, *hpFile); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, entityID, modelKey, algorithm, datasetID, datasetBlob, datasetKey string, version int, hpFile string) error {
	entity, err := uuid.Parse(entityID)
	if err != nil {
		return fmt.Errorf("invalid --entity-id: %w", err)
	}
	in := train.Input{
		EntityID:        entity,
		ModelKey:        modelKey,
		Algorithm:       algorithm,
		Version:         version,
		DatasetKey:      datasetKey,
		DatasetBlobPath: datasetBlob,
	}
	if datasetID != "" {
		id, err := uuid.Parse(datasetID)
		if err != nil {
			return fmt.Errorf("invalid --dataset-id: %w", err)
		}
		in.DatasetID = id
	}
	if hpFile != "" {
		h, err := train.LoadHyperparamsFile(hpFile)
		if err != nil {
			return err
		}
		in.Hyperparams = h
	}

	a, err := app.New(ctx, "opsml-train")
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	out, runErr := train.New(train.Deps{
		DB:     a.DB,
		Log:    a.Log,
		CAS:    a.CAS,
		Repos:  a.Repos,
		Ledger: a.Ledger,
	}).Run(ctx, in)

	// The summary line goes to stdout either way; scripts key off the exit
	// code, humans read the JSON.
	if enc, jerr := json.Marshal(out); jerr == nil {
		fmt.Println(string(enc))
	}
	return runErr
}
