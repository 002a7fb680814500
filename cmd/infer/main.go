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
	"github.com/halcyonops/opsml-backend/internal/pipeline/infer"
)

func main() {
	var (
		entityID    = flag.String("entity-id", "", "entity (tenant) id, required")
		modelKey    = flag.String("model-key", "", "model key; resolves the active version")
		modelID     = flag.String("model-id", "", "pin an exact model version instead of the active one")
		periodStart = flag.String("period-start", "", "scoring window start, RFC3339 or YYYY-MM-DD, required")
		periodEnd   = flag.String("period-end", "", "scoring window end, RFC3339 or YYYY-MM-DD, required")
		threshold   = flag.Float64("threshold-override", 0, "override the artifact's decision threshold for this run")
	)
	flag.Parse()

	thresholdSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "threshold-override" {
			thresholdSet = true
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *entityID, *modelKey, *modelID, *periodStart, *periodEnd, *threshold, thresholdSet); err != nil {
		fmt.Fprintf(os.Stderr, "infer: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, entityID, modelKey, modelID, periodStart, periodEnd string, threshold float64, thresholdSet bool) error {
	entity, err := uuid.Parse(entityID)
	if err != nil {
		return fmt.Errorf("invalid --entity-id: %w", err)
	}
	start, err := parseTimeFlag(periodStart)
	if err != nil {
		return fmt.Errorf("invalid --period-start: %w", err)
	}
	end, err := parseTimeFlag(periodEnd)
	if err != nil {
		return fmt.Errorf("invalid --period-end: %w", err)
	}

	in := infer.Input{
		EntityID:    entity,
		ModelKey:    modelKey,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	if modelID != "" {
		id, err := uuid.Parse(modelID)
		if err != nil {
			return fmt.Errorf("invalid --model-id: %w", err)
		}
		in.ModelID = &id
	}
	if thresholdSet {
		in.ThresholdOverride = &threshold
	}

	a, err := app.New(ctx, "opsml-infer")
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	out, runErr := infer.New(infer.Deps{
		DB:     a.DB,
		Log:    a.Log,
		CAS:    a.CAS,
		Repos:  a.Repos,
		Ledger: a.Ledger,
		Source: a.Source,
	}).Run(ctx, in)

	if enc, jerr := json.Marshal(out); jerr == nil {
		fmt.Println(string(enc))
	}
	return runErr
}

func parseTimeFlag(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
