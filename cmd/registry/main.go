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
	types "github.com/halcyonops/opsml-backend/internal/domain"
	"github.com/halcyonops/opsml-backend/internal/platform/dbctx"
)

const usage = `usage: registry <command> [flags]

commands:
  list     list versions for an entity and model key
  promote  activate a draft version, retiring the currently active one
  retire   retire a version without activating a replacement
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = runList(ctx, os.Args[2:])
	case "promote":
		err = runPromote(ctx, os.Args[2:])
	case "retire":
		err = runRetire(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
}

func runList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	entityID := fs.String("entity-id", "", "entity id, required")
	modelKey := fs.String("model-key", "", "model key, required")
	limit := fs.Int("limit", 50, "max versions to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entity, err := uuid.Parse(*entityID)
	if err != nil {
		return fmt.Errorf("invalid --entity-id: %w", err)
	}

	a, err := app.New(ctx, "opsml-registry")
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	rows, err := a.Repos.Models.ListByKey(dbctx.Context{Ctx: ctx}, entity, *modelKey, *limit)
	if err != nil {
		return err
	}
	return printJSON(rows)
}

func runPromote(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("promote", flag.ExitOnError)
	modelID := fs.String("model-id", "", "model version id to activate, required")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*modelID)
	if err != nil {
		return fmt.Errorf("invalid --model-id: %w", err)
	}

	a, err := app.New(ctx, "opsml-registry")
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	dbc := dbctx.Context{Ctx: ctx}
	promoted, retired, err := a.Repos.Models.Promote(dbc, id)
	if err != nil {
		return err
	}
	if err := a.Ledger.ModelEvent(dbc, types.AuditModelPromoted, promoted); err != nil {
		return err
	}
	if retired != nil {
		if err := a.Ledger.ModelEvent(dbc, types.AuditModelRetired, retired); err != nil {
			return err
		}
	}
	return printJSON(map[string]interface{}{
		"promoted": promoted,
		"retired":  retired,
	})
}

func runRetire(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("retire", flag.ExitOnError)
	modelID := fs.String("model-id", "", "model version id to retire, required")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := uuid.Parse(*modelID)
	if err != nil {
		return fmt.Errorf("invalid --model-id: %w", err)
	}

	a, err := app.New(ctx, "opsml-registry")
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	dbc := dbctx.Context{Ctx: ctx}
	retired, err := a.Repos.Models.Retire(dbc, id)
	if err != nil {
		return err
	}
	if err := a.Ledger.ModelEvent(dbc, types.AuditModelRetired, retired); err != nil {
		return err
	}
	return printJSON(retired)
}

func printJSON(v interface{}) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
