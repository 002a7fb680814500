package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/halcyonops/opsml-backend/internal/data/db"
	"github.com/halcyonops/opsml-backend/internal/data/repos"
	"github.com/halcyonops/opsml-backend/internal/data/source"
	"github.com/halcyonops/opsml-backend/internal/observability"
	"github.com/halcyonops/opsml-backend/internal/platform/envutil"
	"github.com/halcyonops/opsml-backend/internal/platform/gcp"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
	"github.com/halcyonops/opsml-backend/internal/runledger"
)

// App holds the shared wiring every CLI needs: logger, database, repos, blob
// store, ledger recorder and the operational source query.
type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	CAS    gcp.CASStore
	Repos  *repos.All
	Ledger *runledger.Recorder
	Source source.Querier

	otelShutdown func(context.Context) error
}

func New(ctx context.Context, serviceName string) (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	shutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", ""),
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	theDB := pg.DB()
	if err := db.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	cas, err := gcp.NewCASStore(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	reposet := repos.NewAll(theDB, log)
	return &App{
		Log:          log,
		DB:           theDB,
		CAS:          cas,
		Repos:        reposet,
		Ledger:       runledger.New(log, reposet),
		Source:       source.NewQuerier(theDB, log),
		otelShutdown: shutdown,
	}, nil
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
