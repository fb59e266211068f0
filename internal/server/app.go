// Package server wires the fieldsync API server: PostgreSQL storage, the
// blob presigner, the change-notification hub and the HTTP router, with
// graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/server/blobs"
	"github.com/peerassess/fieldsync/internal/server/config"
	"github.com/peerassess/fieldsync/internal/server/httpapi"
	"github.com/peerassess/fieldsync/internal/server/migrations"
	"github.com/peerassess/fieldsync/internal/server/records"
	"github.com/peerassess/fieldsync/internal/server/users"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	srv    *http.Server
	hub    *httpapi.Hub
}

func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	hub := httpapi.NewHub(logger)

	us := users.NewService(users.NewPostgresRepository(db), cfg)
	rs := records.NewService(records.NewPostgresRepository(db), blobs.NewS3Service(cfg), hub, logger)

	srv := &http.Server{
		Addr:    cfg.EndpointAddr,
		Handler: httpapi.NewRouter(cfg, httpapi.NewHandlers(us, rs, logger), hub),
	}

	return &App{config: cfg, logger: logger, db: db, srv: srv, hub: hub}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

// Run serves HTTP until the context is cancelled or an OS signal arrives,
// then shuts down draining in-flight requests.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigs)

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddr)
		if err := app.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-sigs:
	case <-ctx.Done():
	}

	app.logger.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return app.db.Close()
}
