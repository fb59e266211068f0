// Package cli is the interactive client: a small REPL over the offline
// cache, the checklist service, and the sync engine.
package cli

import (
	"bufio"
	"context"
	"os"

	"github.com/peerassess/fieldsync/internal/client/api"
	"github.com/peerassess/fieldsync/internal/client/cache"
	"github.com/peerassess/fieldsync/internal/client/checklist"
	"github.com/peerassess/fieldsync/internal/client/config"
	"github.com/peerassess/fieldsync/internal/client/monitor"
	"github.com/peerassess/fieldsync/internal/client/store"
	"github.com/peerassess/fieldsync/internal/client/syncer"
	"github.com/peerassess/fieldsync/internal/logging"
)

type App struct {
	config *config.Config
	logger logging.Logger

	store     *store.Store
	queue     *store.Queue
	client    *api.HTTPClient
	monitor   *monitor.Monitor
	reader    *cache.Reader
	writer    *cache.Writer
	tracker   *syncer.Tracker
	engine    *syncer.Engine
	checklist *checklist.Service

	in       *bufio.Reader
	userName string
}

func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	queue := store.NewQueue(st.DB())
	client := api.NewHTTPClient(cfg.ServerEndpointAddr, cfg.RequestTimeout)
	mon := monitor.New(client, cfg.NotifyURL, cfg.OnlineCheckInterval, client.Token, logger)

	reader := cache.NewReader(st, client, mon, cfg.StaleTime, logger)
	writer := cache.NewWriter(st, queue, client, mon, logger)

	tracker := syncer.NewTracker(queue)
	engine := syncer.NewEngine(st, queue, client, mon, tracker, syncer.Config{
		Interval:       cfg.SyncInterval,
		AttemptTimeout: cfg.RequestTimeout,
		MaxAttempts:    cfg.MaxSyncAttempts,
		BackoffBase:    cfg.SyncBackoffBase,
		BackoffCap:     cfg.SyncBackoffCap,
	}, logger)
	writer.SetWake(engine.SyncNow)

	svc := checklist.NewService(reader, writer, st, logger)
	engine.OnIDRewrite(svc.RelinkEvidence)

	return &App{
		config:    cfg,
		logger:    logger,
		store:     st,
		queue:     queue,
		client:    client,
		monitor:   mon,
		reader:    reader,
		writer:    writer,
		tracker:   tracker,
		engine:    engine,
		checklist: svc,
		in:        bufio.NewReader(os.Stdin),
	}, nil
}

// Run starts the background loops and enters the REPL. Returns when the
// user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.monitor.Run(ctx)
	go a.reader.Run(ctx)
	go func() {
		if err := a.engine.Run(ctx); err != nil {
			a.logger.Error(ctx, "sync engine stopped", "error", err)
		}
	}()

	a.repl(ctx)
	return a.Close()
}

func (a *App) Close() error {
	if err := a.client.Close(); err != nil {
		return err
	}
	return a.store.Close()
}
