package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/peerassess/fieldsync/internal/logging"
	"github.com/peerassess/fieldsync/internal/server"
	"github.com/peerassess/fieldsync/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx := context.Background()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
