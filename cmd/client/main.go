package main

import (
	"context"
	"log"
	"os"

	"github.com/peerassess/fieldsync/internal/client/cli"
	"github.com/peerassess/fieldsync/internal/client/config"
	"github.com/peerassess/fieldsync/internal/logging"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewTextLogger(os.Stderr)

	app, err := cli.NewApp(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}
