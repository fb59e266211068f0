package config

import (
	"flag"
	"os"

	"github.com/peerassess/fieldsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags:
//
//	-a string   address and port to listen on
//	-d string   PostgreSQL DSN
//	-k string   token signing key
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.EndpointAddr, "a", cfg.EndpointAddr, "address and port to listen on")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "PostgreSQL DSN")
	fs.StringVar(&cfg.SecretKey, "k", cfg.SecretKey, "token signing key")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
