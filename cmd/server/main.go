/*
main.go - Application entry point

PURPOSE:
  Loads configuration, sets up logging and runs the cartera CLI.

COMMANDS:
  serve       HTTP API over SQLite (or memory) with optional Redis cache
  statement   Print a statement from a JSON export, no server needed
  normalize   Rewrite a JSON export with canonical field names

ENVIRONMENT:
  Every setting is a CARTERA_* variable (see config/config.go); a .env file
  in the working directory is read first. Flags override both.

EXAMPLES:
  # Serve with a file database
  cartera serve --db ./data/cartera.db

  # Throwaway in-memory server with demo scenarios
  CARTERA_DEMO_SCENARIOS=true cartera serve --store memory

  # Statement for February from an export
  cartera statement export.json --from 2025-02-01 --to 2025-02-28

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/floraexport/cartera/config"
	"github.com/floraexport/cartera/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Setup(cfg.Logger()); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).ExecuteContext(context.Background()); err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}
