package main

import (
	"log/slog"

	"github.com/urfave/cli/v2"

	"adminreports/internal/config"
	"adminreports/internal/infrastructure"
)

func envVars(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = config.EnvPrefix + "_" + n
	}
	return out
}

func newStoreDSNFlag(destination *string) *cli.StringFlag {
	return &cli.StringFlag{Name: "store-dsn", Usage: "SQLite file keeping the run history",
		EnvVars: envVars("STORE_DSN"), Destination: destination, Value: "data/runs.db"}
}

// appLogger writes JSON logs to the error writer (stderr) so stdout only carries results
func appLogger(c *cli.Context) *slog.Logger {
	return infrastructure.NewLogger(c.App.ErrWriter, c.String("log-level"), false)
}
