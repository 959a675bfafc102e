package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"adminreports/pkg/contracts"
)

func main() {
	// SIGINT cancels the running report; the run is recorded as cancelled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "reportctl",
		Usage:   "Generate admin payment and user reports",
		Version: contracts.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error", EnvVars: envVars("LOGGING_LEVEL"), Value: "warn"},
		},
		Commands: []*cli.Command{
			newGenerateCommand(),
			newRunsCommand(),
			newVersionCommand(),
		},
	}
}
