package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"adminreports/internal/config"
	"adminreports/internal/store"
)

type runsCommand struct {
	StoreDSN string
	Limit    int
}

var runsCommandName = "runs"

func newRunsCommand() *cli.Command {
	command := &runsCommand{}
	return &cli.Command{
		Name:   runsCommandName,
		Usage:  "Print the run history, newest first",
		Action: command.execute,
		Flags: []cli.Flag{
			newStoreDSNFlag(&command.StoreDSN),
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of runs, 0 for all", Destination: &command.Limit, Value: 20},
		},
	}
}

func (cmd *runsCommand) execute(c *cli.Context) error {
	log := appLogger(c)

	s, err := store.Open(c.Context, config.StoreConfig{Driver: "sqlite", DSN: cmd.StoreDSN}, log)
	if err != nil {
		return fmt.Errorf("could not open run history: %w", err)
	}
	defer s.Close()

	runs, err := s.List(c.Context, cmd.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(c.App.Writer, "no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tRECORDS\tFILES\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ID, r.Kind, r.Status, r.StartedAt.Local().Format(time.DateTime), r.Records, len(r.Artifacts), r.ErrorType)
	}
	return w.Flush()
}
