package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"adminreports/pkg/contracts"
)

func newVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build details",
		Action: func(c *cli.Context) error {
			_, err := fmt.Fprintln(c.App.Writer, contracts.GetFullVersionString())
			return err
		},
	}
}
