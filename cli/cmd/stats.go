package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/meadowgrid/texserv/cli/reader"
	"github.com/meadowgrid/texserv/cli/render"
)

// StatsCommand returns the stats command.
// Stats reads the metrics snapshot a run wrote and renders it.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show delivery statistics from a run's metrics snapshot",
		ArgsUsage: "<metrics.json>",
		Flags:     ReadOnlyFlags(),
		Action:    statsAction,
	}
}

func statsAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: texserv stats <metrics.json>", exitConfigError)
	}

	snap, err := reader.ReadSnapshot(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_delivery", snap)
	}

	return r.Render(snap)
}
