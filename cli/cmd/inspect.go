package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/meadowgrid/texserv/cli/reader"
	"github.com/meadowgrid/texserv/cli/render"
)

// InspectCommand returns the inspect command.
// Inspect decodes the per-client frame streams in a delivery output
// directory and summarizes what each client received.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize the frame streams in a delivery output directory",
		ArgsUsage: "<dir>",
		Flags:     ReadOnlyFlags(),
		Action:    inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: texserv inspect <dir>", exitConfigError)
	}

	report, err := reader.ReadDeliveryDir(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_delivery", report)
	}

	return r.Render(report)
}
