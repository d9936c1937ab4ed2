// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		workerCommand, renderCommand, versionCommand, uploadCommand, commandCommand, downloadCommand, initConfigCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func workerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Host render workers: one toolkit per caller connection",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides worker.listen)",
			},
			&cli.StringFlag{
				Name:  "advertise",
				Usage: "Address registered for callers (overrides worker.advertise)",
			},
		},
		Action: r.Worker,
	}
}

func optionFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:    "option",
		Aliases: []string{"O"},
		Usage:   "Toolkit option as name=value (repeatable), e.g. -O pageWidth=2100",
	}
}

func renderCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render a score file through the workers",
		ArgsUsage: "<file|->",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "to",
				Usage: "Output: svg, mei, midi or timemap",
				Value: "svg",
			},
			&cli.IntFlag{
				Name:  "page",
				Usage: "Page to render (svg only)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path (default stdout)",
			},
			optionFlag(),
		},
		Action: r.Render,
	}
}

func versionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "toolkit-version",
		Usage:  "Print the rendering toolkit version reported by a worker",
		Action: r.ToolkitVersion,
	}
}

func siteFlags(extra ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:  "site",
			Usage: "Site URL (overrides site.url)",
		},
		&cli.StringFlag{
			Name:    "session",
			Aliases: []string{"s"},
			Usage:   "Resume this site session instead of opening a new one",
		},
	}, extra...)
}

func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload a score to the site and render it",
		ArgsUsage: "<file>",
		Flags: siteFlags(
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the rendered SVG here (default stdout)",
			},
			optionFlag(),
		),
		Action: r.Upload,
	}
}

func commandCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "command",
		Usage:     "Apply an editing command (transpose, shopIt, chooseChordOption, hideChordOptions, undo, redo)",
		ArgsUsage: "<name> [param=value...]",
		Flags: siteFlags(
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the rendered SVG here (default stdout)",
			},
			optionFlag(),
		),
		Action: r.Command,
	}
}

func downloadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "Download the session's score",
		ArgsUsage: "<mei|musicxml|humdrum>",
		Flags: siteFlags(
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path (default Score.<ext>)",
			},
		),
		Action: r.Download,
	}
}

func initConfigCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "init-config",
		Usage:  "Write the example configuration to --config",
		Action: r.InitConfig,
	}
}
