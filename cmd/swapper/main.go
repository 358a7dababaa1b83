package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/swapper/service/config"
	"github.com/brojonat/swapper/service/swaperr"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describeError(err))
		os.Exit(exitCode(err))
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "swapper",
		Usage: "Quote, sign and submit token swaps",
		Description: `A command-line front end for the swap backend.

Quotes are priced locally from the asset catalog unless --remote is given.
Swaps are signed locally; the wallet secret key never leaves this machine.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Before: func(c *cli.Context) error {
			return config.LoadDotEnv(c.StringSlice("env-file")...)
		},
		Commands: []*cli.Command{
			keyCommands(),
			quoteCommand(),
			swapCommand(),
			statusCommand(),
			trackCommand(),
			authCommands(),
			tradesCommands(),
			versionCommand(),
		},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to the JSON output (can be specified multiple times, applied in order)",
			},
		},
	}
}

// describeError renders err for the terminal. Categorized failures get the
// short user message; the raw chain stays in the debug log.
func describeError(err error) string {
	if swaperr.Classify(err) == swaperr.CategoryUnknown {
		return err.Error()
	}
	return fmt.Sprintf("%s (%v)", swaperr.UserMessage(err), err)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, swaperr.ErrPollTimeout):
		return 3
	case swaperr.Classify(err) == swaperr.CategoryCancelled:
		return 130
	default:
		return 1
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			info := map[string]string{
				"version": version,
				"commit":  commit,
				"built":   date,
			}
			return render(c, info, func() {
				fmt.Fprintf(c.App.Writer, "swapper CLI\n")
				fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
				fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
				fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			})
		},
	}
}
