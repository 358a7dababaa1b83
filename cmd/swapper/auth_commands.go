package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

type tokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn string    `json:"expires_in"`
}

func authCommands() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Bearer token management",
		Subcommands: []*cli.Command{
			{
				Name:  "token",
				Usage: "Print a usable bearer token, refreshing it if needed",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reveal",
						Usage: "Print the full token instead of a masked prefix",
					},
				},
				Action: withRuntime(func(c *cli.Context, rt *runtime) error {
					mgr, err := rt.authManager(c.Context)
					if err != nil {
						return err
					}
					if _, err := mgr.EnsureToken(c.Context); err != nil {
						return err
					}
					tok, _ := mgr.Cached()

					info := tokenInfo{
						Token:     tok.Value,
						ExpiresAt: tok.ExpiresAt,
						ExpiresIn: time.Until(tok.ExpiresAt).Round(time.Second).String(),
					}
					if !c.Bool("reveal") {
						info.Token = maskToken(info.Token)
					}
					return render(c, info, func() {
						fmt.Fprintf(c.App.Writer, "Token:   %s\n", info.Token)
						fmt.Fprintf(c.App.Writer, "Expires: %s (in %s)\n", info.ExpiresAt.Format(time.RFC3339), info.ExpiresIn)
					})
				}),
			},
			{
				Name:  "clear",
				Usage: "Forget the cached bearer token",
				Action: withRuntime(func(c *cli.Context, rt *runtime) error {
					mgr, err := rt.authManager(c.Context)
					if err != nil {
						return err
					}
					if err := mgr.Clear(c.Context); err != nil {
						return err
					}
					fmt.Fprintln(c.App.ErrWriter, "Bearer token cleared.")
					return nil
				}),
			},
		},
	}
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		return "********"
	}
	return tok[:8] + "…"
}
