package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/swapper/service/keys"
)

func keyCommands() *cli.Command {
	keyFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "key",
			Usage:   "Wallet secret key (base58 or base64)",
			EnvVars: []string{"WALLET_SECRET_KEY"},
		},
		&cli.StringFlag{
			Name:  "key-file",
			Usage: "Read the secret key from this file (\"-\" for stdin)",
		},
	}

	return &cli.Command{
		Name:  "key",
		Usage: "Wallet key utilities",
		Subcommands: []*cli.Command{
			{
				Name:  "address",
				Usage: "Print the wallet address for a secret key",
				Flags: keyFlags,
				Action: func(c *cli.Context) error {
					key, err := readKey(c)
					if err != nil {
						return err
					}
					address := key.Address.String()
					return render(c, map[string]string{"address": address}, func() {
						fmt.Fprintln(c.App.Writer, address)
					})
				},
			},
			{
				Name:  "convert",
				Usage: "Re-encode a secret key in another export format",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "to",
						Usage: "Target format: base58 or base64",
						Value: "base58",
					},
				}, keyFlags...),
				Action: func(c *cli.Context) error {
					key, err := readKey(c)
					if err != nil {
						return err
					}

					var encoded string
					switch strings.ToLower(c.String("to")) {
					case "base58":
						encoded = keys.EncodeBase58(key)
					case "base64":
						encoded = keys.EncodeBase64(key)
					default:
						return fmt.Errorf("unknown key format %q (want base58 or base64)", c.String("to"))
					}

					out := map[string]string{
						"address": key.Address.String(),
						"format":  strings.ToLower(c.String("to")),
						"key":     encoded,
					}
					return render(c, out, func() {
						fmt.Fprintln(c.App.Writer, encoded)
					})
				},
			},
		},
	}
}

// readKey decodes the key from --key-file, falling back to --key.
func readKey(c *cli.Context) (keys.WalletKey, error) {
	text := c.String("key")
	if path := c.String("key-file"); path != "" {
		var (
			data []byte
			err  error
		)
		if path == "-" {
			data, err = io.ReadAll(c.App.Reader)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return keys.WalletKey{}, fmt.Errorf("failed to read key file: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return keys.WalletKey{}, fmt.Errorf("a secret key is required (set WALLET_SECRET_KEY, --key or --key-file)")
	}
	return keys.Decode(text)
}
