package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/swapper/service/db"
	"github.com/brojonat/swapper/service/quote"
)

func tradesCommands() *cli.Command {
	return &cli.Command{
		Name:  "trades",
		Usage: "Trade ledger inspection commands",
		Subcommands: []*cli.Command{
			followCommand(),
			watchCommand(),
			{
				Name:      "list",
				Usage:     "List recorded trades for a wallet",
				Aliases:   []string{"ls"},
				ArgsUsage: "[WALLET_ADDRESS]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, confirmed, finalized, failed)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Value:   50,
						Usage:   "Maximum number of trades to show",
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Number of trades to skip",
					},
				},
				Action: withRuntime(func(c *cli.Context, rt *runtime) error {
					wallet := c.Args().First()
					if wallet == "" {
						key, err := rt.walletKey()
						if err != nil {
							return fmt.Errorf("wallet address is required: %w", err)
						}
						wallet = key.Address.String()
					}

					store, err := requireLedger(c.Context, rt)
					if err != nil {
						return err
					}
					trades, err := store.ListTradesByWallet(c.Context, db.ListTradesByWalletParams{
						WalletAddress: wallet,
						Status:        c.String("status"),
						Limit:         int32(c.Int("limit")),
						Offset:        int32(c.Int("offset")),
					})
					if err != nil {
						return fmt.Errorf("failed to list trades: %w", err)
					}

					catalog, err := rt.catalog()
					if err != nil {
						return err
					}
					return render(c, trades, func() {
						printTrades(c.App.Writer, trades, catalog)
						fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d trades\n", len(trades))
					})
				}),
			},
			{
				Name:      "get",
				Usage:     "Show one recorded trade",
				ArgsUsage: "TRANSACTION_HASH",
				Action: withRuntime(func(c *cli.Context, rt *runtime) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: transaction hash")
					}
					store, err := requireLedger(c.Context, rt)
					if err != nil {
						return err
					}
					trade, err := store.GetTradeByHash(c.Context, c.Args().First())
					if errors.Is(err, db.ErrTradeNotFound) {
						return fmt.Errorf("no trade recorded for %s", c.Args().First())
					}
					if err != nil {
						return fmt.Errorf("failed to get trade: %w", err)
					}
					catalog, err := rt.catalog()
					if err != nil {
						return err
					}
					return render(c, trade, func() { printTrades(c.App.Writer, []*db.Trade{trade}, catalog) })
				}),
			},
		},
	}
}

func requireLedger(ctx context.Context, rt *runtime) (*db.Store, error) {
	store, err := rt.ledger(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL)")
	}
	return store, nil
}

func printTrades(w io.Writer, trades []*db.Trade, catalog *quote.Catalog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "HASH\tPAIR\tAMOUNT\tSTATUS\tCONFIRMATIONS\tCREATED")
	for _, t := range trades {
		amount := fmt.Sprintf("%d raw", t.AmountRaw)
		if asset, err := catalog.Lookup(t.FromAsset); err == nil {
			amount = formatRaw(t.AmountRaw, asset)
		}
		status := t.Status
		if t.Error != nil && *t.Error != "" {
			status += " (" + *t.Error + ")"
		}
		fmt.Fprintf(tw, "%s\t%s/%s\t%s\t%s\t%d\t%s\n",
			t.TransactionHash,
			t.FromAsset,
			t.ToAsset,
			amount,
			status,
			t.Confirmations,
			t.CreatedAt.Format(time.RFC3339),
		)
	}
	tw.Flush()
}
