package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/swapper/service/quote"
	"github.com/brojonat/swapper/service/swap"
	"github.com/brojonat/swapper/service/swaperr"
	"github.com/brojonat/swapper/service/tracker"
)

func tradeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "raw",
			Usage: "AMOUNT is in raw units instead of whole tokens",
		},
		&cli.IntFlag{
			Name:    "slippage-bps",
			Aliases: []string{"s"},
			Usage:   "Slippage tolerance in basis points (default from DEFAULT_SLIPPAGE_BPS)",
			Value:   -1,
		},
		&cli.BoolFlag{
			Name:  "fees",
			Usage: "Include the network fee breakdown",
		},
		&cli.BoolFlag{
			Name:  "remote",
			Usage: "Price through the backend instead of the local asset catalog",
		},
	}
}

// tradeArgs parses FROM TO AMOUNT into a swap request.
func tradeArgs(c *cli.Context, rt *runtime) (swap.Request, error) {
	if c.NArg() != 3 {
		return swap.Request{}, fmt.Errorf("requires exactly three arguments: FROM TO AMOUNT")
	}
	catalog, err := rt.catalog()
	if err != nil {
		return swap.Request{}, err
	}
	from, err := catalog.Lookup(c.Args().Get(0))
	if err != nil {
		return swap.Request{}, err
	}
	to, err := catalog.Lookup(c.Args().Get(1))
	if err != nil {
		return swap.Request{}, err
	}
	amount, err := parseAmount(c.Args().Get(2), from, c.Bool("raw"))
	if err != nil {
		return swap.Request{}, err
	}

	slippage := c.Int("slippage-bps")
	if slippage < 0 {
		slippage = rt.cfg.DefaultSlippageBps
	}
	return swap.Request{
		From:                from.Symbol,
		To:                  to.Symbol,
		AmountRaw:           amount,
		SlippageBps:         slippage,
		IncludeFeeBreakdown: c.Bool("fees"),
	}, nil
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "quote",
		Usage:     "Price a swap without submitting anything",
		ArgsUsage: "FROM TO AMOUNT",
		Flags:     tradeFlags(),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			req, err := tradeArgs(c, rt)
			if err != nil {
				return err
			}
			quoter, err := rt.quoter(c.Context, c.Bool("remote"))
			if err != nil {
				return err
			}

			qreq := quote.Request{
				From:                req.From,
				To:                  req.To,
				AmountRaw:           req.AmountRaw,
				SlippageBps:         req.SlippageBps,
				IncludeFeeBreakdown: req.IncludeFeeBreakdown,
			}
			// The fee breakdown needs an owner to check for the destination account.
			if key, err := rt.walletKey(); err == nil {
				qreq.Owner = key.Address.String()
			}

			q, err := quoter.Quote(c.Context, qreq)
			if err != nil {
				return err
			}
			return render(c, q, func() { printQuote(c.App.Writer, q) })
		}),
	}
}

func swapCommand() *cli.Command {
	return &cli.Command{
		Name:      "swap",
		Usage:     "Quote, sign and submit a swap, then watch it confirm",
		ArgsUsage: "FROM TO AMOUNT",
		Flags: append(tradeFlags(),
			&cli.BoolFlag{
				Name:  "no-track",
				Usage: "Return as soon as the transaction is submitted",
			},
		),
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			req, err := tradeArgs(c, rt)
			if err != nil {
				return err
			}
			req.Track = !c.Bool("no-track")

			key, err := rt.walletKey()
			if err != nil {
				return err
			}
			svc, err := rt.swapService(c.Context, c.Bool("remote"))
			if err != nil {
				return err
			}

			if !c.Bool("json") && len(c.StringSlice("jq")) == 0 {
				fmt.Fprintf(c.App.ErrWriter, "Swapping %s %s -> %s from %s...\n",
					c.Args().Get(2), req.From, req.To, key.Address)
			}

			res, err := svc.Execute(c.Context, req, key)
			if res != nil && res.Trade != nil {
				if rerr := render(c, res, func() { printSwapResult(c.App.Writer, res) }); rerr != nil {
					return rerr
				}
			}
			return err
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the current status of a submitted swap",
		ArgsUsage: "TRANSACTION_HASH",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "chain",
				Usage: "Ask the RPC node directly instead of the backend",
			},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}
			trk, err := rt.tracker(c.Context, c.Bool("chain"))
			if err != nil {
				return err
			}
			rec, err := trk.Poll(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return render(c, rec, func() { printTradeRecord(c.App.Writer, rec) })
		}),
	}
}

func trackCommand() *cli.Command {
	return &cli.Command{
		Name:      "track",
		Usage:     "Poll a submitted swap until it is finalized or fails",
		ArgsUsage: "TRANSACTION_HASH",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "Maximum number of polls (default from POLL_MAX_ATTEMPTS)",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Delay between polls (default from POLL_INTERVAL)",
			},
			&cli.BoolFlag{
				Name:  "chain",
				Usage: "Ask the RPC node directly instead of the backend",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Hand the trade to the background watcher if it is still pending",
			},
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Wallet address recorded with the watcher (defaults to WALLET_SECRET_KEY's address)",
			},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}
			hash := c.Args().First()

			attempts := c.Int("attempts")
			if attempts <= 0 {
				attempts = rt.cfg.PollMaxAttempts
			}
			interval := c.Duration("interval")
			if interval <= 0 {
				interval = rt.cfg.PollInterval
			}

			trk, err := rt.tracker(c.Context, c.Bool("chain"))
			if err != nil {
				return err
			}
			rec, err := trk.Track(c.Context, hash, attempts, interval)
			if rec != nil {
				if rerr := render(c, rec, func() { printTradeRecord(c.App.Writer, rec) }); rerr != nil {
					return rerr
				}
			}
			if !errors.Is(err, swaperr.ErrPollTimeout) || !c.Bool("watch") {
				return err
			}

			w, werr := rt.watcher()
			if werr != nil {
				return werr
			}
			if w == nil {
				return fmt.Errorf("--watch requires TEMPORAL_HOST: %w", err)
			}
			wallet := c.String("wallet")
			if wallet == "" {
				if key, kerr := rt.walletKey(); kerr == nil {
					wallet = key.Address.String()
				}
			}
			if werr := w.WatchTrade(c.Context, hash, wallet); werr != nil {
				return werr
			}
			fmt.Fprintf(c.App.ErrWriter, "Trade %s handed to the background watcher.\n", hash)
			return nil
		}),
	}
}

func printQuote(w io.Writer, q *quote.Quote) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Route:\t%s\n", q.RouteDescription)
	fmt.Fprintf(tw, "Input:\t%d raw %s\n", q.InputAmountRaw, q.FromAsset)
	fmt.Fprintf(tw, "Estimated output:\t%s %s\n", q.EstimatedOutput, q.ToAsset)
	fmt.Fprintf(tw, "Minimum output:\t%s %s\n", q.MinimumOutput, q.ToAsset)
	fmt.Fprintf(tw, "Rate:\t1 %s = %s %s\n", q.FromAsset, q.ExchangeRate, q.ToAsset)
	fmt.Fprintf(tw, "Fee:\t%s %s\n", q.Fee, q.FromAsset)
	fmt.Fprintf(tw, "Price impact:\t%s%%\n", q.PriceImpactPercent)
	fmt.Fprintf(tw, "Slippage:\t%d bps\n", q.SlippageBps)
	if fb := q.FeeBreakdown; fb != nil {
		fmt.Fprintf(tw, "Network fees:\t%s\n", fb.Total)
		fmt.Fprintf(tw, "  trading\t%s\n", fb.TradingFee)
		fmt.Fprintf(tw, "  base\t%s\n", fb.BaseTransactionFee)
		fmt.Fprintf(tw, "  priority\t%s\n", fb.PriorityFee)
		fmt.Fprintf(tw, "  account creation\t%s (%d accounts)\n", fb.AccountCreationFee, fb.AccountsToCreate)
	}
	tw.Flush()
}

func printTradeRecord(w io.Writer, rec *tracker.TradeRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if rec.ID != "" {
		fmt.Fprintf(tw, "Trade ID:\t%s\n", rec.ID)
	}
	fmt.Fprintf(tw, "Transaction:\t%s\n", rec.TransactionHash)
	fmt.Fprintf(tw, "Status:\t%s\n", rec.Status)
	fmt.Fprintf(tw, "Confirmations:\t%d\n", rec.Confirmations)
	fmt.Fprintf(tw, "Finalized:\t%t\n", rec.Finalized)
	if rec.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", rec.Error)
	}
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(tw, "Updated:\t%s\n", rec.UpdatedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func printSwapResult(w io.Writer, res *swap.Result) {
	fmt.Fprintln(w, strings.Repeat("━", 72))
	switch {
	case res.StillPending:
		fmt.Fprintln(w, "… Swap submitted, still pending")
	case res.Trade.Status == tracker.StatusFailed:
		fmt.Fprintln(w, "✗ Swap failed")
	case res.Trade.Finalized:
		fmt.Fprintln(w, "✓ Swap finalized")
	default:
		fmt.Fprintln(w, "✓ Swap submitted")
	}
	fmt.Fprintln(w, strings.Repeat("━", 72))
	if res.Quote != nil {
		printQuote(w, res.Quote)
		fmt.Fprintln(w)
	}
	printTradeRecord(w, res.Trade)
}
