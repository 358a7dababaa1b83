package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/swapper/service/nats"
)

func followCommand() *cli.Command {
	return &cli.Command{
		Name:      "follow",
		Usage:     "Stream trade events for a wallet",
		ArgsUsage: "[WALLET_ADDRESS]",
		Description: `Subscribe to trade events published to NATS JetStream.

Events are published to the subject trades.{wallet_address} by swaps run
with NATS_URL set and by the background watcher.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "swapper-cli",
			},
			&cli.BoolFlag{
				Name:  "new",
				Usage: "Only deliver events published after subscribing",
			},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if rt.cfg.NATSURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL)")
			}
			wallet := c.Args().First()
			if wallet == "" {
				key, err := rt.walletKey()
				if err != nil {
					return fmt.Errorf("wallet address is required: %w", err)
				}
				wallet = key.Address.String()
			}

			nc, err := nats.Connect(rt.cfg.NATSURL)
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			subject := natspkg.Subject(wallet)
			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
			}
			if c.Bool("new") {
				consumerConfig.DeliverPolicy = jetstream.DeliverNewPolicy
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			cons, err := js.CreateOrUpdateConsumer(c.Context, natspkg.StreamName, consumerConfig)
			if err != nil {
				return fmt.Errorf("failed to create consumer: %w", err)
			}

			fmt.Fprintf(c.App.ErrWriter, "Subscribing to %s (Ctrl-C to exit)\n", subject)

			msgs := make(chan jetstream.Msg, 10)
			consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgs <- msg:
				case <-c.Context.Done():
				}
			})
			if err != nil {
				return fmt.Errorf("failed to consume: %w", err)
			}
			defer consumeCtx.Stop()

			count := 0
			for {
				select {
				case msg := <-msgs:
					var event natspkg.TradeEvent
					if err := json.Unmarshal(msg.Data(), &event); err != nil {
						rt.logger.Warn("failed to parse trade event", "subject", msg.Subject(), "error", err)
						msg.Ack()
						continue
					}
					count++
					if err := render(c, event, func() { printTradeEvent(c.App.Writer, &event) }); err != nil {
						return err
					}
					msg.Ack()

				case <-c.Context.Done():
					fmt.Fprintf(c.App.ErrWriter, "\nReceived %d events\n", count)
					return nil
				}
			}
		}),
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Hand a submitted trade to the background watcher",
		ArgsUsage: "TRANSACTION_HASH",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "wallet",
				Usage: "Wallet address recorded with the watcher (defaults to WALLET_SECRET_KEY's address)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Block until the watcher finishes and print its result",
			},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction hash")
			}
			hash := c.Args().First()

			w, err := rt.watcher()
			if err != nil {
				return err
			}
			if w == nil {
				return fmt.Errorf("temporal-host is required (set TEMPORAL_HOST)")
			}

			wallet := c.String("wallet")
			if wallet == "" {
				if key, err := rt.walletKey(); err == nil {
					wallet = key.Address.String()
				}
			}
			if err := w.WatchTrade(c.Context, hash, wallet); err != nil {
				return err
			}
			if !c.Bool("wait") {
				fmt.Fprintf(c.App.ErrWriter, "Watching %s in the background.\n", hash)
				return nil
			}

			result, err := w.AwaitTrade(c.Context, hash)
			if err != nil {
				return err
			}
			return render(c, result, func() {
				fmt.Fprintf(c.App.Writer, "Transaction:   %s\n", result.TransactionHash)
				fmt.Fprintf(c.App.Writer, "Status:        %s\n", result.Status)
				fmt.Fprintf(c.App.Writer, "Confirmations: %d\n", result.Confirmations)
				fmt.Fprintf(c.App.Writer, "Finalized:     %t\n", result.Finalized)
				fmt.Fprintf(c.App.Writer, "Polls:         %d\n", result.Polls)
				if result.Error != "" {
					fmt.Fprintf(c.App.Writer, "Error:         %s\n", result.Error)
				}
				if result.TimedOut {
					fmt.Fprintln(c.App.Writer, "The watcher gave up before the trade settled.")
				}
			})
		}),
	}
}

func printTradeEvent(w io.Writer, event *natspkg.TradeEvent) {
	fmt.Fprintf(w, "[%s] %-15s %s %s/%s status=%s confirmations=%d",
		event.Timestamp.Format(time.RFC3339),
		event.Kind,
		event.TransactionHash,
		event.FromAsset,
		event.ToAsset,
		event.Status,
		event.Confirmations,
	)
	if event.Error != "" {
		fmt.Fprintf(w, " error=%q", event.Error)
	}
	fmt.Fprintln(w)
}
