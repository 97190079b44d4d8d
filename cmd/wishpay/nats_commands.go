package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/wishpay/service/nats"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// subscribeCommand follows credit events published to JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Follow credit events as payments are credited",
		ArgsUsage: "[wallet_address]",
		Description: `Subscribe to credit events published to the CREDITS JetStream stream.

With a wallet address only that wallet's events are shown, on subject
credits.{wallet_address}. Without one, every wallet's events are shown.

--jq filters events; an event is shown only when every filter yields a
truthy value.

Example:
  wishpay nats subscribe --jq '.credits_awarded >= 6' --jq '.flagged_for_audit | not'`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each event (repeatable)",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Exit after this many matching events (0 = run until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: wallet address")
			}

			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			sub, err := natspkg.NewSubscriber(c.String("nats-url"), logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, err := sub.Subscribe(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if !c.Bool("json") {
				target := "all wallets"
				if c.NArg() == 1 {
					target = c.Args().First()
				}
				fmt.Fprintf(os.Stderr, "📡 Following credits for %s (Ctrl-C to exit)\n\n", target)
			}

			return streamCredits(ctx, c, events, filters, c.Int("count"))
		},
	}
}

func streamCredits(ctx context.Context, c *cli.Context, events <-chan *natspkg.CreditEvent, filters []*gojq.Code, limit int) error {
	shown := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			match, err := matchesFilters(event, filters)
			if err != nil {
				return err
			}
			if !match {
				continue
			}

			shown++
			if c.Bool("json") {
				data, _ := json.Marshal(event)
				fmt.Fprintln(c.App.Writer, string(data))
			} else {
				printCreditEvent(c, shown, event)
			}

			if limit > 0 && shown >= limit {
				return nil
			}
		}
	}
}

func printCreditEvent(c *cli.Context, n int, event *natspkg.CreditEvent) {
	w := c.App.Writer
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Credit #%d\n", n)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Signature:  %s\n", event.Signature)
	fmt.Fprintf(w, "Wallet:     %s\n", event.WalletAddress)
	fmt.Fprintf(w, "Paid:       %s SOL\n", lamportsToSOL(event.TotalLamports))
	fmt.Fprintf(w, "Credits:    +%d (balance %d)\n", event.CreditsAwarded, event.NewBalance)
	if event.FlaggedForAudit {
		fmt.Fprintf(w, "Audit:      flagged\n")
	}
	fmt.Fprintf(w, "Credited:   %s\n\n", event.CreditedAt.Format(time.RFC3339))
}

func compileFilters(exprs []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return codes, nil
}

// matchesFilters reports whether every filter yields a truthy first value for
// the event's JSON form.
func matchesFilters(event *natspkg.CreditEvent, filters []*gojq.Code) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	// gojq only accepts plain JSON values, so round-trip through encoding/json.
	raw, err := json.Marshal(event)
	if err != nil {
		return false, err
	}
	var input interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return false, err
	}

	for _, code := range filters {
		v, ok := code.Run(input).Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy follows jq semantics: only false and null are falsy.
func isTruthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
