package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/brojonat/wishpay/client"
	"github.com/urfave/cli/v2"
)

func paymentCommands() *cli.Command {
	return &cli.Command{
		Name:  "payments",
		Usage: "Buy and validate wish credits through the HTTP API",
		Subcommands: []*cli.Command{
			createTransactionCommand(),
			validateTransferCommand(),
			transactionStatusCommand(),
			rateCommand(),
			settleCommand(),
			settlementStatusCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	if c.Bool("verbose") {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return client.NewClient(c.String("server-url"), nil, logger)
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{Name: "verbose", Usage: "Log requests to stderr"}
}

func createTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Build an unsigned split transfer for a payer",
		ArgsUsage: "<payer_address> <amount_sol>",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.StringFlag{Name: "qr-out", Usage: "Write the Solana Pay QR code PNG to this file"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: payer address and amount in SOL")
			}

			tx, err := newAPIClient(c).CreateTransaction(c.Context, c.Args().Get(1), c.Args().Get(0))
			if err != nil {
				return err
			}

			if path := c.String("qr-out"); path != "" {
				if tx.QRCodeData == "" {
					return fmt.Errorf("server did not return a QR code (is PUBLIC_BASE_URL set?)")
				}
				png, err := base64.StdEncoding.DecodeString(tx.QRCodeData)
				if err != nil {
					return fmt.Errorf("failed to decode QR code: %w", err)
				}
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return fmt.Errorf("failed to write QR code: %w", err)
				}
			}

			if c.Bool("json") {
				return outputJSON(c, tx)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Expected credits: %d\n", tx.ExpectedCredits)
			fmt.Fprintf(w, "Prize pool:       %s SOL (%d lamports)\n", tx.Splits.PrizePoolSOL, tx.Splits.PrizePoolLamports)
			fmt.Fprintf(w, "Admin:            %s SOL (%d lamports)\n", tx.Splits.AdminSOL, tx.Splits.AdminLamports)
			fmt.Fprintf(w, "Blockhash:        %s (valid until height %d)\n", tx.Blockhash, tx.LastValidBlockHeight)
			if tx.PaymentURL != "" {
				fmt.Fprintf(w, "Solana Pay:       %s\n", tx.PaymentURL)
			}
			fmt.Fprintf(w, "\n%s\n", tx.Transaction)
			return nil
		},
	}
}

func validateTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a submitted transfer and credit the payer",
		ArgsUsage: "<payer_address> <signature>",
		Flags:     []cli.Flag{verboseFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: payer address and signature")
			}

			credit, err := newAPIClient(c).ValidateTransfer(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c, credit)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "✓ Credited %d wishes (balance %d)\n", credit.Credits, credit.NewBalance)
			fmt.Fprintf(w, "  Paid: %s SOL\n", credit.TransactionSummary.TotalSOL)
			if credit.TransactionSummary.FlaggedForAudit {
				fmt.Fprintf(w, "  ⚠ split outside tolerance, flagged for audit\n")
			}
			return nil
		},
	}
}

func transactionStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a signature's ledger status",
		ArgsUsage: "<signature>",
		Flags:     []cli.Flag{verboseFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: signature")
			}

			status, err := newAPIClient(c).TransactionStatus(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c, status)
			}
			fmt.Fprintf(c.App.Writer, "%s: %s (slot %d, credited: %t)\n",
				status.Signature, status.Status, status.Slot, status.Credited)
			return nil
		},
	}
}

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:      "rate",
		Usage:     "Quote how many credits an amount of SOL buys",
		ArgsUsage: "[amount_sol]",
		Flags:     []cli.Flag{verboseFlag()},
		Action: func(c *cli.Context) error {
			rate, err := newAPIClient(c).Rate(c.Context, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c, rate)
			}
			fmt.Fprintf(c.App.Writer, "%s SOL buys %d credits (%d per SOL)\n", rate.Amount, rate.Credits, rate.CreditsPerSOL)
			return nil
		},
	}
}

func settleCommand() *cli.Command {
	return &cli.Command{
		Name:      "settle",
		Usage:     "Hand a submitted transfer to the settlement workflow",
		ArgsUsage: "<payer_address> <signature>",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.BoolFlag{Name: "wait", Aliases: []string{"w"}, Usage: "Poll until the settlement finishes"},
			&cli.DurationFlag{Name: "poll-interval", Value: 2 * time.Second},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: payer address and signature")
			}

			api := newAPIClient(c)
			settlement, err := api.StartSettlement(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(c, settlement)
				}
				fmt.Fprintf(c.App.Writer, "Settlement started: %s\n", settlement.WorkflowID)
				return nil
			}

			status, err := waitForSettlement(c, api, settlement.WorkflowID)
			if err != nil {
				return err
			}
			return printSettlement(c, status)
		},
	}
}

func settlementStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "settlement-status",
		Usage:     "Show the state of a settlement workflow",
		ArgsUsage: "<workflow_id>",
		Flags:     []cli.Flag{verboseFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: workflow ID")
			}

			status, err := newAPIClient(c).SettlementStatus(c.Context, c.Args().First())
			if err != nil {
				return err
			}
			return printSettlement(c, status)
		},
	}
}

func waitForSettlement(c *cli.Context, api *client.Client, workflowID string) (*client.SettlementStatus, error) {
	deadline := time.After(c.Duration("timeout"))
	ticker := time.NewTicker(c.Duration("poll-interval"))
	defer ticker.Stop()

	for {
		status, err := api.SettlementStatus(c.Context, workflowID)
		if err != nil {
			return nil, err
		}
		if status.Status != "running" {
			return status, nil
		}

		select {
		case <-c.Context.Done():
			return nil, c.Context.Err()
		case <-deadline:
			return nil, fmt.Errorf("settlement %s still running after %s", workflowID, c.Duration("timeout"))
		case <-ticker.C:
		}
	}
}

func printSettlement(c *cli.Context, status *client.SettlementStatus) error {
	if c.Bool("json") {
		return outputJSON(c, status)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Workflow: %s\n", status.WorkflowID)
	fmt.Fprintf(w, "Status:   %s\n", status.Status)
	if r := status.Result; r != nil {
		fmt.Fprintf(w, "Credits:  %d (balance %d)\n", r.CreditsAwarded, r.NewBalance)
		fmt.Fprintf(w, "Attempts: %d\n", r.Attempts)
	}
	if status.Error != "" {
		fmt.Fprintf(w, "Error:    %s (%s)\n", status.Error, status.Code)
	}
	return nil
}
