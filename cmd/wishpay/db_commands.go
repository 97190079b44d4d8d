package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/wishpay/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Action: func(c *cli.Context) error {
			pool, err := getPool(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(c.Context, pool); err != nil {
				return err
			}
			v, err := db.MigrationVersion(c.Context, pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Schema at version %d\n", v)
			return nil
		},
	}
}

func listUsersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-users",
		Usage:   "List players by balance",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
			&cli.IntFlag{Name: "offset", Value: 0},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			users, err := store.ListUsers(c.Context, int32(c.Int("limit")), int32(c.Int("offset")))
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, users)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET\tUSERNAME\tCREDITS\tUPDATED")
			for _, u := range users {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					u.WalletAddress,
					u.Username,
					u.Credits,
					u.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d users\n", len(users))
			return nil
		},
	}
}

func getUserCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-user",
		Usage:     "Show a player's balance",
		Aliases:   []string{"get"},
		ArgsUsage: "<wallet_address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			user, err := store.GetUser(c.Context, c.Args().First())
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no user for wallet %s", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("failed to get user: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, user)
			}

			fmt.Fprintf(c.App.Writer, "Wallet:   %s\n", user.WalletAddress)
			fmt.Fprintf(c.App.Writer, "Username: %s\n", user.Username)
			fmt.Fprintf(c.App.Writer, "Credits:  %d\n", user.Credits)
			fmt.Fprintf(c.App.Writer, "Created:  %s\n", user.CreatedAt.Format(time.RFC3339))
			fmt.Fprintf(c.App.Writer, "Updated:  %s\n", user.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func listCreditsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-credits",
		Usage:   "List a wallet's credited payments",
		Aliases: []string{"credits"},
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "wallet", Aliases: []string{"w"}, Usage: "Wallet address", Required: true},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
			&cli.IntFlag{Name: "offset", Value: 0},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := store.ListCreditEntriesByWallet(c.Context, db.ListCreditEntriesByWalletParams{
				WalletAddress: c.String("wallet"),
				Limit:         int32(c.Int("limit")),
				Offset:        int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list credits: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, entries)
			}
			printCreditEntries(c, entries)
			return nil
		},
	}
}

func listFlaggedCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-flagged",
		Usage: "List credits flagged for audit under the lenient mismatch policy",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 100},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			entries, err := store.ListFlaggedCreditEntries(c.Context, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list flagged credits: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c, entries)
			}
			printCreditEntries(c, entries)
			return nil
		},
	}
}

func printCreditEntries(c *cli.Context, entries []*db.CreditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.App.Writer, "No credits found")
		return
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tWALLET\tSOL\tPRIZE POOL\tADMIN\tCREDITS\tFLAGGED\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d/%d\t%d\t%t\t%s\n",
			shorten(e.Signature),
			e.WalletAddress,
			lamportsToSOL(e.TotalLamports),
			e.PrizePoolLamports, e.ExpectedPrizePoolLamports,
			e.AdminLamports, e.ExpectedAdminLamports,
			e.Credits,
			e.FlaggedForAudit,
			e.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
	fmt.Fprintf(os.Stderr, "\nTotal: %d credits\n", len(entries))
}

func lamportsToSOL(lamports int64) string {
	return decimal.New(lamports, -9).String()
}

func shorten(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "…" + sig[len(sig)-8:]
}

func getPool(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool, nil), pool.Close, nil
}
