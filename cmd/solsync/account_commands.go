package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/kestrelhq/solsync/client"
)

// accountCommands groups the HTTP API commands.
func accountCommands() *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "Manage accounts over the HTTP API",
		Subcommands: []*cli.Command{
			registerAccountCommand(),
			unregisterAccountCommand(),
			listRemoteAccountsCommand(),
			syncAccountCommand(),
			transactionsCommand(),
		},
	}
}

func apiClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, nil)
}

func registerAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Register an account for synchronization",
		ArgsUsage: "<address>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Account id (defaults to the address)",
			},
			&cli.StringSliceFlag{
				Name:    "scope",
				Aliases: []string{"s"},
				Usage:   "Network to synchronize (mainnet, devnet); repeatable",
				Value:   cli.NewStringSlice("mainnet"),
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account address")
			}
			address := c.Args().First()

			account, err := apiClient(c).Register(c.Context, c.String("id"), address, c.StringSlice("scope"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(account)
			}
			fmt.Printf("registered account %s (address %s, scopes %s)\n",
				account.ID, account.Address, strings.Join(account.Scopes, ","))
			return nil
		},
	}
}

func unregisterAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "unregister",
		Usage:     "Stop synchronizing an account",
		ArgsUsage: "<account-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account id")
			}
			id := c.Args().First()

			if err := apiClient(c).Unregister(c.Context, id); err != nil {
				return err
			}
			fmt.Printf("unregistered account %s\n", id)
			return nil
		},
	}
}

func listRemoteAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List registered accounts",
		Action: func(c *cli.Context) error {
			accounts, err := apiClient(c).List(c.Context)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(accounts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tADDRESS\tSCOPES")
			for _, account := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					account.ID, account.Address, strings.Join(account.Scopes, ","))
			}
			w.Flush()
			return nil
		},
	}
}

func syncAccountCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Run an immediate sync pass for an account",
		ArgsUsage: "<account-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account id")
			}
			id := c.Args().First()

			if err := apiClient(c).Sync(c.Context, id); err != nil {
				return err
			}
			fmt.Printf("sync scheduled for account %s\n", id)
			return nil
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Usage:     "List an account's transactions",
		Aliases:   []string{"txns"},
		ArgsUsage: "<account-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter transactions must satisfy; repeatable, all must be truthy",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: account id")
			}
			id := c.Args().First()

			// Compile jq filters up front so a bad filter fails fast.
			jqFilters := c.StringSlice("jq")
			compiled := make([]*gojq.Code, len(jqFilters))
			for i, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				compiled[i], err = gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}
			}

			txns, err := apiClient(c).Transactions(c.Context, id)
			if err != nil {
				return err
			}

			if len(compiled) > 0 {
				filtered := txns[:0]
				for _, txn := range txns {
					ok, err := matchesFilters(txn, compiled)
					if err != nil {
						return err
					}
					if ok {
						filtered = append(filtered, txn)
					}
				}
				txns = filtered
			}

			if c.Bool("json") {
				return outputJSON(txns)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tCHAIN\tTYPE\tSTATUS\tSLOT\tTIMESTAMP")
			for _, txn := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					txn.ID, txn.Chain, txn.Type, txn.Status, txn.Slot,
					txn.Timestamp.Format(time.RFC3339))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txns))
			return nil
		},
	}
}

// matchesFilters runs the transaction through every compiled jq filter; all
// must yield a truthy first result.
func matchesFilters(txn any, filters []*gojq.Code) (bool, error) {
	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(txn)
	if err != nil {
		return false, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, err
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, fmt.Errorf("jq filter error: %w", err)
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy mirrors jq semantics: false and null are falsy, everything else
// is truthy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	default:
		return true
	}
}
