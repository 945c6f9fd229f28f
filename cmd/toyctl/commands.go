package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/config"
	"github.com/imrishuroy/go-toy-activation/internal/ledger"
	"github.com/imrishuroy/go-toy-activation/internal/redemption"
	"github.com/imrishuroy/go-toy-activation/internal/token"
)

// Build information, set via ldflags.
var Version = "dev"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "toyctl",
		Usage:   "toy activation token and ledger tool",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config file",
				EnvVars: []string{"TOYS_CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output format: table, json",
				Value:   "table",
			},
		},
		Commands: []*cli.Command{
			mintCommand(),
			verifyCommand(),
			issueCommand(),
			listCommand(),
			purgeCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if len(cfg.Token.Secret) < config.MinSecretLength {
		return nil, fmt.Errorf("token.secret must be at least %d bytes (set TOYS_TOKEN_SECRET)", config.MinSecretLength)
	}
	return cfg, nil
}

func newCodec(cfg *config.Config) (*token.Codec, error) {
	return token.NewCodec(cfg.Token.Secret, token.WithRetiredSecrets(cfg.Token.RetiredSecrets...))
}

// withCoordinator opens the configured ledger for the duration of fn.
func withCoordinator(c *cli.Context, fn func(ctx context.Context, coord *redemption.Coordinator) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	var dynamo aws.DynamoDBAPI
	if cfg.Ledger.Backend == config.BackendDynamoDB {
		clients, err := aws.NewAWSClients(ctx, aws.Settings{Region: cfg.AWS.Region, EndpointOverride: cfg.AWS.EndpointOverride})
		if err != nil {
			return err
		}
		dynamo = clients.DynamoDB
	}
	store, closeFn, err := ledger.Open(ctx, cfg.Ledger, dynamo)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(ctx, redemption.NewCoordinator(codec, store))
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mintCommand() *cli.Command {
	return &cli.Command{
		Name:      "mint",
		Usage:     "Sign a token for an item id without touching the ledger",
		ArgsUsage: "<item-id>",
		Action: func(c *cli.Context) error {
			itemID := c.Args().First()
			if itemID == "" {
				return errors.New("item id is required")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}
			tok, err := codec.Mint(itemID)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, tok)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Decode and verify a token",
		ArgsUsage: "<token>",
		Action: func(c *cli.Context) error {
			tok := c.Args().First()
			if tok == "" {
				return errors.New("token is required")
			}
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			codec, err := newCodec(cfg)
			if err != nil {
				return err
			}
			claims, err := codec.Verify(tok)
			if err != nil {
				return fmt.Errorf("invalid token: %w", err)
			}
			out := map[string]string{
				"item_id":   claims.ItemID,
				"issued_at": claims.IssuedAt.UTC().Format(time.RFC3339Nano),
				"nonce":     claims.Nonce,
			}
			if c.String("output") == "json" {
				return printJSON(c, out)
			}
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ITEM ID\t%s\n", out["item_id"])
			fmt.Fprintf(w, "ISSUED AT\t%s\n", out["issued_at"])
			fmt.Fprintf(w, "NONCE\t%s\n", out["nonce"])
			return w.Flush()
		},
	}
}

func issueCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue",
		Usage: "Issue a token for a catalogue model and register it in the ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "catalogue model name", Required: true},
			&cli.StringFlag{Name: "serial", Aliases: []string{"n"}, Usage: "unit serial number", Required: true},
		},
		Action: func(c *cli.Context) error {
			return withCoordinator(c, func(ctx context.Context, coord *redemption.Coordinator) error {
				iss, err := coord.IssueModel(ctx, c.String("model"), c.String("serial"))
				if err != nil {
					return err
				}
				if c.String("output") == "json" {
					return printJSON(c, map[string]string{"item_id": iss.ItemID, "token": iss.Token})
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", iss.ItemID, iss.Token)
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List ledger records, newest first",
		Action: func(c *cli.Context) error {
			return withCoordinator(c, func(ctx context.Context, coord *redemption.Coordinator) error {
				l, err := coord.List(ctx)
				if err != nil {
					return err
				}
				if c.String("output") == "json" {
					return printJSON(c, l)
				}
				w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ITEM ID\tMODEL\tSERIAL\tSTATUS\tREDEEMED BY")
				for _, r := range l.Records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ItemID, r.ModelName, r.SerialNumber, r.Status, r.RedeemedBy)
				}
				fmt.Fprintf(w, "\ntotal %d, redeemed %d, available %d\n", l.Stats.Total, l.Stats.Redeemed, l.Stats.Available)
				return w.Flush()
			})
		},
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:      "purge",
		Usage:     "Delete a ledger record; its tokens stop resolving",
		ArgsUsage: "<item-id>",
		Action: func(c *cli.Context) error {
			itemID := c.Args().First()
			if itemID == "" {
				return errors.New("item id is required")
			}
			return withCoordinator(c, func(ctx context.Context, coord *redemption.Coordinator) error {
				if err := coord.Purge(ctx, itemID); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "purged %s\n", itemID)
				return nil
			})
		},
	}
}
