package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/who-owes-who/auth"
	"github.com/warp/who-owes-who/config"
	"github.com/warp/who-owes-who/ledger"
	"github.com/warp/who-owes-who/logging"
	"github.com/warp/who-owes-who/seed"
	"github.com/warp/who-owes-who/store/sqlite"
)

// loadConfig reads the environment and applies the --db override.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Store.Path = db
	}
	return cfg, nil
}

func openStore(cmd *cobra.Command) (*sqlite.Store, config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, cfg, err
	}
	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return nil, cfg, fmt.Errorf("open database: %w", err)
	}
	return store, cfg, nil
}

// =============================================================================
// CARDS
// =============================================================================

func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Manage cards",
	}
	cmd.AddCommand(cardAddCmd())
	cmd.AddCommand(cardDeactivateCmd())
	cmd.AddCommand(cardListCmd())
	return cmd
}

func cardAddCmd() *cobra.Command {
	var initials string
	cmd := &cobra.Command{
		Use:   "add [id] [cardholder]",
		Short: "Register an active card",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			card := ledger.Card{
				ID:         ledger.CardID(strings.TrimSpace(args[0])),
				Cardholder: strings.TrimSpace(args[1]),
				Initials:   initials,
				Active:     true,
			}
			if card.ID == "" || card.Cardholder == "" {
				return fmt.Errorf("id and cardholder are required")
			}
			if err := store.SaveCard(cmd.Context(), card); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "card %s registered for %s\n", card.ID, card.Cardholder)
			return nil
		},
	}
	cmd.Flags().StringVarP(&initials, "initials", "i", "", "Cardholder initials")
	return cmd
}

func cardDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate [id]",
		Short: "Deactivate a card; its history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			id := ledger.CardID(args[0])
			card, err := store.GetCard(cmd.Context(), id)
			if err != nil {
				return err
			}
			if card == nil {
				return fmt.Errorf("card %s does not exist", id)
			}
			card.Active = false
			if err := store.SaveCard(cmd.Context(), *card); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "card %s deactivated\n", id)
			return nil
		},
	}
}

func cardListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			cards, err := store.ListCards(cmd.Context(), !all)
			if err != nil {
				return err
			}
			return printCards(cmd.OutOrStdout(), cards)
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include inactive cards")
	return cmd
}

func printCards(out io.Writer, cards []ledger.Card) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCARDHOLDER\tINITIALS\tACTIVE")
	for _, c := range cards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", c.ID, c.Cardholder, c.Initials, c.Active)
	}
	return tw.Flush()
}

// =============================================================================
// TOKENS
// =============================================================================

func tokenCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue a bearer token for the mutating API routes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			issuer, err := auth.NewIssuer(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name carried in the token")
	return cmd
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Run one settlement pass and print the tally",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := logging.NewWithWriter(cfg.Logging, cmd.ErrOrStderr())
			evaluator := ledger.NewEvaluator(store, ledger.RetryPolicy{
				MaxAttempts: cfg.Settlement.MaxAttempts,
				Backoff:     ledger.DefaultRetryPolicy().Backoff,
			}, cfg.Settlement.Tolerance, logger)

			result, err := evaluator.Evaluate(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CARDHOLDER\tTOTAL")
			for _, b := range result.Balances {
				fmt.Fprintf(tw, "%s\t%s\n", b.Cardholder, b.Total.StringFixed(ledger.AmountPlaces))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "settled=%t archived=%d\n", result.Settled, result.Archived)
			return nil
		},
	}
}

// =============================================================================
// SEED
// =============================================================================

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Register the cards listed in a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := seed.Load(args[0])
			if err != nil {
				return err
			}
			store, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := seed.Apply(cmd.Context(), store, cards); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d cards seeded\n", len(cards))
			return nil
		},
	}
}
