package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/api/client"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/shared/utils"
)

const defaultServerURL = "http://127.0.0.1:8000"

func cardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cards",
		Short: "Manage runtime cards on a running host",
	}
	cmd.PersistentFlags().String("server", defaultServerURL, "Host API base URL")
	cmd.AddCommand(cardsPushCmd(), cardsListCmd(), cardsRemoveCmd())
	return cmd
}

func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	return client.New(client.DefaultConfig(server))
}

func cardsPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <dir>",
		Short: "Register every card script under dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern, _ := cmd.Flags().GetString("pattern")
			cards, readErr := bundle.ReadCards(os.DirFS(args[0]), pattern)
			if len(cards) == 0 && readErr == nil {
				return fmt.Errorf("no cards matched %q in %s", pattern, args[0])
			}

			c := apiClient(cmd)
			errs := []error{readErr}
			for _, card := range cards {
				if err := c.RegisterCard(cmd.Context(), card.ID, card.Code); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", card.Path, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", card.ID, card.Path)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().String("pattern", bundle.DefaultCardsPattern, "Glob selecting card scripts")
	return cmd
}

func cardsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered runtime cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cards, err := apiClient(cmd).ListCards(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHASH\tSIZE\tUPDATED")
			for _, card := range cards {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", card.ID, utils.ShortHash(card.Hash), card.Size, card.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}
}

func cardsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <card-id>",
		Short: "Unregister a runtime card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient(cmd).UnregisterCard(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
