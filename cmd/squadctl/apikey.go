package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func apikeyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Inspect and revoke API keys of machine callers"}
	cmd.AddCommand(apikeyListCmd(v))
	cmd.AddCommand(apikeyRevokeCmd(v))
	return cmd
}

func apikeyListCmd(v *viper.Viper) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active keys of a subject",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			return withStore(cmd, v, func(ctx context.Context, ks opsStore) error {
				keys, err := ks.ListAPIKeys(ctx, subject)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), keys)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"ID", "Name", "Prefix", "Role", "Last used", "Created"})
				for _, k := range keys {
					last := "never"
					if k.LastUsedAt != nil {
						last = k.LastUsedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{k.ID, k.Name, k.KeyPrefix, k.Role, last, k.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "key owner")
	return cmd
}

func apikeyRevokeCmd(v *viper.Viper) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return withStore(cmd, v, func(ctx context.Context, ks opsStore) error {
				if err := ks.RevokeAPIKey(ctx, id, subject); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no active key %s for %s", id, subject)
					}
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "key owner")
	return cmd
}
