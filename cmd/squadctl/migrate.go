package main

import (
	"errors"
	"fmt"

	"github.com/arka-squad/arka-labs-sub000/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func migrateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := v.GetString("database-url")
			if url == "" {
				return errors.New("--database-url (or SQUADCTL_DATABASE_URL) is required")
			}
			dir := v.GetString("migrations-dir")
			if err := store.RunMigrations(url, dir); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrations applied from %s\n", dir)
			return nil
		},
	}
	cmd.Flags().String("migrations-dir", "migrations", "directory holding *.up.sql files")
	_ = v.BindPFlag("migrations-dir", cmd.Flags().Lookup("migrations-dir"))
	return cmd
}
