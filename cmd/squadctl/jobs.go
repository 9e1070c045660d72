package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func jobsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "jobs", Short: "Inspect jobs recorded by the server"}

	var (
		owner string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List an owner's jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			return withStore(cmd, v, func(ctx context.Context, ks opsStore) error {
				jobs, err := ks.ListByOwner(ctx, owner, limit)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), jobs)
				}
				tw := newTable(cmd.OutOrStdout(), table.Row{"Job", "Type", "Target", "Status", "Progress", "Started", "Trace"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{
						j.ID, j.Type, j.TargetID, j.Status,
						progressText(j.Progress.Done, j.Progress.Total),
						j.StartedAt.Format(time.RFC3339), j.TraceID,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&owner, "owner", "", "job owner (the caller subject)")
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.AddCommand(list)
	return cmd
}

func progressText(done, total int) string {
	return fmt.Sprintf("%d/%d", done, total)
}
