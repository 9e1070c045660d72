package main

import (
	"strings"

	"github.com/arka-squad/arka-labs-sub000/internal/gates"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func gatesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "gates", Short: "Inspect the gate catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered gates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := gates.Default()
			if err != nil {
				return err
			}
			list := reg.List()
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), list)
			}
			tw := newTable(cmd.OutOrStdout(), table.Row{"ID", "Version", "Category", "Scope", "Risk", "Inputs"})
			for _, m := range list {
				tw.AppendRow(table.Row{m.ID, m.Version, m.Category, m.Scope, m.Risk, strings.Join(m.Inputs, ",")})
			}
			tw.Render()
			return nil
		},
	})
	return cmd
}

func recipesCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "recipes", Short: "Inspect the recipe catalog"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := gates.Default()
			if err != nil {
				return err
			}
			list := reg.Recipes()
			if v.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), list)
			}
			tw := newTable(cmd.OutOrStdout(), table.Row{"ID", "Version", "Scope", "Steps", "Title"})
			for _, r := range list {
				steps := make([]string, len(r.Steps))
				for i, s := range r.Steps {
					steps[i] = s.GateID
				}
				tw.AppendRow(table.Row{r.ID, r.Version, r.Scope, strings.Join(steps, " > "), r.Title})
			}
			tw.Render()
			return nil
		},
	})
	return cmd
}
