package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newRootCmd builds the command tree. Each tree carries its own viper
// instance so flags and SQUADCTL_* env vars never leak between invocations.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SQUADCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "squadctl",
		Short:         "squadops operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().String("database-url", "", "Postgres connection URL (migrate, jobs, apikey)")
	_ = v.BindPFlag("json", root.PersistentFlags().Lookup("json"))
	_ = v.BindPFlag("database-url", root.PersistentFlags().Lookup("database-url"))

	root.AddCommand(gatesCmd(v))
	root.AddCommand(recipesCmd(v))
	root.AddCommand(runCmd(v))
	root.AddCommand(raciCmd(v))
	root.AddCommand(migrateCmd(v))
	root.AddCommand(jobsCmd(v))
	root.AddCommand(apikeyCmd(v))
	return root
}
