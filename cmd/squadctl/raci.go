package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/arka-squad/arka-labs-sub000/internal/raci"
	"github.com/arka-squad/arka-labs-sub000/pkg/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var errRACIInvalid = errors.New("RACI invariants violated")

// raciFile is the on-disk shape: existing assignments plus the proposed change.
type raciFile struct {
	Existing    []models.RACIAssignment `yaml:"existing"`
	Assignments []models.RACIAssignment `yaml:"assignments"`
}

func raciCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{Use: "raci", Short: "RACI matrix tools"}

	var file string
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a RACI assignment file without touching the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			var f raciFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			for i, a := range f.Assignments {
				if errs := raci.ValidateSingle(a); len(errs) > 0 {
					return fmt.Errorf("assignment %d: %v", i, errs)
				}
			}

			res := raci.Validate(f.Existing, f.Assignments)
			if v.GetBool("json") {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				tw := newTable(cmd.OutOrStdout(), table.Row{"#", "Violation"})
				for i, msg := range res.Violations {
					tw.AppendRow(table.Row{i + 1, msg})
				}
				tw.AppendFooter(table.Row{"valid", res.IsValid})
				tw.Render()
			}
			if !res.IsValid {
				return fmt.Errorf("%w: %d violation(s)", errRACIInvalid, len(res.Violations))
			}
			return nil
		},
	}
	check.Flags().StringVarP(&file, "file", "f", "", "YAML file with assignments (and optional existing)")
	cmd.AddCommand(check)
	return cmd
}
