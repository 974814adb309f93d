package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lifelog/lifelog/internal/formula"
)

func newFormulaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formula",
		Short: "Work with synthetic series formulas",
	}

	check := &cobra.Command{
		Use:   "check <formula>",
		Short: "Parse a formula and print its canonical form",
		Long: `Parse a formula offline and print its canonical form and the series it
reads. Whether those series exist is not checked.

Examples:
  lifelogctl formula check 'series "steps" / 1000'
  lifelogctl formula check 'series "weight" delta value'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formula.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "formula: %s\n", f.String())
			if len(f.Dependents) == 0 {
				fmt.Fprintln(out, "reads:   (no series)")
				return nil
			}
			refs := make([]string, len(f.Dependents))
			for i, name := range f.Dependents {
				refs[i] = formula.SeriesRefText(name)
			}
			fmt.Fprintf(out, "reads:   %s\n", strings.Join(refs, ", "))
			return nil
		},
	}

	cmd.AddCommand(check)
	return cmd
}
