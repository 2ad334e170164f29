package main

import (
	"fmt"

	"deal_intake/pkg/core/excel"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var metrics []string
	cmd := &cobra.Command{
		Use:   "analyze <workbook>",
		Short: "Extract underwriting metrics from an xlsx or xls model",
		Long: `Extract underwriting metrics from a spreadsheet model.

Examples:
  # Every known metric
  intakectl analyze model.xlsx

  # Only IRR and equity multiple
  intakectl analyze --metrics irr,equity_multiple model.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			res, err := excel.NewAnalyzer(logger).Analyze(args[0], metrics)
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringSliceVar(&metrics, "metrics", nil, "metrics to extract (default all)")
	return cmd
}
