package main

import (
	"fmt"

	"deal_intake/pkg/core/parser"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type parseOutput struct {
	File   string         `json:"file"`
	Result *parser.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func newParseCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "parse <file>...",
		Short: "Extract text from PDFs, spreadsheets and text files",
		Long: `Extract text from one or more documents using the same parsers the
intake pipeline runs on attachments. Files are parsed concurrently; a file
that fails is reported in the output and does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			defer logger.Sync()

			d := parser.NewDispatcher(logger)
			out := make([]parseOutput, len(args))

			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(workers)
			for i, path := range args {
				g.Go(func() error {
					out[i].File = path
					res, err := d.Parse(ctx, path, "")
					if err != nil {
						out[i].Error = err.Error()
						return nil
					}
					out[i].Result = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("failed to parse: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "concurrent parsers")
	return cmd
}
