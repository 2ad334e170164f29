package main

import (
	"fmt"
	"io"
	"os"

	"deal_intake/pkg/core/agent"
	"deal_intake/pkg/core/extract"
	"deal_intake/pkg/core/parser"
	"deal_intake/pkg/core/prompt"

	"github.com/spf13/cobra"
)

type extractOutput struct {
	Kind      extract.DocumentKind `json:"kind,omitempty"`
	Candidate any                  `json:"candidate"`
}

func newExtractCmd() *cobra.Command {
	var (
		classify        bool
		requireOperator bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file|->",
		Short: "Run the AI deal extraction over a document",
		Long: `Parse a document (or read plain text from stdin with "-") and run the
deal extraction agent over it. The provider comes from the agents file in
the config.

Examples:
  intakectl extract offering_memo.pdf
  pbpaste | intakectl extract --classify -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()
			defer logger.Sync()
			ctx := cmd.Context()

			var text string
			if args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			} else {
				if _, err := os.Stat(args[0]); err != nil {
					return err
				}
				res, err := parser.NewDispatcher(logger).Parse(ctx, args[0], "")
				if err != nil {
					return err
				}
				text = res.Text
			}

			agentCfg, err := agent.LoadConfig(cfg.AgentsFile)
			if err != nil {
				return err
			}
			mgr := agent.NewManager(agentCfg, logger)
			prompts := prompt.Get()

			var out extractOutput
			if classify {
				kind, err := extract.NewClassifier(mgr, prompts, logger).Classify(ctx, text)
				if err != nil {
					return err
				}
				out.Kind = kind
			}
			cand, err := extract.NewExtractor(mgr, prompts, logger).Extract(ctx, extract.Input{
				Text:            text,
				RequireOperator: requireOperator,
			})
			if err != nil {
				return err
			}
			out.Candidate = cand
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&classify, "classify", false, "also classify the document as deal or fund")
	cmd.Flags().BoolVar(&requireOperator, "require-operator", false, "reject a result without an operator name")
	return cmd
}
