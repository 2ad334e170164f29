// Package main implements intakectl, an operator CLI for running the intake
// document tools locally.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"deal_intake/pkg/core/config"
	"deal_intake/pkg/core/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string
	version    = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "intakectl",
		Short: "Deal intake document tools",
		Long: `intakectl runs the deal intake parsers, the spreadsheet analyzer and the
AI extractor against local files, and applies the database schema.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to config.yaml")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newParseCmd())
	root.AddCommand(newExtractCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newLogger() *zap.Logger {
	logger, err := logging.New(logLevel, "console")
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
