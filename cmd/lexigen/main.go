// lexigen turns a per-project corpus of text documents into a curated
// glossary through an LLM-backed pipeline, served over an HTTP API with
// live SSE run logs.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lexigen/lexigen/pkg/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "lexigen",
		Short:         "Glossary generation pipeline service",
		Version:       version.Full(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "lexigen.yaml", "path to the configuration file")

	root.AddCommand(newServeCmd(), newRunCmd())

	cobra.OnInitialize(func() {
		if err := godotenv.Load(); err == nil {
			slog.Debug("Loaded environment from .env")
		}
	})

	if err := root.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.message != "" {
				fmt.Fprintln(os.Stderr, exit.message)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// exitError carries a specific process exit code up through cobra.
type exitError struct {
	code    int
	message string
}

func (e *exitError) Error() string { return e.message }
