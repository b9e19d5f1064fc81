package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const defaultConfigName = "preview-gateway.config"

// cfgFile is the XML config path shared by every subcommand.
var cfgFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "preview-gateway",
		Short: "Document preview and upload queue gateway",
		Long: `preview-gateway renders document previews and drains upload batches
against the document API, pausing on name conflicts until a client picks a
resolution.

Running it without a subcommand starts the HTTP server.`,
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE:          runServe,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "XML configuration file (default: "+defaultConfigName+" next to the executable)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRenderCmd())
	root.AddCommand(newClassifyCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{.Name}} version {{.Version}}` + "\n")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configPath returns --config or the default file beside the executable.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return filepath.Join(filepath.Dir(exePath), defaultConfigName), nil
}
