// Command inferd serves tensor models over HTTP.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "inferd:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "inferd",
		Short:         "Multi-model inference server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), serveCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "inferd %s (commit: %s)\n", version, commit)
		},
	}
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured models and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	// Flags with environment variable defaults
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", os.Getenv("INFERD_CONFIG"), "Config file (.yaml, .json or .toml)")
	f.StringVar(&opts.addr, "addr", os.Getenv("INFERD_ADDR"), "HTTP listen address, e.g. :8080")
	f.StringVar(&opts.modelsDir, "models-dir", os.Getenv("INFERD_MODELS_DIR"), "Directory of <name>/<version>/ model trees, used when the config lists no models")
	f.StringVar(&opts.logLevel, "log-level", os.Getenv("INFERD_LOG_LEVEL"), "Log level: debug|info|warn|error")
	f.StringVar(&opts.corsOrigins, "cors-origins", os.Getenv("INFERD_CORS_ORIGINS"), "Comma separated allowed CORS origins; enables CORS when set")
	return cmd
}

// splitCSV splits a comma separated list, dropping empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
