package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/soochol/convograph/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "convograph",
	Short: "Conversational workflow graph engine",
	Long:  "convograph runs conversations through workflow graphs of agent, tool and\ncondition nodes, pausing for human approval where a tool requires it.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		level := slog.LevelInfo
		if rootFlags.verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&rootFlags.configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml when present)")
	f.BoolVarP(&rootFlags.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.Version = version
}

// loadConfig reads .env, then the configured or default config file.
func loadConfig() (*config.Config, error) {
	config.LoadEnv()
	if rootFlags.configPath != "" {
		return config.Load(rootFlags.configPath)
	}
	return config.LoadDefault()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
