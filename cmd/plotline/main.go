// plotline: suggestion evaluation and dispatch engine for story projects.
//
// Usage:
//
//	plotline serve             # MCP server on stdio
//	plotline serve --http      # MCP on stdio plus the frontend HTTP API
//	plotline http              # frontend HTTP API only
//	plotline rules validate    # check a rules file or directory
//	plotline rules list        # print the active rule catalogue
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/plotline/internal/config"
	"github.com/HendryAvila/plotline/internal/logging"
	"github.com/HendryAvila/plotline/internal/server"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	rulesDir   string
	logLevel   string
	inMemory   bool
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "plotline",
		Short:         "Suggestion engine for story writing projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `plotline evaluates a catalogue of suggestion rules against a story
project and the current conversation, offers the matching suggestions,
and runs the operation behind the one the user confirms.

Configuration is read from ~/.config/plotline/config.yaml, then the
nearest plotline.yaml, then PLOTLINE_* environment variables.`,
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (skips the layered lookup)")
	cmd.PersistentFlags().StringVar(&g.rulesDir, "rules", "", "Rules file or directory")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&g.inMemory, "in-memory", false, "Keep project data in memory")

	cmd.AddCommand(serveCmd(g), httpCmd(g), rulesCmd(g), configCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plotline v%s\n", server.Version)
		},
	})
	return cmd
}

// load resolves the configuration and logger for a command.
func (g *globalFlags) load() (*config.Config, *logging.Logger, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFromFile(g.configPath)
	} else {
		cfg, err = config.NewLoader(nil).Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	if g.rulesDir != "" {
		cfg.Rules.Dir = g.rulesDir
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.inMemory {
		cfg.Data.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, log, nil
}
