// Package main provides the copilot CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/joss/copilot/internal/config"
	"github.com/joss/copilot/internal/logging"
)

var (
	version   = "0.1.0"
	loadOpts  config.Options
	verbose   bool
	pretty    = true
	cfg       *config.Config
	flushLogs = func() error { return nil }
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "copilot",
		Short: "Conversation copilot - live knowledge recall during calls",
		Long: `copilot listens to a conversation, surfaces related knowledge as you
talk and wraps the call up afterwards: a summary, shared items, audio
clips and a follow-up draft for your partner.

Use 'copilot doctor' to check the recognizer, ffmpeg, radicle and graph.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(loadOpts)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if verbose {
				loaded.Log.Verbose = true
			}
			if err := loaded.Paths.EnsureDirs(); err != nil {
				return fmt.Errorf("prepare %s: %w", loaded.Paths.Home, err)
			}
			cfg = loaded

			flushLogs = logging.Setup(logging.Options{
				File:    filepath.Join(cfg.Paths.Logs, "copilot.log"),
				Verbose: cfg.Log.Verbose,
			})
			logging.New("cli").Debug("command_start", map[string]interface{}{"command": cmd.CommandPath()})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			flushLogs()
		},
	}

	rootCmd.PersistentFlags().StringVar(&loadOpts.Home, "home", "", "Copilot home directory (default ~/.copilot)")
	rootCmd.PersistentFlags().StringVar(&loadOpts.ConfigFile, "config", "", "Config file (default <home>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror diagnostic log to stderr")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "call", Title: "Calls:"},
		&cobra.Group{ID: "knowledge", Title: "Knowledge:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	for _, c := range []*cobra.Command{callCmd(), sessionsCmd(), replayCmd()} {
		c.GroupID = "call"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{partnersCmd(), itemsCmd()} {
		c.GroupID = "knowledge"
		rootCmd.AddCommand(c)
	}
	doctor := doctorCmd()
	doctor.GroupID = "system"
	rootCmd.AddCommand(doctor)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("copilot %s\n", version)
		},
	}
}
