// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command experiment runs one change detection session with eye tracking.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/changedetection/internal/app"
	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/logger"
)

var (
	configPath string
	subject    string
	dryRun     bool
	overwrite  bool
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Run the eye-tracking change detection experiment",
	Long: `Runs one session of the change detection task: instructions, calibration,
blocks of trials with eye-tracker recording, and the transfer of the recording
file at the end.

Exit codes: 0 completed, 1 setup cancelled, 2 fault, 3 quit by operator.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "changedetection_config.txt", "Configuration file")
	rootCmd.Flags().StringVarP(&subject, "subject", "s", "", "Subject identifier (prompted when empty)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Scripted responses and a simulated tracker, no hardware")
	rootCmd.Flags().BoolVarP(&overwrite, "overwrite", "y", false, "Overwrite existing data files without asking")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}

func run(cmd *cobra.Command, _ []string) error {
	if err := config.InitGlobal(configPath); err != nil {
		return err
	}
	cfg := config.Get()
	level := logLevel
	if level == "" {
		level = cfg.LogLevel
	}
	if err := logger.Configure(level, logFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.RunExperiment(ctx, app.ExperimentOptions{
		Config:    cfg,
		Subject:   subject,
		DryRun:    dryRun,
		Overwrite: overwrite,
		In:        os.Stdin,
		Out:       os.Stdout,
	})
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "experiment: %v\n", err)
	}
	os.Exit(app.ExitCode(err))
}
