// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Command tracker_check verifies the eye tracker before a session: connect,
// calibrate, record a few seconds and transfer the recording file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/changedetection/internal/app"
	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/logger"
)

func main() {
	var (
		configPath string
		simulated  bool
		duration   time.Duration
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "tracker_check",
		Short:        "Check the eye tracker connection, calibration and file transfer",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitGlobal(configPath); err != nil {
				return err
			}
			if logLevel == "" {
				logLevel = config.Get().LogLevel
			}
			if err := logger.Configure(logLevel, ""); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunTrackerCheck(ctx, app.TrackerCheckOptions{
				Config:    config.Get(),
				Simulated: simulated,
				Duration:  duration,
				Prompt:    !simulated,
				In:        os.Stdin,
				Out:       os.Stdout,
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "changedetection_config.txt", "Configuration file")
	cmd.Flags().BoolVar(&simulated, "simulated", false, "Use the in-process simulated tracker")
	cmd.Flags().DurationVar(&duration, "duration", 3*time.Second, "Length of the test recording")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "tracker check failed: %v\n", err)
		os.Exit(2)
	}
}
