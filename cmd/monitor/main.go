// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/changedetection/internal/app"
	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/logger"
)

func main() {
	l := logger.New("monitor")
	l.Info("starting change detection event monitor (MQTT subscriber)")

	if err := config.InitGlobal("changedetection_config.txt"); err != nil {
		l.Fatal("failed to load config", "err", err)
	}
	if err := logger.Configure(config.Get().LogLevel, ""); err != nil {
		l.Fatal("failed to configure logging", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunMonitor(ctx, config.Get(), os.Stdout); err != nil {
		l.Fatal("monitor failed", "err", err)
	}
}
