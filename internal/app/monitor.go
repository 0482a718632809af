// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/changedetection/internal/config"
	"github.com/relabs-tech/changedetection/internal/events"
	"github.com/relabs-tech/changedetection/internal/logger"
)

// RunMonitor subscribes to the run events topic and prints one line per event
// until ctx is cancelled.
func RunMonitor(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("%w: MQTT_BROKER is not set", config.ErrConfiguration)
	}
	l := logger.New("monitor")

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-monitor").
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", cfg.MQTTBroker, token.Error())
	}
	defer client.Disconnect(250)
	l.Info("connected to MQTT broker", "broker", cfg.MQTTBroker)

	if err := monitorEvents(client, cfg.TopicEvents, out); err != nil {
		return err
	}
	l.Info("subscribed", "topic", cfg.TopicEvents)

	<-ctx.Done()
	l.Info("shutting down")
	return nil
}

// monitorEvents prints every event received on topic. Callbacks run on the
// client's goroutines, so writes to out are serialized.
func monitorEvents(client mqtt.Client, topic string, out io.Writer) error {
	var mu sync.Mutex
	return events.Subscribe(client, topic, logger.New("monitor"), func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, e.String())
	})
}
