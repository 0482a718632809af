// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package events publishes experiment state transitions for remote monitoring.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/changedetection/internal/logger"
)

// Controller states carried by events.
const (
	StateInitializing      = "initializing"
	StateCondition         = "condition"
	StateBlock             = "block"
	StateTrial             = "trial"
	StateBlockComplete     = "block_complete"
	StateConditionComplete = "condition_complete"
	StateFinished          = "finished"
	StateAborting          = "aborting"
)

// Event is one controller transition. Block and Trial are zero-based and -1
// when not applicable.
type Event struct {
	RunID     string    `json:"run_id"`
	Time      time.Time `json:"time"`
	State     string    `json:"state"`
	Subject   string    `json:"subject,omitempty"`
	Condition string    `json:"condition,omitempty"`
	Block     int       `json:"block"`
	Trial     int       `json:"trial"`
	Correct   *bool     `json:"correct,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// String renders e as one console line.
func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%-18s]", e.Time.Format("15:04:05.000"), strings.ToUpper(e.State))
	if e.Subject != "" {
		fmt.Fprintf(&b, " subject=%s", e.Subject)
	}
	if e.Condition != "" {
		fmt.Fprintf(&b, " cond=%s", e.Condition)
	}
	if e.Block >= 0 {
		fmt.Fprintf(&b, " block=%d", e.Block+1)
	}
	if e.Trial >= 0 {
		fmt.Fprintf(&b, " trial=%d", e.Trial+1)
	}
	if e.Correct != nil {
		fmt.Fprintf(&b, " correct=%t", *e.Correct)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

// Publisher delivers events. Delivery failures never stop the experiment.
type Publisher interface {
	Publish(e Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) error { return nil }
func (Nop) Close()              {}

// publishTimeout bounds how long a pending publish is watched before it is
// logged as lost.
const publishTimeout = 500 * time.Millisecond

// MQTTPublisher sends events as JSON to one topic.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	log    *log.Logger
	wg     sync.WaitGroup
}

// ConnectMQTT connects to broker and returns a publisher on topic.
func ConnectMQTT(broker, clientID, topic string, l *log.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	p := newMQTTPublisher(client, topic, l)
	p.log.Info("connected to MQTT broker", "broker", broker, "topic", topic)
	return p, nil
}

func newMQTTPublisher(client mqtt.Client, topic string, l *log.Logger) *MQTTPublisher {
	if l == nil {
		l = logger.New("events")
	}
	return &MQTTPublisher{client: client, topic: topic, log: l}
}

// Publish sends e without waiting on the broker. Errors the client reports
// immediately are returned; later failures are only logged.
func (p *MQTTPublisher) Publish(e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", p.topic, err)
		}
		return nil
	default:
	}

	// Never wait on the broker from the trial loop.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.log.Warn("event publish timed out", "topic", p.topic, "state", e.State)
			return
		}
		if err := token.Error(); err != nil {
			p.log.Warn("event publish failed", "topic", p.topic, "state", e.State, "err", err)
		}
	}()
	return nil
}

// Close disconnects after letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.wg.Wait()
	p.client.Disconnect(250)
	p.log.Info("disconnected from MQTT broker")
}

// Subscribe calls handle for every event arriving on topic. Undecodable
// payloads are logged and skipped.
func Subscribe(client mqtt.Client, topic string, l *log.Logger, handle func(Event)) error {
	if l == nil {
		l = logger.New("events")
	}
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var e Event
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			l.Warn("event unmarshal failed", "topic", msg.Topic(), "err", err)
			return
		}
		handle(e)
	})
	token.Wait()
	return token.Error()
}
