// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/changedetection/internal/logger"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// pendingToken completes only when released.
type pendingToken struct {
	done chan struct{}
	err  error
}

func (t *pendingToken) Wait() bool { <-t.done; return true }
func (t *pendingToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *pendingToken) Error() error          { return t.err }
func (t *pendingToken) Done() <-chan struct{} { return t.done }

type published struct {
	topic   string
	payload []byte
}

// fakeClient overrides the calls the publisher and subscriber make.
type fakeClient struct {
	mqtt.Client
	err         error
	pending     *pendingToken
	published   []published
	handler     mqtt.MessageHandler
	disconnects int
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	if c.pending != nil {
		return c.pending
	}
	return doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnects++ }

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.handler = cb
	return doneToken{}
}

type fakeMessage struct {
	mqtt.Message
	payload []byte
}

func (m fakeMessage) Topic() string   { return "changedetection/events" }
func (m fakeMessage) Payload() []byte { return m.payload }

func TestMQTTPublisherSendsJSON(t *testing.T) {
	client := &fakeClient{}
	p := newMQTTPublisher(client, "changedetection/events", logger.Discard())

	e := Event{RunID: "r1", State: StateTrial, Subject: "S01", Condition: "Fixated", Block: 1, Trial: 4}
	require.NoError(t, p.Publish(e))
	require.Len(t, client.published, 1)
	assert.Equal(t, "changedetection/events", client.published[0].topic)

	var got Event
	require.NoError(t, json.Unmarshal(client.published[0].payload, &got))
	assert.Equal(t, e, got)
}

func TestMQTTPublisherReportsBrokerError(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := newMQTTPublisher(client, "t", logger.Discard())
	assert.Error(t, p.Publish(Event{State: StateFinished}))
}

func TestMQTTPublisherDoesNotWaitOnBroker(t *testing.T) {
	tok := &pendingToken{done: make(chan struct{})}
	client := &fakeClient{pending: tok}
	p := newMQTTPublisher(client, "t", logger.Discard())

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(Event{State: StateTrial, Trial: i}))
	}
	assert.Less(t, time.Since(start), publishTimeout)
	assert.Len(t, client.published, 5)

	tok.err = errors.New("connection lost")
	close(tok.done)
	p.Close()
	assert.Equal(t, 1, client.disconnects)
}

func TestSubscribeDecodesEvents(t *testing.T) {
	client := &fakeClient{}
	var got []Event
	require.NoError(t, Subscribe(client, "changedetection/events", logger.Discard(), func(e Event) {
		got = append(got, e)
	}))
	require.NotNil(t, client.handler)

	payload, err := json.Marshal(Event{State: StateBlock, Block: 0, Trial: -1})
	require.NoError(t, err)
	client.handler(client, fakeMessage{payload: []byte("{not json")})
	client.handler(client, fakeMessage{payload: payload})

	require.Len(t, got, 1)
	assert.Equal(t, StateBlock, got[0].State)
}

func TestEventString(t *testing.T) {
	correct := true
	e := Event{
		Time:      time.Date(2026, 1, 2, 13, 4, 5, 6e6, time.UTC),
		State:     StateTrial,
		Subject:   "S01",
		Condition: "FreeGaze",
		Block:     0,
		Trial:     9,
		Correct:   &correct,
	}
	assert.Equal(t, "13:04:05.006 [TRIAL             ] subject=S01 cond=FreeGaze block=1 trial=10 correct=true", e.String())

	e = Event{Time: e.Time, State: StateAborting, Block: -1, Trial: -1, Error: "device lost"}
	assert.Equal(t, `13:04:05.006 [ABORTING          ] error="device lost"`, e.String())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(Event{}))
	p.Close()
}
