// Package brokertest provides an in-memory broker.Publisher for tests.
package brokertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ragflow/ragflow/node/config"
)

// Published is one recorded message.
type Published struct {
	Route     config.Route
	MessageID string
	Body      []byte
}

// Decode unmarshals the recorded body into v.
func (p Published) Decode(v interface{}) error {
	return json.Unmarshal(p.Body, v)
}

// Publisher records messages. When Err is set every publish fails with it;
// FailAfter > 0 lets that many publishes succeed first.
type Publisher struct {
	mu        sync.Mutex
	Messages  []Published
	Err       error
	FailAfter int
	calls     int
}

// Publish implements broker.Publisher.
func (p *Publisher) Publish(_ context.Context, route config.Route, msg interface{}, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.Err != nil && (p.FailAfter == 0 || p.calls > p.FailAfter) {
		return p.Err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.Messages = append(p.Messages, Published{Route: route, MessageID: messageID, Body: body})
	return nil
}

// Len returns the number of recorded messages.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Messages)
}

// All returns a copy of the recorded messages.
func (p *Publisher) All() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Published(nil), p.Messages...)
}
