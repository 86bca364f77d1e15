// Package memory is an in-process publisher used by tests and single node
// deployments without a broker.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message captures one publish call for inspection.
type Message struct {
	Topic   string
	Payload any
}

// Publisher records every published payload in order.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Reset clears the recorded publishes.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
