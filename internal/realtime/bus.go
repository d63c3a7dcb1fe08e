// Package realtime manages subscriptions to per-conversation and global chat
// event channels. The transport is a small bus abstraction: core NATS in live
// deployments, an in-memory hub for testing and fallback mode. Core NATS
// delivers at most once per active subscription; a reconnecting subscriber
// never receives a replay of missed events.
package realtime

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// Bus is the pub/sub transport behind the notifier.
type Bus interface {
	Publish(subject string, data []byte) error
	// Subscribe delivers every future message on subject to handler and
	// returns a function that stops delivery.
	Subscribe(subject string, handler func(data []byte)) (func() error, error)
	IsConnected() bool
	Close()
}

// natsBus adapts a NATS connection to the Bus interface.
type natsBus struct {
	conn *nats.Conn
}

// NewNATSBus wraps an established NATS connection.
func NewNATSBus(conn *nats.Conn) Bus {
	return &natsBus{conn: conn}
}

func (b *natsBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *natsBus) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (b *natsBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *natsBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// memoryBus is an in-process hub used by the testing profile and fallback
// mode. Handlers run synchronously on the publisher's goroutine.
type memoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(data []byte)
	nextID int
	closed bool
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() Bus {
	return &memoryBus{subs: make(map[string]map[int]func(data []byte))}
}

func (b *memoryBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *memoryBus) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func(data []byte))
	}
	id := b.nextID
	b.nextID++
	b.subs[subject][id] = handler

	unsub := func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		if handlers, ok := b.subs[subject]; ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subs, subject)
			}
		}
		return nil
	}
	return unsub, nil
}

func (b *memoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *memoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]func(data []byte))
}
