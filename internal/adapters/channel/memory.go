package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory is one end of an in-process channel pair. It can simulate an
// unreachable peer, transport errors, lost and duplicated deliveries.
type Memory struct {
	name string
	peer *Memory

	mu        sync.Mutex
	handler   func([]byte)
	sent      [][]byte
	sendErr   error
	dropNext  int
	duplicate bool

	reachable atomic.Bool
	closed    atomic.Bool
	bytesSent atomic.Int64
}

// NewMemoryPair returns two linked, reachable ends.
func NewMemoryPair(nameA, nameB string) (*Memory, *Memory) {
	a := &Memory{name: nameA}
	b := &Memory{name: nameB}
	a.peer, b.peer = b, a
	a.reachable.Store(true)
	b.reachable.Store(true)
	return a, b
}

// Name returns the label given at construction.
func (m *Memory) Name() string { return m.name }

// SetReachable toggles what IsReachable reports on this end.
func (m *Memory) SetReachable(ok bool) { m.reachable.Store(ok) }

// FailSends makes every Send return err until called with nil.
func (m *Memory) FailSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

// DropNext silently loses the next n accepted sends.
func (m *Memory) DropNext(n int) {
	m.mu.Lock()
	m.dropNext = n
	m.mu.Unlock()
}

// Duplicate delivers every accepted send twice.
func (m *Memory) Duplicate(on bool) {
	m.mu.Lock()
	m.duplicate = on
	m.mu.Unlock()
}

func (m *Memory) IsReachable() bool {
	return !m.closed.Load() && m.reachable.Load()
}

// Send records payload as transmitted and delivers it to the peer's handler.
func (m *Memory) Send(_ context.Context, payload []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}

	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return err
	}
	buf := append([]byte(nil), payload...)
	m.sent = append(m.sent, buf)
	m.bytesSent.Add(int64(len(buf)))
	drop := m.dropNext > 0
	if drop {
		m.dropNext--
	}
	copies := 1
	if m.duplicate {
		copies = 2
	}
	m.mu.Unlock()

	if drop || m.peer.closed.Load() {
		return nil
	}
	for i := 0; i < copies; i++ {
		m.peer.deliver(buf)
	}
	return nil
}

func (m *Memory) deliver(payload []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (m *Memory) OnReceive(handler func([]byte)) {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
}

// Sent returns a copy of every payload this end transmitted.
func (m *Memory) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

// BytesSent is the total payload size transmitted by this end.
func (m *Memory) BytesSent() int64 { return m.bytesSent.Load() }

func (m *Memory) Close() error {
	m.closed.Store(true)
	return nil
}
