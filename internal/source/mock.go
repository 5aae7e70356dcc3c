package source

import (
	"context"
	"math/rand/v2"
	"time"
)

// Random walk parameters.
const (
	mockBaseRate    = 75.0
	mockMinRate     = 40.0
	mockMaxRate     = 120.0
	mockStep        = 1.0
	mockVariability = 5.0
)

// MockSource emits a bounded random walk at a fixed interval. The walk
// climbs until it passes mockMaxRate, then falls until it passes
// mockMinRate; emitted values are clamped to that range.
type MockSource struct {
	interval   time.Duration
	rng        *rand.Rand
	now        func() time.Time
	rate       float64
	increasing bool
}

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithInterval sets the tick interval. Defaults to one second.
func WithInterval(d time.Duration) MockOption {
	return func(m *MockSource) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSeed makes the walk reproducible.
func WithSeed(seed uint64) MockOption {
	return func(m *MockSource) {
		m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) MockOption {
	return func(m *MockSource) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMockSource creates a walk starting at 75 bpm, rising.
func NewMockSource(opts ...MockOption) *MockSource {
	m := &MockSource{
		interval:   time.Second,
		now:        time.Now,
		rate:       mockBaseRate,
		increasing: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return m
}

// Next advances the walk one step and returns the clamped rate.
func (m *MockSource) Next() float64 {
	step := mockStep + (m.rng.Float64()*2-1)*mockVariability
	if m.increasing {
		m.rate += step
		if m.rate > mockMaxRate {
			m.increasing = false
		}
	} else {
		m.rate -= step
		if m.rate < mockMinRate {
			m.increasing = true
		}
	}
	return max(mockMinRate, min(mockMaxRate, m.rate))
}

// Run emits one sample per interval until ctx is done.
func (m *MockSource) Run(ctx context.Context, emit EmitFunc) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			emit(m.Next(), m.now())
		}
	}
}
