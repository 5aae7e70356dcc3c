// Package app wires the beat window, detector, event store and sync
// protocol of one node into a single serial loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/adapters/channel"
	"github.com/okian/hrvlink/internal/adapters/mq/queue"
	"github.com/okian/hrvlink/internal/adapters/mq/worker"
	"github.com/okian/hrvlink/internal/domain/dedupe"
	"github.com/okian/hrvlink/internal/domain/detector"
	"github.com/okian/hrvlink/internal/domain/eventstore"
	"github.com/okian/hrvlink/internal/domain/hrv"
	"github.com/okian/hrvlink/internal/domain/model"
	"github.com/okian/hrvlink/internal/syncproto"
	"github.com/okian/hrvlink/pkg/logger"
	"github.com/okian/hrvlink/pkg/metrics"
)

// Role selects which side of the pair a node plays.
type Role string

const (
	// RoleSensor owns beat ingestion and event creation.
	RoleSensor Role = "sensor"
	// RoleDisplay owns the confirmation surface.
	RoleDisplay Role = "display"
)

// Origin tells the node where a sample came from, so it can discard
// samples that do not match the current mode.
type Origin int

const (
	OriginMock Origin = iota
	OriginLive
)

func (o Origin) String() string {
	if o == OriginLive {
		return "live"
	}
	return "mock"
}

// Stats are counters readable without going through the loop.
type Stats struct {
	Role             Role   `json:"role"`
	NodeID           string `json:"node_id"`
	Running          bool   `json:"running"`
	BeatsApplied     int64  `json:"beats_applied"`
	BeatsDiscarded   int64  `json:"beats_discarded"`
	EventsStarted    int64  `json:"events_started"`
	EventsFinalized  int64  `json:"events_finalized"`
	EventsHandled    int64  `json:"events_handled"`
	MessagesReceived int64  `json:"messages_received"`
	MessagesRejected int64  `json:"messages_rejected"`
	SendFailures     int64  `json:"send_failures"`
	InboxDropped     int64  `json:"inbox_dropped"`
	InboxLen         int    `json:"inbox_len"`
}

// Node is one side of the sensor/display pair. All domain state is owned by
// the loop goroutine; public methods post inputs to the inbox and, for
// reads, wait for the loop to answer.
type Node struct {
	role          Role
	id            string
	window        time.Duration
	threshold     float64
	mirror        bool
	inboxSize     int
	tombstoneSize int
	newID         func() uuid.UUID
	logger        logger.Logger

	ch     channel.MessageChannel
	proto  *syncproto.Protocol
	inbox  *queue.InMemoryQueue[input]
	worker *worker.InMemoryWorker[input]

	// loop-owned state
	beats    *hrv.BeatWindow
	detector *detector.Detector
	store    *eventstore.Store
	isMock   bool
	latestHR float64

	mu      sync.Mutex
	started bool

	beatsApplied     atomic.Int64
	beatsDiscarded   atomic.Int64
	eventsStarted    atomic.Int64
	eventsFinalized  atomic.Int64
	eventsHandled    atomic.Int64
	messagesReceived atomic.Int64
	messagesRejected atomic.Int64
	sendFailures     atomic.Int64
	inboxDropped     atomic.Int64
}

// New creates a node for role talking to its peer over ch.
func New(role Role, ch channel.MessageChannel, opts ...Option) *Node {
	n := &Node{
		role:          role,
		id:            string(role),
		window:        hrv.DefaultWindow,
		threshold:     detector.DefaultThreshold,
		inboxSize:     1024,
		tombstoneSize: 10_000,
		isMock:        true,
		ch:            ch,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logger.Named("node")
	}
	n.logger = n.logger.With(logger.String("role", string(n.role)), logger.String("node_id", n.id))

	n.beats = hrv.NewBeatWindow(hrv.WithWindow(n.window))
	detOpts := []detector.Option{detector.WithThreshold(n.threshold)}
	if n.newID != nil {
		detOpts = append(detOpts, detector.WithIDGenerator(n.newID))
	}
	n.detector = detector.New(detOpts...)
	n.store = eventstore.New(eventstore.WithTombstones(
		dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(n.tombstoneSize)),
	))
	n.proto = syncproto.New(ch, syncproto.WithLogger(n.logger))
	n.inbox = queue.NewInMemoryQueue[input](queue.WithCapacity(n.inboxSize))
	n.worker = worker.NewInMemoryWorker[input](n.inbox, worker.HandlerFunc[input](n.handle),
		worker.WithName(n.id), worker.WithLogger(n.logger))

	metrics.UpdateMockMode(n.isMock)
	return n
}

// Role returns the node's role.
func (n *Node) Role() Role { return n.role }

// Start subscribes to the channel and runs the loop until ctx ends or Stop.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.started {
		return nil
	}
	if n.inbox.IsClosed() {
		return fmt.Errorf("%w: node was stopped", ErrNotStarted)
	}

	n.ch.OnReceive(n.deliver)
	go n.worker.Run(ctx)
	n.started = true

	n.logger.Info(ctx, "node started",
		logger.Float64("threshold_ms", n.threshold),
		logger.Duration("window", n.window),
		logger.Bool("mock", n.isMock),
		logger.Bool("mirror", n.mirror),
	)
	return nil
}

// Stop ends the loop and closes the inbox. The channel is left to its owner.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		return nil
	}
	n.started = false
	err := n.worker.Shutdown(ctx)
	_ = n.inbox.Close()
	n.logger.Info(ctx, "node stopped")
	return err
}

// SubmitBeat posts a sample from a heart-rate source. The rate must be
// finite and positive.
func (n *Node) SubmitBeat(ctx context.Context, heartRate float64, ts time.Time, origin Origin) error {
	if math.IsNaN(heartRate) || math.IsInf(heartRate, 0) || heartRate <= 0 {
		n.beatsDiscarded.Add(1)
		metrics.RecordBeatDiscarded("invalid")
		return fmt.Errorf("%w: heart rate %v", ErrInvalidSample, heartRate)
	}
	return n.post(ctx, beatInput{heartRate: heartRate, ts: ts, origin: origin})
}

// Respond records the user's verdict and tells the peer. Answering an id
// that is no longer pending is not an error; the verdict is sent again.
func (n *Node) Respond(ctx context.Context, id uuid.UUID, confirmed bool) error {
	return n.query(ctx, func(ctx context.Context) { n.respond(ctx, id, confirmed) })
}

// ToggleMode sets the mode flag locally and tells the peer.
func (n *Node) ToggleMode(ctx context.Context, isMock bool) error {
	return n.query(ctx, func(ctx context.Context) { n.setMode(ctx, isMock, true) })
}

// Pending returns the events awaiting a verdict.
func (n *Node) Pending(ctx context.Context) ([]model.Event, error) {
	var out []model.Event
	err := n.query(ctx, func(context.Context) { out = n.store.Pending() })
	return out, err
}

// Active returns the in-progress event, if any.
func (n *Node) Active(ctx context.Context) (model.Event, bool, error) {
	var (
		e  model.Event
		ok bool
	)
	err := n.query(ctx, func(context.Context) { e, ok = n.store.Active() })
	return e, ok, err
}

// Snapshot returns the current HRV metrics. LatestHeartRate also reflects
// samples received from the peer.
func (n *Node) Snapshot(ctx context.Context) (hrv.Snapshot, error) {
	var s hrv.Snapshot
	err := n.query(ctx, func(context.Context) {
		s = n.beats.Snapshot()
		if n.latestHR > 0 {
			s.LatestHeartRate = n.latestHR
		}
	})
	return s, err
}

// MockMode returns the current mode flag.
func (n *Node) MockMode(ctx context.Context) (bool, error) {
	var v bool
	err := n.query(ctx, func(context.Context) { v = n.isMock })
	return v, err
}

// Stats returns counters without waiting on the loop.
func (n *Node) Stats() Stats {
	n.mu.Lock()
	running := n.started
	n.mu.Unlock()

	return Stats{
		Role:             n.role,
		NodeID:           n.id,
		Running:          running,
		BeatsApplied:     n.beatsApplied.Load(),
		BeatsDiscarded:   n.beatsDiscarded.Load(),
		EventsStarted:    n.eventsStarted.Load(),
		EventsFinalized:  n.eventsFinalized.Load(),
		EventsHandled:    n.eventsHandled.Load(),
		MessagesReceived: n.messagesReceived.Load(),
		MessagesRejected: n.messagesRejected.Load(),
		SendFailures:     n.sendFailures.Load(),
		InboxDropped:     n.inboxDropped.Load(),
		InboxLen:         n.inbox.Len(context.Background()),
	}
}

// deliver is the channel callback; it never blocks.
func (n *Node) deliver(payload []byte) {
	ctx := context.Background()
	if err := n.post(ctx, inboundInput{payload: payload}); err != nil {
		n.logger.Warn(ctx, "dropping inbound message", logger.Int("bytes", len(payload)), logger.Error(err))
	}
}

func (n *Node) post(ctx context.Context, in input) error {
	n.mu.Lock()
	started := n.started
	n.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	if err := n.inbox.Enqueue(ctx, in); err != nil {
		n.inboxDropped.Add(1)
		switch {
		case errors.Is(err, queue.ErrFull):
			return fmt.Errorf("%w: %w", ErrInboxFull, err)
		case errors.Is(err, queue.ErrClosed):
			return fmt.Errorf("%w: %w", ErrNotStarted, err)
		default:
			return err
		}
	}
	return nil
}

// query runs fn on the loop and waits for it.
func (n *Node) query(ctx context.Context, fn func(context.Context)) error {
	done := make(chan struct{})
	if err := n.post(ctx, queryInput{fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.worker.Done():
		return ErrNotStarted
	}
}

func (n *Node) handle(ctx context.Context, in input) {
	in.apply(ctx, n)
}

// onBeat runs on the loop.
func (n *Node) onBeat(ctx context.Context, heartRate float64, ts time.Time, origin Origin) {
	if (origin == OriginMock) != n.isMock {
		n.beatsDiscarded.Add(1)
		metrics.RecordBeatDiscarded("mode")
		return
	}

	n.beats.AddBeat(heartRate, ts)
	n.latestHR = heartRate
	n.beatsApplied.Add(1)
	metrics.RecordBeat(heartRate, n.beats.Len())
	rmssd, rmssdOK := n.beats.RMSSD()
	sdnn, sdnnOK := n.beats.SDNN()
	metrics.UpdateHRV(rmssd, rmssdOK, sdnn, sdnnOK)

	n.send(ctx, syncproto.HeartRateSample{HeartRate: heartRate, Timestamp: ts})

	if n.role != RoleSensor {
		return
	}

	tr := n.detector.Observe(rmssd, rmssdOK, ts)
	switch tr.Edge {
	case detector.Started:
		n.store.SetActive(tr.Event)
		n.eventsStarted.Add(1)
		metrics.RecordEventStarted()
		n.logger.Info(ctx, "low variability event started",
			logger.String("event_id", tr.Event.ID.String()),
			logger.Float64("rmssd", rmssd),
		)
	case detector.Finalized:
		n.store.ClearActive()
		metrics.ClearActiveEvent()
		n.recordFinalized(ctx, tr.Event)
		n.logger.Info(ctx, "low variability event ended",
			logger.String("event_id", tr.Event.ID.String()),
			logger.Duration("duration", tr.Event.Duration()),
			logger.Float64("rmssd", rmssd),
		)
		n.send(ctx, syncproto.EventFinalized{Event: tr.Event})
	}
}

func (n *Node) recordFinalized(ctx context.Context, e model.Event) {
	switch n.store.RecordFinalized(ctx, e) {
	case eventstore.Inserted:
		n.eventsFinalized.Add(1)
		metrics.RecordEventFinalized()
	case eventstore.Duplicate:
		metrics.RecordDuplicateFinalized()
		n.logger.Debug(ctx, "duplicate finalize ignored", logger.String("event_id", e.ID.String()))
	case eventstore.Tombstoned:
		metrics.RecordTombstonedFinalized()
		n.logger.Debug(ctx, "finalize for handled event ignored", logger.String("event_id", e.ID.String()))
	}
	metrics.UpdatePendingEvents(n.store.Len())
}

// markHandled applies a verdict from either side.
func (n *Node) markHandled(ctx context.Context, id uuid.UUID, confirmed bool) eventstore.HandledResult {
	res := n.store.MarkHandled(ctx, id, confirmed)
	if res.ActiveCleared {
		n.detector.Abandon(id)
		metrics.ClearActiveEvent()
	}
	if res.Removed {
		n.eventsHandled.Add(1)
		metrics.RecordEventHandled(confirmed)
	}
	metrics.UpdatePendingEvents(n.store.Len())
	return res
}

func (n *Node) respond(ctx context.Context, id uuid.UUID, confirmed bool) {
	res := n.markHandled(ctx, id, confirmed)
	n.logger.Info(ctx, "event answered",
		logger.String("event_id", id.String()),
		logger.String("verdict", model.ConfirmationFor(confirmed).String()),
		logger.Bool("was_pending", res.Removed),
	)
	n.send(ctx, syncproto.EventHandled{EventID: id, IsConfirmed: confirmed})
}

func (n *Node) setMode(ctx context.Context, isMock, announce bool) {
	n.isMock = isMock
	metrics.UpdateMockMode(isMock)
	n.logger.Info(ctx, "mode changed", logger.Bool("mock", isMock), logger.Bool("local", announce))
	if announce {
		n.send(ctx, syncproto.ModeChange{IsMockMode: isMock})
	}
}

// send is fire-and-forget; failures are already logged by the protocol.
func (n *Node) send(ctx context.Context, m syncproto.Message) {
	if err := n.proto.Send(ctx, m); err != nil {
		n.sendFailures.Add(1)
	}
}
