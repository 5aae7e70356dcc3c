package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/okian/hrvlink/internal/domain/model"
	"github.com/okian/hrvlink/pkg/metrics"
)

// input is anything the loop can process.
type input interface {
	apply(ctx context.Context, n *Node)
}

type beatInput struct {
	heartRate float64
	ts        time.Time
	origin    Origin
}

func (b beatInput) apply(ctx context.Context, n *Node) {
	n.onBeat(ctx, b.heartRate, b.ts, b.origin)
}

type inboundInput struct {
	payload []byte
}

func (in inboundInput) apply(ctx context.Context, n *Node) {
	if err := n.proto.Receive(ctx, in.payload, peerTarget{n}); err != nil {
		n.messagesRejected.Add(1)
		return
	}
	n.messagesReceived.Add(1)
}

type queryInput struct {
	fn   func(context.Context)
	done chan struct{}
}

func (q queryInput) apply(ctx context.Context, n *Node) {
	defer close(q.done)
	q.fn(ctx)
}

// peerTarget applies the peer's messages to loop-owned state.
type peerTarget struct {
	n *Node
}

func (t peerTarget) ApplyHeartRate(_ context.Context, heartRate float64, ts time.Time) {
	n := t.n
	n.latestHR = heartRate
	metrics.UpdateHeartRate(heartRate)
	if !n.mirror || n.role != RoleDisplay {
		return
	}
	n.beats.AddBeat(heartRate, ts)
	rmssd, rmssdOK := n.beats.RMSSD()
	sdnn, sdnnOK := n.beats.SDNN()
	metrics.UpdateHRV(rmssd, rmssdOK, sdnn, sdnnOK)
}

func (t peerTarget) ApplyModeChange(ctx context.Context, isMock bool) {
	t.n.setMode(ctx, isMock, false)
}

func (t peerTarget) ApplyEventFinalized(ctx context.Context, e model.Event) {
	t.n.recordFinalized(ctx, e)
}

func (t peerTarget) ApplyEventHandled(ctx context.Context, id uuid.UUID, confirmed bool) {
	t.n.markHandled(ctx, id, confirmed)
}
