package channel_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/okian/hrvlink/internal/adapters/channel"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu   sync.Mutex
	msgs []string
}

func (i *inbox) add(p []byte) {
	i.mu.Lock()
	i.msgs = append(i.msgs, string(p))
	i.mu.Unlock()
}

func (i *inbox) snapshot() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.msgs...)
}

func TestWebSocketRoundTrip(t *testing.T) {
	listener := channel.NewWebSocketListener()
	srv := httptest.NewServer(listener)
	defer srv.Close()

	dialer := channel.NewWebSocketDialer("ws"+strings.TrimPrefix(srv.URL, "http"), channel.WithRedialInterval(20*time.Millisecond))

	require.False(t, dialer.IsReachable())
	require.ErrorIs(t, dialer.Send(context.Background(), []byte("early")), channel.ErrNotConnected)

	var atDisplay, atSensor inbox
	listener.OnReceive(atDisplay.add)
	dialer.OnReceive(atSensor.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dialer.Start(ctx)

	require.Eventually(t, func() bool {
		return dialer.IsReachable() && listener.IsReachable()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, dialer.Send(ctx, []byte(`{"Kind":"ModeChange","isMockMode":true}`)))
	require.NoError(t, listener.Send(ctx, []byte(`{"Kind":"EventHandled"}`)))

	require.Eventually(t, func() bool {
		return len(atDisplay.snapshot()) == 1 && len(atSensor.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, `{"Kind":"ModeChange","isMockMode":true}`, atDisplay.snapshot()[0])

	require.NoError(t, dialer.Close())
	require.ErrorIs(t, dialer.Send(ctx, []byte("x")), channel.ErrClosed)
	require.Eventually(t, func() bool { return !listener.IsReachable() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, listener.Close())
}

func TestWebSocketSendDoesNotWaitOnStalledPeer(t *testing.T) {
	listener := channel.NewWebSocketListener(channel.WithSendBuffer(1), channel.WithWriteTimeout(10*time.Second))
	srv := httptest.NewServer(listener)
	defer srv.Close()
	defer func() { _ = listener.Close() }()

	// a peer that never reads
	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = peer.Close() }()
	require.Eventually(t, listener.IsReachable, 2*time.Second, 10*time.Millisecond)

	payload := make([]byte, 256*1024)
	full := 0
	start := time.Now()
	for i := 0; i < 400; i++ {
		err := listener.Send(context.Background(), payload)
		if err != nil {
			require.ErrorIs(t, err, channel.ErrSendBufferFull)
			full++
		}
	}

	require.Less(t, time.Since(start), 2*time.Second)
	require.Positive(t, full)
}
