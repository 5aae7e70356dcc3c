package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/okian/hrvlink/internal/adapters/channel"
	"github.com/okian/hrvlink/internal/adapters/http/api"
	"github.com/okian/hrvlink/internal/app"
	"github.com/okian/hrvlink/internal/config"
	"github.com/okian/hrvlink/internal/source"
	"github.com/okian/hrvlink/pkg/logger"
	"github.com/okian/hrvlink/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout          = 10 * time.Second
	writeTimeout         = 10 * time.Second
	idleTimeout          = 60 * time.Second
	readHeaderTimeout    = 5 * time.Second
	shutdownTimeout      = 10 * time.Second
	statsUpdateInterval  = 5 * time.Second
	sourceSubmitDeadline = time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Named("main")
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Init(metricsOptions(cfg)...)

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "node failed", logger.Error(err))
		os.Exit(1)
	}
}

// run blocks until ctx is canceled or a server fails.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = tr.ch.Close() }()

	node := app.New(app.Role(cfg.Role), tr.ch, nodeOptions(cfg)...)
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := node.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "node stop failed", logger.Error(err))
		}
	}()

	if tr.start != nil {
		tr.start(ctx)
	}

	go startStatsUpdater(ctx, node)

	if cfg.Role == config.RoleSensor {
		startSources(ctx, cfg, node, log)
	}

	var apiOpts []api.Option
	var servers []*http.Server
	if tr.sync != nil {
		if cfg.WSListen == cfg.Addr {
			apiOpts = append(apiOpts, api.WithSyncHandler(tr.sync))
		} else {
			r := mux.NewRouter()
			r.Handle("/sync", tr.sync)
			servers = append(servers, newHTTPServer(cfg.WSListen, r, true))
		}
	}
	servers = append(servers, newHTTPServer(cfg.Addr, api.NewServer(node, apiOpts...).Router(), len(apiOpts) > 0))

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Info(ctx, "starting HTTP server", logger.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "server shutdown failed", logger.String("addr", srv.Addr), logger.Error(err))
		}
	}
	log.Info(shutdownCtx, "node stopped", logger.Any("stats", node.Stats()))
	return runErr
}

// transport is the peer channel plus whatever the chosen kind needs to run.
type transport struct {
	ch    channel.MessageChannel
	sync  http.Handler // websocket listener side only
	start func(ctx context.Context)
}

// buildTransport creates the configured channel. With websocket the display
// listens and the sensor dials.
func buildTransport(ctx context.Context, cfg *config.Config) (transport, error) {
	self, peer := cfg.NodeID, cfg.PeerID()

	switch cfg.Transport {
	case config.TransportWebSocket:
		if cfg.Role == config.RoleDisplay {
			ws := channel.NewWebSocketListener()
			return transport{ch: ws, sync: ws}, nil
		}
		ws := channel.NewWebSocketDialer(cfg.WSPeerURL)
		return transport{ch: ws, start: ws.Start}, nil

	case config.TransportNATS:
		conn, err := channel.DialNATS(cfg.NATSURL, "hrvlink-"+self)
		if err != nil {
			return transport{}, err
		}
		ch, err := channel.NewNATS(conn, cfg.NATSSubjectPrefix, string(cfg.Role), peer, channel.WithOwnedConn())
		if err != nil {
			conn.Close()
			return transport{}, err
		}
		return transport{ch: ch}, nil

	case config.TransportMQTT:
		clientID := cfg.MQTTClientID
		if clientID == "" {
			clientID = "hrvlink-" + self
		}
		ch, err := channel.DialMQTT(ctx, cfg.MQTTBroker, clientID, cfg.MQTTTopicPrefix, string(cfg.Role), peer)
		if err != nil {
			return transport{}, err
		}
		return transport{ch: ch}, nil
	}
	return transport{}, fmt.Errorf("%w: unknown transport %q", config.ErrInvalidConfig, cfg.Transport)
}

func nodeOptions(cfg *config.Config) []app.Option {
	return []app.Option{
		app.WithNodeID(cfg.NodeID),
		app.WithWindow(time.Duration(cfg.WindowSeconds) * time.Second),
		app.WithThreshold(cfg.RMSSDThreshold),
		app.WithMirrorDetection(cfg.MirrorDetection),
		app.WithMockMode(cfg.MockMode),
		app.WithInboxSize(cfg.InboxSize),
		app.WithTombstoneSize(cfg.TombstoneSize),
	}
}

// metricsOptions names and labels the node's series after its configuration.
func metricsOptions(cfg *config.Config) []metrics.Option {
	return []metrics.Option{
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithSubsystem(cfg.MetricsSubsystem),
		metrics.WithConstLabels(map[string]string{"role": cfg.Role, "node_id": cfg.NodeID}),
		metrics.WithHistogramBuckets(metrics.ThresholdBuckets(cfg.RMSSDThreshold)),
	}
}

// startSources runs the mock generator and, when configured, the live
// reader. The node keeps whichever matches its current mode.
func startSources(ctx context.Context, cfg *config.Config, node *app.Node, log logger.Logger) {
	mock := source.NewMockSource(source.WithInterval(time.Duration(cfg.MockIntervalMS) * time.Millisecond))
	go runSource(ctx, "mock", mock, submitter(ctx, node, app.OriginMock, log), log)

	if cfg.LiveSourcePath == "" {
		return
	}
	r, err := openLive(cfg.LiveSourcePath)
	if err != nil {
		log.Error(ctx, "live source unavailable", logger.String("path", cfg.LiveSourcePath), logger.Error(err))
		return
	}
	go func() {
		defer func() { _ = r.Close() }()
		runSource(ctx, "live", source.NewReaderSource(r), submitter(ctx, node, app.OriginLive, log), log)
	}()
}

func openLive(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func runSource(ctx context.Context, name string, src source.HeartRateSource, emit source.EmitFunc, log logger.Logger) {
	if err := src.Run(ctx, emit); err != nil {
		log.Error(ctx, "source stopped", logger.String("source", name), logger.Error(err))
		return
	}
	log.Info(ctx, "source finished", logger.String("source", name))
}

func submitter(ctx context.Context, node *app.Node, origin app.Origin, log logger.Logger) source.EmitFunc {
	return func(heartRate float64, ts time.Time) {
		subCtx, cancel := context.WithTimeout(ctx, sourceSubmitDeadline)
		defer cancel()
		if err := node.SubmitBeat(subCtx, heartRate, ts, origin); err != nil {
			log.Warn(ctx, "sample dropped", logger.String("origin", origin.String()), logger.Error(err))
		}
	}
}

// newHTTPServer builds a server for h. Servers carrying the peer websocket
// skip read/write timeouts since the upgraded connection outlives them.
func newHTTPServer(addr string, h http.Handler, longLived bool) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if !longLived {
		srv.ReadTimeout = readTimeout
		srv.WriteTimeout = writeTimeout
	}
	return srv
}

// startStatsUpdater refreshes gauges that are not driven by the loop.
func startStatsUpdater(ctx context.Context, node *app.Node) {
	ticker := time.NewTicker(statsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateStats(node)
		}
	}
}

func updateStats(node *app.Node) {
	metrics.UpdateInboxSize(node.Stats().InboxLen)
}
