// Package config defines node configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and HRV_ environment variables on top.
// - Validation failures wrap ErrInvalidConfig.
package config

import "regexp"

// metricNamePart matches a Prometheus namespace or subsystem.
var metricNamePart = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Roles a node can take.
const (
	RoleSensor  = "sensor"
	RoleDisplay = "display"
)

// Supported transports.
const (
	TransportWebSocket = "websocket"
	TransportNATS      = "nats"
	TransportMQTT      = "mqtt"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Role is sensor (owns detection) or display (owns confirmation).
	Role string `koanf:"role"`

	// NodeID names this node on the transport; defaults to the role.
	NodeID string `koanf:"node_id"`

	// Addr configures the control HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WindowSeconds is the rolling beat window length.
	WindowSeconds int `koanf:"window_seconds"`

	// RMSSDThreshold in milliseconds; episodes open below it.
	RMSSDThreshold float64 `koanf:"rmssd_threshold"`

	// MirrorDetection makes the display feed received samples into its own window.
	MirrorDetection bool `koanf:"mirror_detection"`

	// MockMode is the initial state of the synthetic heart-rate flag.
	MockMode bool `koanf:"mock_mode"`

	// MockIntervalMS is the tick of the synthetic generator.
	MockIntervalMS int `koanf:"mock_interval_ms"`

	// InboxSize bounds the node's serial inbox.
	InboxSize int `koanf:"inbox_size"`

	// TombstoneSize bounds how many handled event ids are remembered.
	TombstoneSize int `koanf:"tombstone_size"`

	// Transport selects the peer channel: websocket, nats or mqtt.
	Transport string `koanf:"transport"`

	// WSListen is where the display accepts the sensor's websocket.
	WSListen string `koanf:"ws_listen"`

	// WSPeerURL is the display URL the sensor dials.
	WSPeerURL string `koanf:"ws_peer_url"`

	NATSURL           string `koanf:"nats_url"`
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`

	MQTTBroker      string `koanf:"mqtt_broker"`
	MQTTTopicPrefix string `koanf:"mqtt_topic_prefix"`
	MQTTClientID    string `koanf:"mqtt_client_id"`

	// MetricsNamespace and MetricsSubsystem prefix every exported series.
	MetricsNamespace string `koanf:"metrics_namespace"`
	MetricsSubsystem string `koanf:"metrics_subsystem"`

	// LiveSourcePath is read for live samples ("-" for stdin). Empty disables the live source.
	LiveSourcePath string `koanf:"live_source_path"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogFormat:         "text",
		Role:              RoleSensor,
		Addr:              ":9080",
		WindowSeconds:     300,
		RMSSDThreshold:    30,
		MockMode:          true,
		MockIntervalMS:    1000,
		InboxSize:         1024,
		TombstoneSize:     10_000,
		Transport:         TransportWebSocket,
		WSListen:          ":9090",
		WSPeerURL:         "ws://localhost:9090/sync",
		NATSURL:           "nats://127.0.0.1:4222",
		NATSSubjectPrefix: "hrvlink",
		MQTTBroker:        "tcp://127.0.0.1:1883",
		MQTTTopicPrefix:   "hrvlink",
		MetricsNamespace:  "hrvlink",
		MetricsSubsystem:  "node",
	}
}

// PeerID returns the transport name of the opposite role.
func (c *Config) PeerID() string {
	if c.Role == RoleSensor {
		return RoleDisplay
	}
	return RoleSensor
}

// Validate checks field combinations that would otherwise fail at runtime.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleSensor, RoleDisplay:
	default:
		return invalid("role must be %q or %q, got %q", RoleSensor, RoleDisplay, c.Role)
	}
	if c.Addr == "" {
		return invalid("addr must not be empty")
	}
	if c.WindowSeconds <= 0 {
		return invalid("window_seconds must be positive, got %d", c.WindowSeconds)
	}
	if c.RMSSDThreshold <= 0 {
		return invalid("rmssd_threshold must be positive, got %v", c.RMSSDThreshold)
	}
	if c.MockIntervalMS <= 0 {
		return invalid("mock_interval_ms must be positive, got %d", c.MockIntervalMS)
	}
	if c.InboxSize <= 0 {
		return invalid("inbox_size must be positive, got %d", c.InboxSize)
	}
	if c.TombstoneSize <= 0 {
		return invalid("tombstone_size must be positive, got %d", c.TombstoneSize)
	}
	if !metricNamePart.MatchString(c.MetricsNamespace) {
		return invalid("metrics_namespace %q is not a valid metric name prefix", c.MetricsNamespace)
	}
	if !metricNamePart.MatchString(c.MetricsSubsystem) {
		return invalid("metrics_subsystem %q is not a valid metric name part", c.MetricsSubsystem)
	}

	switch c.Transport {
	case TransportWebSocket:
		if c.Role == RoleDisplay && c.WSListen == "" {
			return invalid("ws_listen is required for the display role")
		}
		if c.Role == RoleSensor && c.WSPeerURL == "" {
			return invalid("ws_peer_url is required for the sensor role")
		}
	case TransportNATS:
		if c.NATSURL == "" {
			return invalid("nats_url is required for the nats transport")
		}
	case TransportMQTT:
		if c.MQTTBroker == "" {
			return invalid("mqtt_broker is required for the mqtt transport")
		}
	default:
		return invalid("unknown transport %q", c.Transport)
	}
	return nil
}
