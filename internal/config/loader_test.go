package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/hrvlink/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.NodeID, convey.ShouldEqual, config.RoleSensor)
				convey.So(cfg.InboxSize, convey.ShouldEqual, 1024)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("HRV_ROLE", "Display")
			_ = os.Setenv("HRV_ADDR", ":8081")
			_ = os.Setenv("HRV_RMSSD_THRESHOLD", "42.5")
			_ = os.Setenv("HRV_MOCK_MODE", "false")
			_ = os.Setenv("HRV_TRANSPORT", "nats")
			_ = os.Setenv("HRV_NATS_SUBJECT_PREFIX", "ward7")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Role, convey.ShouldEqual, config.RoleDisplay)
				convey.So(cfg.NodeID, convey.ShouldEqual, config.RoleDisplay)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8081")
				convey.So(cfg.RMSSDThreshold, convey.ShouldEqual, 42.5)
				convey.So(cfg.MockMode, convey.ShouldBeFalse)
				convey.So(cfg.Transport, convey.ShouldEqual, config.TransportNATS)
				convey.So(cfg.NATSSubjectPrefix, convey.ShouldEqual, "ward7")
			})
		})

		convey.Convey("When loading config from a YAML file", func() {
			path := writeConfigFile(t, strings.Join([]string{
				"role: display",
				"window_seconds: 60",
				"mirror_detection: true",
				"transport: mqtt",
				"mqtt_broker: tcp://broker:1883",
				"mqtt_client_id: bedside",
			}, "\n"))
			_ = os.Setenv("HRV_CONFIG", path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should use the file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Role, convey.ShouldEqual, config.RoleDisplay)
				convey.So(cfg.WindowSeconds, convey.ShouldEqual, 60)
				convey.So(cfg.MirrorDetection, convey.ShouldBeTrue)
				convey.So(cfg.MQTTBroker, convey.ShouldEqual, "tcp://broker:1883")
				convey.So(cfg.MQTTClientID, convey.ShouldEqual, "bedside")
			})
		})

		convey.Convey("When env vars and a file are both present", func() {
			path := writeConfigFile(t, "addr: \":7000\"\nwindow_seconds: 120\n")
			_ = os.Setenv("HRV_CONFIG", path)
			_ = os.Setenv("HRV_WINDOW_SECONDS", "30")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env vars take precedence", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7000")
				convey.So(cfg.WindowSeconds, convey.ShouldEqual, 30)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("HRV_CONFIG", "/non/existent/file.yaml")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When a numeric env var is not a number", func() {
			_ = os.Setenv("HRV_INBOX_SIZE", "lots")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When the loaded values fail validation", func() {
			_ = os.Setenv("HRV_ROLE", "tablet")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return ErrInvalidConfig", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hrvlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearConfigEnvVars removes every HRV_ variable so tests start from defaults.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "HRV_") {
			_ = os.Unsetenv(kv[:strings.IndexByte(kv, '=')])
		}
	}
}
