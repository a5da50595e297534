package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/shellyflux/internal/infrastructure/config"
)

func testMQTTConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "shellyflux-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
		ReportInterval: 30,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Enabled = false

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Auth.Username = "collector"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if got := opts.ClientID; got != "shellyflux-test" {
		t.Errorf("ClientID = %q, want %q", got, "shellyflux-test")
	}
	if got := opts.Username; got != "collector" {
		t.Errorf("Username = %q, want %q", got, "collector")
	}
	if len(opts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testMQTTConfig()
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig is nil with TLS enabled")
	}
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", Topics{}.SystemStatus(), "shellyflux/system/status"},
		{"health report", Topics{}.HealthReport(), "shellyflux/system/health"},
		{"device status", Topics{}.DeviceStatus("c45bbe123456"), "shellyflux/device/c45bbe123456/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("topic = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("c1"), "online", ""},
		{"offline", buildOfflinePayload("c1"), "offline", "graceful_shutdown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded struct {
				Status   string `json:"status"`
				ClientID string `json:"client_id"`
				Reason   string `json:"reason"`
			}
			if err := json.Unmarshal([]byte(tt.payload), &decoded); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if decoded.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", decoded.Status, tt.wantStatus)
			}
			if decoded.ClientID != "c1" {
				t.Errorf("client_id = %q, want c1", decoded.ClientID)
			}
			if decoded.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", decoded.Reason, tt.wantReason)
			}
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{cfg: testMQTTConfig()}

	if err := c.Publish("", []byte("x"), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("t", []byte("x"), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("qos 3 error = %v, want ErrInvalidQoS", err)
	}

	big := strings.Repeat("x", maxPayloadSize+1)
	if err := c.Publish("t", []byte(big), 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("oversize payload error = %v, want ErrPublishFailed", err)
	}
}
