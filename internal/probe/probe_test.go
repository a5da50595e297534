package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// newDeviceServer builds a test server answering /shelly with identity and
// the given status path with payload.
func newDeviceServer(t *testing.T, identity, statusPath, payload string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/shelly", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(identity))
	})
	mux.HandleFunc(statusPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// addrOf strips the scheme from a test server URL.
func addrOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestProbe_Gen1(t *testing.T) {
	srv := newDeviceServer(t,
		`{"type":"SHSW-PM","mac":"C4:5B:BE:12:34:56","auth":false,"fw":"20230913-112003","num_outputs":1,"num_meters":1}`,
		"/status",
		`{"meters":[{"power":42.5,"total":1200}],"relays":[{"ison":true}]}`,
	)

	result, err := New().Probe(context.Background(), addrOf(srv))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	desc := result.Descriptor
	if desc.MAC != "c45bbe123456" {
		t.Errorf("MAC = %q, want %q", desc.MAC, "c45bbe123456")
	}
	if desc.Model != "shelly1pm" {
		t.Errorf("Model = %q, want %q", desc.Model, "shelly1pm")
	}
	if desc.Generation != 1 {
		t.Errorf("Generation = %d, want 1", desc.Generation)
	}
	if desc.FirmwareVersion != "20230913-112003" {
		t.Errorf("FirmwareVersion = %q", desc.FirmwareVersion)
	}
	if len(desc.Channels) != 1 || desc.Channels[0] != "relay0" {
		t.Errorf("Channels = %v, want [relay0]", desc.Channels)
	}
	if len(result.Raw) == 0 {
		t.Error("Raw payload is empty")
	}
}

func TestProbe_Gen2(t *testing.T) {
	srv := newDeviceServer(t,
		`{"id":"shellyplus1pm-a8032ab12345","model":"SNSW-001P16EU","mac":"A8032AB12345","gen":2,"fw_id":"20231031-165617","auth_en":false}`,
		"/rpc/Shelly.GetStatus",
		`{"switch:0":{"apower":15.2,"voltage":231.5}}`,
	)

	result, err := New().Probe(context.Background(), addrOf(srv))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	desc := result.Descriptor
	if desc.Model != "shellyplus" {
		t.Errorf("Model = %q, want %q", desc.Model, "shellyplus")
	}
	if desc.Generation != 2 {
		t.Errorf("Generation = %d, want 2", desc.Generation)
	}
	if desc.MAC != "a8032ab12345" {
		t.Errorf("MAC = %q, want %q", desc.MAC, "a8032ab12345")
	}
}

func TestProbe_EMeterChannels(t *testing.T) {
	srv := newDeviceServer(t,
		`{"type":"SHEM-3","mac":"AA:BB:CC:DD:EE:FF","num_emeters":3}`,
		"/status",
		`{"emeters":[{"power":100},{"power":200},{"power":300}]}`,
	)

	result, err := New().Probe(context.Background(), addrOf(srv))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	want := []string{"emeter0", "emeter1", "emeter2"}
	got := result.Descriptor.Channels
	if len(got) != len(want) {
		t.Fatalf("Channels = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Channels[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if result.Descriptor.Model != "shellyem3" {
		t.Errorf("Model = %q, want shellyem3", result.Descriptor.Model)
	}
}

func TestProbe_CameraRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><title>HIKVISION Web Login</title></html>`))
	}))
	defer srv.Close()

	_, err := New().Probe(context.Background(), addrOf(srv))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Probe() error = %v, want ErrProtocol", err)
	}
}

func TestProbe_NonJSONIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	_, err := New().Probe(context.Background(), addrOf(srv))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Probe() error = %v, want ErrProtocol", err)
	}
}

func TestProbe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New().Probe(context.Background(), addrOf(srv))
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("Probe() error = %v, want ErrProtocol", err)
	}
}

func TestProbe_Unreachable(t *testing.T) {
	// Reserve a port then close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := addrOf(srv)
	srv.Close()

	_, err := New().Probe(context.Background(), addr)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Probe() error = %v, want ErrUnreachable", err)
	}
}

func TestProbe_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Probe(ctx, addrOf(srv))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Probe() error = %v, want ErrTimeout", err)
	}
}

func TestModelFor(t *testing.T) {
	tests := []struct {
		rawType string
		gen     int
		want    string
	}{
		{"SHSW-PM", 1, "shelly1pm"},
		{"SHSW-25", 1, "shelly1pm"},
		{"SHPLG-S", 1, "shelly1pm"},
		{"SHEM", 1, "shellyem"},
		{"SHEM-3", 1, "shellyem3"},
		{"SNSW-001P16EU", 2, "shellyplus"},
		{"SHDM-2", 1, "shdm-2"},
	}

	for _, tt := range tests {
		t.Run(tt.rawType, func(t *testing.T) {
			if got := modelFor(tt.rawType, tt.gen); got != tt.want {
				t.Errorf("modelFor(%q, %d) = %q, want %q", tt.rawType, tt.gen, got, tt.want)
			}
		})
	}
}
