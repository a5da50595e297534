package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a device response is read.
// Shelly status payloads are a few KB; anything larger is not a Shelly.
const maxResponseBytes = 256 * 1024

// Descriptor is the device's self-reported identity, extracted from the
// /shelly endpoint. It is a fragment: the registry owns the full device
// record and merges this into it on every successful probe.
type Descriptor struct {
	// MAC is the device hardware address (lowercased, no separators).
	MAC string

	// RawType is the device type string as reported (e.g. "SHSW-PM").
	RawType string

	// Model is the normalizer key derived from RawType and generation
	// (e.g. "shelly1pm", "shellyem3", "shellyplus").
	Model string

	// Generation is the device API generation (1 or 2).
	Generation int

	// FirmwareVersion is the reported firmware build.
	FirmwareVersion string

	// AuthRequired reports whether the device has authentication enabled.
	AuthRequired bool

	// Channels lists the metering channels the device exposes
	// (e.g. ["relay0"] or ["emeter0","emeter1","emeter2"]).
	Channels []string
}

// Result is a successful probe outcome: the device's identity fragment
// plus its current raw status payload for the normalizer.
type Result struct {
	Descriptor Descriptor
	Raw        json.RawMessage
}

// Prober queries Shelly devices over HTTP.
//
// It holds no per-device state and is safe for concurrent use across many
// addresses; all probes share one pooled HTTP client.
type Prober struct {
	client *http.Client
}

// New creates a Prober. The per-call timeout is supplied via the context
// passed to Probe; the shared client carries no timeout of its own so a
// slow device cannot affect the deadline of another probe.
func New() *Prober {
	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Probe queries the device at address and returns its identity and raw
// status payload.
//
// The probe is two requests: GET /shelly for identity, then the
// generation-appropriate status endpoint (GET /status for gen1,
// GET /rpc/Shelly.GetStatus for gen2+).
//
// Parameters:
//   - ctx: Bounds the whole probe; use context.WithTimeout for the per-call limit
//   - address: Device host or host:port
//
// Returns:
//   - *Result: Identity fragment and raw payload on success
//   - error: ErrUnreachable, ErrTimeout, or ErrProtocol
func (p *Prober) Probe(ctx context.Context, address string) (*Result, error) {
	base := "http://" + address

	identity, err := p.fetchIdentity(ctx, base)
	if err != nil {
		return nil, err
	}

	desc := identity.descriptor()

	statusPath := "/status"
	if desc.Generation >= 2 {
		statusPath = "/rpc/Shelly.GetStatus"
	}

	raw, err := p.get(ctx, base+statusPath)
	if err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid status JSON from %s", ErrProtocol, address)
	}

	return &Result{Descriptor: desc, Raw: raw}, nil
}

// identityResponse covers both gen1 and gen2 /shelly responses.
// Gen1: {"type":"SHSW-PM","mac":"...","auth":false,"fw":"...","num_outputs":1,"num_meters":1}
// Gen2: {"id":"shellyplus1pm-a8032ab12345","model":"SNSW-001P16EU","mac":"...","gen":2,"fw_id":"...","auth_en":false}
type identityResponse struct {
	Type       string `json:"type"`
	Model      string `json:"model"`
	MAC        string `json:"mac"`
	Auth       bool   `json:"auth"`
	AuthEn     bool   `json:"auth_en"`
	FW         string `json:"fw"`
	FWID       string `json:"fw_id"`
	Gen        int    `json:"gen"`
	NumOutputs int    `json:"num_outputs"`
	NumMeters  int    `json:"num_meters"`
	NumEMeters int    `json:"num_emeters"`
}

// fetchIdentity retrieves and validates the /shelly identity response.
func (p *Prober) fetchIdentity(ctx context.Context, base string) (*identityResponse, error) {
	body, err := p.get(ctx, base+"/shelly")
	if err != nil {
		return nil, err
	}

	// Reject devices that merely answer HTTP but are not Shellys.
	// IP cameras on the same subnet are the common false positive.
	if looksLikeCamera(body) {
		return nil, fmt.Errorf("%w: endpoint identifies as a camera", ErrProtocol)
	}

	var identity identityResponse
	if err := json.Unmarshal(body, &identity); err != nil {
		return nil, fmt.Errorf("%w: parsing identity: %v", ErrProtocol, err)
	}
	if identity.MAC == "" && identity.Type == "" && identity.Gen == 0 {
		return nil, fmt.Errorf("%w: response carries no device identity", ErrProtocol)
	}

	return &identity, nil
}

// descriptor maps the raw identity response into a Descriptor.
func (r *identityResponse) descriptor() Descriptor {
	gen := r.Gen
	if gen == 0 {
		gen = 1
	}

	desc := Descriptor{
		MAC:          strings.ToLower(strings.ReplaceAll(r.MAC, ":", "")),
		RawType:      r.Type,
		Generation:   gen,
		AuthRequired: r.Auth || r.AuthEn,
	}
	if desc.RawType == "" {
		desc.RawType = r.Model
	}

	switch {
	case r.FW != "":
		desc.FirmwareVersion = r.FW
	default:
		desc.FirmwareVersion = r.FWID
	}

	desc.Model = modelFor(desc.RawType, gen)
	desc.Channels = channelsFor(desc.Model, r)

	return desc
}

// modelFor derives the normalizer model key from the reported device type.
// Unrecognised gen1 types fall through as their lowercased type string so
// the normalizer can report them as unknown rather than the probe failing.
func modelFor(rawType string, gen int) string {
	if gen >= 2 {
		return "shellyplus"
	}
	switch {
	case strings.HasPrefix(rawType, "SHEM-3"):
		return "shellyem3"
	case strings.HasPrefix(rawType, "SHEM"):
		return "shellyem"
	case strings.HasPrefix(rawType, "SHSW"), strings.HasPrefix(rawType, "SHPLG"):
		return "shelly1pm"
	default:
		return strings.ToLower(rawType)
	}
}

// channelsFor derives the metering channel names a device exposes.
func channelsFor(model string, r *identityResponse) []string {
	switch model {
	case "shellyem", "shellyem3":
		n := r.NumEMeters
		if n == 0 {
			if model == "shellyem3" {
				n = 3
			} else {
				n = 2
			}
		}
		channels := make([]string, n)
		for i := range channels {
			channels[i] = fmt.Sprintf("emeter%d", i)
		}
		return channels
	case "shelly1pm":
		n := r.NumMeters
		if n == 0 {
			n = 1
		}
		channels := make([]string, n)
		for i := range channels {
			channels[i] = fmt.Sprintf("relay%d", i)
		}
		return channels
	default:
		return nil
	}
}

// cameraMarkers are substrings that identify IP cameras masquerading as
// probe candidates. Carried over from field experience: cameras commonly
// answer on port 80 and produce garbage telemetry if polled.
var cameraMarkers = []string{
	"picvision",
	"hikvision",
	"hik-vision",
	"camera",
	"ipcam",
}

// looksLikeCamera reports whether a response body identifies a camera.
func looksLikeCamera(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range cameraMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// get performs a bounded GET and classifies transport errors.
func (p *Prober) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrProtocol, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrProtocol, resp.StatusCode, rawURL)
	}

	return body, nil
}

// classifyTransportError maps network-level failures onto the probe
// error taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
