package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/shellyflux/internal/metric"
	"github.com/nerrad567/shellyflux/internal/probe"
	"github.com/nerrad567/shellyflux/internal/registry"
)

// fakeProber answers probes from a scripted outcome per address.
type fakeProber struct {
	mu     sync.Mutex
	calls  map[string]int
	result *probe.Result
	err    error
}

func (f *fakeProber) Probe(_ context.Context, address string) (*probe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[address]++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProber) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[address]
}

// fakeRegistry implements DeviceRegistry over a plain map.
type fakeRegistry struct {
	mu        sync.Mutex
	devices   map[string]registry.Device
	events    chan registry.Event
	threshold int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		devices:   make(map[string]registry.Device),
		events:    make(chan registry.Event, 16),
		threshold: 5,
	}
}

func (f *fakeRegistry) add(d registry.Device) {
	f.mu.Lock()
	f.devices[d.ID] = d
	f.mu.Unlock()
}

func (f *fakeRegistry) Events() <-chan registry.Event { return f.events }

func (f *fakeRegistry) Snapshot() []registry.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]registry.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	return out
}

func (f *fakeRegistry) Claim(_ context.Context, id string) (registry.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return registry.Device{}, registry.ErrDeviceNotFound
	}
	if d.Health == registry.HealthPolling {
		return registry.Device{}, registry.ErrNotClaimable
	}
	d.Health = registry.HealthPolling
	f.devices[id] = d
	return d, nil
}

func (f *fakeRegistry) RecordSuccess(_ context.Context, id string, ident registry.Identity, at time.Time) (registry.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return registry.Device{}, registry.ErrDeviceNotFound
	}
	d.Health = registry.HealthHealthy
	d.ConsecutiveFailures = 0
	d.LastSuccessAt = at
	if ident.Model != "" {
		d.Model = ident.Model
	}
	if ident.MAC != "" && d.ID != ident.MAC {
		delete(f.devices, d.ID)
		d.ID = ident.MAC
	}
	f.devices[d.ID] = d
	return d, nil
}

func (f *fakeRegistry) RecordFailure(_ context.Context, id string) (registry.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return registry.Device{}, registry.ErrDeviceNotFound
	}
	d.ConsecutiveFailures++
	if d.ConsecutiveFailures >= f.threshold {
		d.Health = registry.HealthUnreachable
	} else {
		d.Health = registry.HealthDegraded
	}
	f.devices[id] = d
	return d, nil
}

func (f *fakeRegistry) get(id string) (registry.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	return d, ok
}

// fakeNormalizer emits one fixed point per call.
type fakeNormalizer struct{}

func (fakeNormalizer) Normalize(deviceID, _ string, _ []byte, collectedAt time.Time) ([]metric.Point, error) {
	p, err := metric.New(deviceID, "", map[string]float64{metric.FieldPowerW: 1}, collectedAt)
	if err != nil {
		return nil, err
	}
	return []metric.Point{p}, nil
}

// captureBuffer records enqueued points.
type captureBuffer struct {
	mu     sync.Mutex
	points []metric.Point
}

func (c *captureBuffer) Enqueue(points ...metric.Point) {
	c.mu.Lock()
	c.points = append(c.points, points...)
	c.mu.Unlock()
}

func (c *captureBuffer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

func testSchedulerConfig() Config {
	return Config{
		BaseInterval:   20 * time.Millisecond,
		ProbeTimeout:   time.Second,
		BackoffCeiling: 10,
		JitterPercent:  0,
	}
}

func okResult() *probe.Result {
	return &probe.Result{
		Descriptor: probe.Descriptor{
			MAC:   "c45bbe123456",
			Model: "shelly1pm",
		},
		Raw: json.RawMessage(`{"meters":[{"power":1}]}`),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestManager_PollsAndEnqueues(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(registry.Device{ID: "dev-1", Address: "192.168.1.40", Health: registry.HealthDiscovered})

	prober := &fakeProber{result: okResult()}
	buf := &captureBuffer{}
	mgr := New(testSchedulerConfig(), reg, prober, fakeNormalizer{}, buf, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return buf.count() >= 2 },
		"no points enqueued from repeated polls")

	// Success re-keyed the device to its MAC and marked it healthy.
	d, ok := reg.get("c45bbe123456")
	if !ok {
		t.Fatal("device not re-keyed to MAC")
	}
	if d.Health != registry.HealthHealthy {
		t.Errorf("Health = %s, want healthy", d.Health)
	}

	cancel()
	<-done
}

func TestManager_RecordsFailures(t *testing.T) {
	reg := newFakeRegistry()
	reg.add(registry.Device{ID: "dev-1", Address: "192.168.1.40", Health: registry.HealthDiscovered})

	prober := &fakeProber{err: probe.ErrUnreachable}
	buf := &captureBuffer{}
	mgr := New(testSchedulerConfig(), reg, prober, fakeNormalizer{}, buf, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool {
		d, _ := reg.get("dev-1")
		return d.ConsecutiveFailures >= 1
	}, "failure never recorded")

	if got := buf.count(); got != 0 {
		t.Errorf("points enqueued = %d, want 0 for failing device", got)
	}

	cancel()
	<-done
}

func TestManager_EventDrivenStartStop(t *testing.T) {
	reg := newFakeRegistry()
	prober := &fakeProber{result: okResult()}
	mgr := New(testSchedulerConfig(), reg, prober, fakeNormalizer{}, &captureBuffer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	if got := mgr.ActiveLoops(); got != 0 {
		t.Errorf("ActiveLoops = %d before any device, want 0", got)
	}

	d := registry.Device{ID: "dev-1", Address: "192.168.1.40", Health: registry.HealthDiscovered}
	reg.add(d)
	reg.events <- registry.Event{Type: registry.EventAdded, Device: d}

	waitFor(t, 2*time.Second, func() bool { return prober.callCount("192.168.1.40") >= 1 },
		"loop never started after Added event")

	// The loop re-keys itself on first success; removal by MAC must stop it.
	reg.events <- registry.Event{Type: registry.EventRemoved, Device: registry.Device{ID: "c45bbe123456"}}

	waitFor(t, 2*time.Second, func() bool { return mgr.ActiveLoops() == 0 },
		"loop never stopped after Removed event")

	calls := prober.callCount("192.168.1.40")
	time.Sleep(100 * time.Millisecond)
	if got := prober.callCount("192.168.1.40"); got > calls+1 {
		t.Errorf("probes continued after removal: %d -> %d", calls, got)
	}

	cancel()
	<-done
}

func TestManager_DuplicateStartIsNoop(t *testing.T) {
	reg := newFakeRegistry()
	d := registry.Device{ID: "dev-1", Address: "192.168.1.40", Health: registry.HealthDiscovered}
	reg.add(d)

	mgr := New(testSchedulerConfig(), reg, &fakeProber{result: okResult()}, fakeNormalizer{}, &captureBuffer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.startLoop(ctx, d)
	mgr.startLoop(ctx, d)

	if got := mgr.ActiveLoops(); got != 1 {
		t.Errorf("ActiveLoops = %d after duplicate start, want 1", got)
	}
}

func TestInterval(t *testing.T) {
	mgr := New(Config{
		BaseInterval:   60 * time.Second,
		BackoffCeiling: 10,
	}, nil, nil, nil, nil, nil)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 60 * time.Second},
		{1, 120 * time.Second},
		{2, 240 * time.Second},
		{3, 480 * time.Second},
		{4, 600 * time.Second}, // 960s capped at 10x base
		{10, 600 * time.Second},
		{100, 600 * time.Second},
	}

	for _, tt := range tests {
		if got := mgr.interval(tt.failures); got != tt.want {
			t.Errorf("interval(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestJittered(t *testing.T) {
	mgr := New(Config{
		BaseInterval:  60 * time.Second,
		JitterPercent: 15,
	}, nil, nil, nil, nil, nil)

	base := 60 * time.Second
	lo := time.Duration(float64(base) * 0.85)
	hi := time.Duration(float64(base) * 1.15)

	for i := 0; i < 200; i++ {
		got := mgr.jittered(base)
		if got < lo || got > hi {
			t.Fatalf("jittered(%v) = %v, outside [%v, %v]", base, got, lo, hi)
		}
	}
}

func TestJittered_ZeroPercentIsExact(t *testing.T) {
	mgr := New(Config{JitterPercent: 0}, nil, nil, nil, nil, nil)
	if got := mgr.jittered(time.Minute); got != time.Minute {
		t.Errorf("jittered() = %v, want exactly 1m", got)
	}
}

// stubRepo is a minimal in-memory registry.Repository for restart tests.
type stubRepo struct {
	mu      sync.Mutex
	devices map[string]registry.Device
}

func newStubRepo() *stubRepo {
	return &stubRepo{devices: make(map[string]registry.Device)}
}

func (s *stubRepo) Save(_ context.Context, d registry.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d.DeepCopy()
	return nil
}

func (s *stubRepo) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
	return nil
}

func (s *stubRepo) LoadAll(_ context.Context) ([]registry.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]registry.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.DeepCopy())
	}
	return out, nil
}

func TestManager_ResumesPollingAfterRestart(t *testing.T) {
	repo := newStubRepo()
	ctx := context.Background()

	// First lifetime: the device is polled and ends up degraded.
	first, err := registry.New(ctx, repo, 5, nil)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	d, _, _ := first.Register(ctx, "192.168.1.40")
	if _, err := first.Claim(ctx, d.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := first.RecordFailure(ctx, d.ID); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	// Second lifetime over the same store: the scheduler's boot pass must
	// pick the persisted device up and poll it again.
	second, err := registry.New(ctx, repo, 5, nil)
	if err != nil {
		t.Fatalf("registry.New() after restart error = %v", err)
	}

	prober := &fakeProber{result: okResult()}
	buf := &captureBuffer{}
	mgr := New(testSchedulerConfig(), second, prober, fakeNormalizer{}, buf, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(runCtx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return prober.callCount("192.168.1.40") >= 1 },
		"persisted device never polled after restart")
	waitFor(t, 2*time.Second, func() bool { return buf.count() >= 1 },
		"no points enqueued after restart")

	// The successful poll re-keyed to the MAC and marked it healthy again.
	waitFor(t, 2*time.Second, func() bool {
		dev, err := second.Get("c45bbe123456")
		return err == nil && dev.Health == registry.HealthHealthy
	}, "device never recovered to healthy after restart")

	cancel()
	<-done
}

func TestManager_ClaimConflictSkipsLoop(t *testing.T) {
	reg := newFakeRegistry()
	// Already polling: a second claim must fail and no loop should survive.
	reg.add(registry.Device{ID: "dev-1", Address: "192.168.1.40", Health: registry.HealthPolling})

	mgr := New(testSchedulerConfig(), reg, &fakeProber{err: errors.New("should not be called")}, fakeNormalizer{}, &captureBuffer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.startLoop(ctx, registry.Device{ID: "dev-1", Address: "192.168.1.40"})

	waitFor(t, 2*time.Second, func() bool { return mgr.ActiveLoops() == 0 },
		"claim-conflicted loop did not clean itself up")
}
