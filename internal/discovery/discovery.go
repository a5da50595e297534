package discovery

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nerrad567/shellyflux/internal/registry"
)

// scanReportPrefix starts every host line in nmap -sn output.
const scanReportPrefix = "Nmap scan report for "

// excludedHostnames are hostname substrings that mark devices we never
// want to register. Cameras answer ping sweeps on most installs and the
// probe would reject them anyway; skipping them here keeps the registry
// free of records that can never become healthy.
var excludedHostnames = []string{
	"picvision",
	"hikvision",
	"hik-vision",
	"camera",
	"ipcam",
	"video",
}

// Registrar is the slice of the registry discovery feeds.
type Registrar interface {
	Register(ctx context.Context, address string) (registry.Device, bool, error)
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Debug(msg string, args ...any) {}

// Config holds discovery settings.
type Config struct {
	// Addresses are statically configured device addresses, registered
	// once at startup.
	Addresses []string

	// ScanEnabled turns on periodic subnet sweeps.
	ScanEnabled bool

	// Network is the CIDR to sweep (e.g. "192.168.1.0/24").
	Network string

	// ScanInterval is the time between sweeps. Zero or negative sweeps
	// once at startup and never again.
	ScanInterval time.Duration

	// NmapBinary is the scanner executable, "nmap" if empty.
	NmapBinary string
}

// Service feeds the registry with device addresses from static
// configuration and optional nmap ping sweeps.
//
// Discovery only ever adds: an address that stops answering sweeps is not
// deregistered, because the scheduler's backoff already handles absent
// devices and transient sweep misses must not forget real hardware.
type Service struct {
	cfg       Config
	registrar Registrar
	logger    Logger

	// runScan is swapped in tests to avoid spawning nmap.
	runScan func(ctx context.Context) (string, error)
}

// New creates a discovery Service.
//
// Parameters:
//   - cfg: Static addresses and scan settings
//   - registrar: Destination registry
//   - logger: Optional logger (nil for no logging)
func New(cfg Config, registrar Registrar, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Service{
		cfg:       cfg,
		registrar: registrar,
		logger:    logger,
	}
	s.runScan = s.execNmap
	return s
}

// Run registers the static addresses, then sweeps the configured network
// until ctx is cancelled. With scanning disabled it registers the statics
// and waits for cancellation; with a non-positive ScanInterval it sweeps
// once and then waits.
//
// Returns:
//   - error: Always nil; kept for errgroup-style call sites
func (s *Service) Run(ctx context.Context) error {
	s.registerAll(ctx, s.cfg.Addresses, "static")

	if !s.cfg.ScanEnabled {
		<-ctx.Done()
		return nil
	}

	s.sweep(ctx)

	if s.cfg.ScanInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one nmap ping sweep and registers every eligible host.
func (s *Service) sweep(ctx context.Context) {
	output, err := s.runScan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("subnet sweep failed",
				"network", s.cfg.Network, "error", err)
		}
		return
	}

	addresses := parseScanReport(output)
	s.logger.Debug("subnet sweep complete",
		"network", s.cfg.Network, "hosts", len(addresses))
	s.registerAll(ctx, addresses, "scan")
}

// registerAll registers addresses, logging per-address failures without
// aborting the rest.
func (s *Service) registerAll(ctx context.Context, addresses []string, source string) {
	for _, addr := range addresses {
		device, created, err := s.registrar.Register(ctx, addr)
		if err != nil {
			s.logger.Warn("registering discovered address",
				"address", addr, "source", source, "error", err)
			continue
		}
		if created {
			s.logger.Info("device discovered",
				"device_id", device.ID, "address", addr, "source", source)
		}
	}
}

// execNmap runs the ping sweep and returns its stdout.
func (s *Service) execNmap(ctx context.Context) (string, error) {
	binary := s.cfg.NmapBinary
	if binary == "" {
		binary = "nmap"
	}

	cmd := exec.CommandContext(ctx, binary, "-sn", s.cfg.Network)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running %s -sn %s: %w", binary, s.cfg.Network, err)
	}
	return string(out), nil
}

// parseScanReport extracts host addresses from nmap -sn output.
//
// Host lines come in two shapes:
//
//	Nmap scan report for 192.168.1.41
//	Nmap scan report for shelly1pm-C45BBE (192.168.1.40)
//
// Hosts whose name matches an exclusion are skipped.
func parseScanReport(output string) []string {
	var addresses []string
	for _, line := range strings.Split(output, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), scanReportPrefix)
		if !ok {
			continue
		}

		hostname := ""
		address := rest
		if open := strings.LastIndex(rest, "("); open != -1 && strings.HasSuffix(rest, ")") {
			hostname = strings.TrimSpace(rest[:open])
			address = rest[open+1 : len(rest)-1]
		}

		if hostnameExcluded(hostname) {
			continue
		}
		if address == "" {
			continue
		}
		addresses = append(addresses, address)
	}
	return addresses
}

// hostnameExcluded reports whether a scanned hostname matches an exclusion.
func hostnameExcluded(hostname string) bool {
	if hostname == "" {
		return false
	}
	lower := strings.ToLower(hostname)
	for _, marker := range excludedHostnames {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
