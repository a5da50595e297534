// shellyflux - Shelly power telemetry collector
//
// shellyflux discovers Shelly smart-plug and energy-meter devices on the
// local network, polls each one on its own schedule, normalizes the
// readings, and delivers them to InfluxDB through a bounded retrying
// buffer. Device health and collector status are observable over a
// read-only HTTP API and an optional MQTT channel.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nerrad567/shellyflux/internal/api"
	"github.com/nerrad567/shellyflux/internal/buffer"
	"github.com/nerrad567/shellyflux/internal/discovery"
	"github.com/nerrad567/shellyflux/internal/health"
	"github.com/nerrad567/shellyflux/internal/infrastructure/config"
	"github.com/nerrad567/shellyflux/internal/infrastructure/database"
	"github.com/nerrad567/shellyflux/internal/infrastructure/influxdb"
	"github.com/nerrad567/shellyflux/internal/infrastructure/logging"
	"github.com/nerrad567/shellyflux/internal/infrastructure/mqtt"
	"github.com/nerrad567/shellyflux/internal/metric"
	"github.com/nerrad567/shellyflux/internal/normalize"
	"github.com/nerrad567/shellyflux/internal/probe"
	"github.com/nerrad567/shellyflux/internal/registry"
	"github.com/nerrad567/shellyflux/internal/scheduler"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting shellyflux",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	deviceRepo := registry.NewSQLiteRepository(db)
	deviceRegistry, err := registry.New(ctx, deviceRepo, cfg.Poller.FailureThreshold, log)
	if err != nil {
		return fmt.Errorf("initialising device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.Stats().Total)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var sink buffer.Sink
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		sink = &sinkAdapter{client: influxClient, timeout: cfg.GetWriteTimeout()}
	} else {
		log.Warn("InfluxDB disabled, metric points will be discarded")
		sink = &discardSink{logger: log}
	}

	// Write buffer between the pollers and the sink
	writeBuffer := buffer.New(buffer.Config{
		Capacity:      cfg.Buffer.Capacity,
		FlushInterval: cfg.GetFlushInterval(),
		FlushSize:     cfg.Buffer.FlushSize,
		MaxAttempts:   cfg.Buffer.MaxWriteAttempts,
		RetryBackoff:  cfg.GetRetryBackoff(),
	}, sink, log)

	// Background loops are joined on shutdown so the buffer's final flush
	// completes before the deferred sink close runs.
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		//nolint:errcheck // Run only returns nil
		writeBuffer.Run(ctx)
	}()
	log.Info("write buffer started",
		"capacity", cfg.Buffer.Capacity,
		"flush_interval", cfg.GetFlushInterval(),
	)

	// Per-device poll loops
	pollManager := scheduler.New(scheduler.Config{
		BaseInterval:   cfg.GetBaseInterval(),
		ProbeTimeout:   cfg.GetProbeTimeout(),
		BackoffCeiling: cfg.Poller.BackoffCeiling,
		JitterPercent:  cfg.Poller.JitterPercent,
	}, deviceRegistry, probe.New(), normalize.New(), writeBuffer, log)
	loops.Add(1)
	go func() {
		defer loops.Done()
		//nolint:errcheck // Run only returns nil
		pollManager.Run(ctx)
	}()
	log.Info("poll scheduler started",
		"base_interval", cfg.GetBaseInterval(),
		"failure_threshold", cfg.Poller.FailureThreshold,
	)

	// Device discovery (static addresses + optional subnet sweep)
	discoverySvc := discovery.New(discovery.Config{
		Addresses:    cfg.Discovery.Addresses,
		ScanEnabled:  cfg.Discovery.Scan.Enabled,
		Network:      cfg.Discovery.Scan.Network,
		ScanInterval: cfg.GetScanInterval(),
		NmapBinary:   cfg.Discovery.Scan.NmapBinary,
	}, deviceRegistry, log)
	loops.Add(1)
	go func() {
		defer loops.Done()
		//nolint:errcheck // Run only returns nil
		discoverySvc.Run(ctx)
	}()
	log.Info("discovery started",
		"static_addresses", len(cfg.Discovery.Addresses),
		"scan_enabled", cfg.Discovery.Scan.Enabled,
	)

	// MQTT health reporting (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		reporter := health.NewReporter(health.Config{
			CollectorID: cfg.MQTT.Broker.ClientID,
			Version:     version,
			Topic:       mqtt.Topics{}.HealthReport(),
			Interval:    cfg.GetReportInterval(),
			Publisher:   mqttClient,
			Devices:     deviceRegistry,
			Buffer:      writeBuffer,
		}, log)
		reporter.Start(ctx)
		defer reporter.Stop()
		log.Info("health reporting started", "interval", cfg.GetReportInterval())
	} else {
		log.Info("MQTT health reporting disabled")
	}

	// Read-only status API (optional)
	if cfg.API.Enabled {
		apiServer := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Devices: deviceRegistry,
			Buffer:  writeBuffer,
			Version: version,
		})
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting status API: %w", startErr)
		}
		defer func() {
			log.Info("stopping status API")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Wait for the poll loops to stop and the buffer's final flush to land
	// before the deferred closes tear down the sink.
	loops.Wait()

	log.Info("shellyflux stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SHELLYFLUX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SHELLYFLUX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// sinkAdapter adapts the InfluxDB client to the buffer's Sink interface.
// The buffer distinguishes permanent rejection from transient failure via
// its own sentinel, so the adapter translates the client's error taxonomy
// and applies the configured per-batch write timeout.
type sinkAdapter struct {
	client  *influxdb.Client
	timeout time.Duration
}

// WriteBatch implements buffer.Sink.
func (a *sinkAdapter) WriteBatch(ctx context.Context, points []metric.Point) error {
	writeCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	err := a.client.WriteBatch(writeCtx, points)
	if err == nil {
		return nil
	}
	if errors.Is(err, influxdb.ErrRejected) {
		return fmt.Errorf("%w: %v", buffer.ErrSinkRejected, err)
	}
	return err
}

// discardSink accepts and drops every batch. Used when no InfluxDB
// connection is configured so the pipeline can still run end to end.
type discardSink struct {
	logger *logging.Logger
}

// WriteBatch implements buffer.Sink.
func (s *discardSink) WriteBatch(_ context.Context, points []metric.Point) error {
	s.logger.Debug("discarding metric batch, no sink configured", "points", len(points))
	return nil
}
