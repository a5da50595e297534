// Package registry is the source of truth for known devices and their health.
//
// Every device the collector polls has exactly one record here, keyed by a
// stable device ID (the hardware MAC once the device has been probed). The
// registry owns the health lifecycle:
//
//	discovered -> polling -> healthy <-> degraded -> unreachable
//
// Transitions are driven solely by probe outcomes reported through
// RecordSuccess and RecordFailure; no other component mutates health.
// All state is held in memory and written through to a Repository so the
// device set and last-known health survive restarts.
//
// # Usage
//
//	repo := registry.NewSQLiteRepository(db)
//	reg, err := registry.New(ctx, repo, cfg.Poller.FailureThreshold, log)
//	if err != nil {
//	    return err
//	}
//
//	device, created, err := reg.Register(ctx, "192.168.1.40")
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use from multiple goroutines.
package registry
