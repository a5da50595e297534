package registry

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/shellyflux/internal/infrastructure/database"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db)
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	d := Device{
		ID:                  "c45bbe123456",
		Address:             "192.168.1.40",
		Model:               "shelly1pm",
		Capabilities:        []string{"relay0"},
		Health:              HealthHealthy,
		ConsecutiveFailures: 0,
		LastSuccessAt:       now,
		FirmwareVersion:     "20230913-112003",
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := repo.Save(ctx, d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll() len = %d, want 1", len(loaded))
	}

	got := loaded[0]
	if got.ID != d.ID || got.Address != d.Address || got.Model != d.Model {
		t.Errorf("loaded = %+v, want %+v", got, d)
	}
	if got.Health != HealthHealthy {
		t.Errorf("Health = %s, want healthy", got.Health)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0] != "relay0" {
		t.Errorf("Capabilities = %v, want [relay0]", got.Capabilities)
	}
	if !got.LastSuccessAt.Equal(now) {
		t.Errorf("LastSuccessAt = %v, want %v", got.LastSuccessAt, now)
	}
}

func TestSQLiteRepository_SaveUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	d := Device{ID: "dev-1", Address: "192.168.1.40", Health: HealthDiscovered, CreatedAt: now, UpdatedAt: now}
	if err := repo.Save(ctx, d); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	d.Health = HealthDegraded
	d.ConsecutiveFailures = 3
	if err := repo.Save(ctx, d); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	loaded, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("LoadAll() len = %d, want 1 after upsert", len(loaded))
	}
	if loaded[0].Health != HealthDegraded || loaded[0].ConsecutiveFailures != 3 {
		t.Errorf("loaded = %+v, want degraded with 3 failures", loaded[0])
	}
}

func TestSQLiteRepository_Delete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC()
	repo.Save(ctx, Device{ID: "dev-1", Address: "192.168.1.40", Health: HealthDiscovered, CreatedAt: now, UpdatedAt: now})

	if err := repo.Delete(ctx, "dev-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "dev-1"); err != nil {
		t.Errorf("Delete() of missing device error = %v, want nil", err)
	}

	loaded, _ := repo.LoadAll(ctx)
	if len(loaded) != 0 {
		t.Errorf("LoadAll() len = %d, want 0", len(loaded))
	}
}

func TestRegistryWithSQLite_SurvivesRestart(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	reg, err := New(ctx, repo, 5, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	d, _, err := reg.Register(ctx, "192.168.1.40")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := reg.Claim(ctx, d.ID); err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if _, err := reg.RecordFailure(ctx, d.ID); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	// Second registry over the same store simulates a restart.
	reg2, err := New(ctx, repo, 5, nil)
	if err != nil {
		t.Fatalf("New() after restart error = %v", err)
	}

	got, err := reg2.Get(d.ID)
	if err != nil {
		t.Fatalf("Get() after restart error = %v", err)
	}
	if got.ConsecutiveFailures != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", got.ConsecutiveFailures)
	}
	if got.Health != HealthDegraded {
		t.Errorf("Health = %s, want degraded", got.Health)
	}
}
