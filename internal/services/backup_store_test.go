package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ecowatch/go-binwatch-backend/internal/cache"
	"github.com/ecowatch/go-binwatch-backend/internal/repo"
)

func TestBackupStoreSaveAndRead(t *testing.T) {
	store := &BackupStore{DB: newServiceDB(t), Cache: cache.New()}
	ctx := context.Background()

	if err := store.Save(ctx, "bin1", 14.5995, 120.9842, 7); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, err := store.Read(ctx, "bin1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Latitude != 14.5995 || rec.Longitude != 120.9842 || rec.Satellites != 7 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestBackupStoreRejectsInvalidWrites(t *testing.T) {
	store := &BackupStore{DB: newServiceDB(t)}
	ctx := context.Background()

	// Seed a good position first.
	if err := store.Save(ctx, "bin1", 10.0, 10.0, 4); err != nil {
		t.Fatalf("seed: %v", err)
	}

	bad := []struct {
		name     string
		lat, lng float64
	}{
		{"zero island", 0, 0},
		{"lat out of range", 91, 10},
		{"lng out of range", 10, 181},
		{"nan", math.NaN(), 10},
		{"inf", 10, math.Inf(1)},
	}
	for _, tc := range bad {
		if err := store.Save(ctx, "bin1", tc.lat, tc.lng, 4); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("%s: err = %v, want ErrInvalidCoordinates", tc.name, err)
		}
	}

	// The prior good record must be untouched.
	rec, err := store.Read(ctx, "bin1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Latitude != 10.0 || rec.Longitude != 10.0 {
		t.Fatalf("bad write clobbered the record: %+v", rec)
	}
}

func TestBackupStoreReadMissing(t *testing.T) {
	store := &BackupStore{DB: newServiceDB(t)}
	if _, err := store.Read(context.Background(), "ghost"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBackupStoreCleanup(t *testing.T) {
	db := newServiceDB(t)
	store := &BackupStore{DB: db, Cache: cache.New()}
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if _, err := repo.UpsertBackupCoordinate(ctx, db, "old-bin", 11, 11, 3, old); err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := store.Save(ctx, "fresh-bin", 12, 12, 5); err != nil {
		t.Fatalf("seed fresh: %v", err)
	}

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.Read(ctx, "old-bin"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatal("old record must be pruned")
	}
	if _, err := store.Read(ctx, "fresh-bin"); err != nil {
		t.Fatalf("fresh record must survive: %v", err)
	}
}

func TestBackupStoreSaveInvalidatesCache(t *testing.T) {
	c := cache.New()
	store := &BackupStore{DB: newServiceDB(t), Cache: c}
	ctx := context.Background()

	c.Set(cache.CategoryBin, "bin1", "stale-position", 0)
	if err := store.Save(ctx, "bin1", 14.6, 121.0, 6); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := c.Get(cache.CategoryBin, "bin1"); ok {
		t.Fatal("save must evict the cached resolution")
	}
}
