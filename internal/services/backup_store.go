// Package services – BackupStore
//
// This file implements the BackupStore, the exclusive owner of
// BackupCoordinate records. It enforces coordinate validity on every write
// (zero, NaN, or out-of-range positions are rejected so a bad fix can never
// clobber the last good one) and provides advisory retention cleanup.
// Service-level errors (ErrInvalidCoordinates) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/ecowatch/go-binwatch-backend/internal/cache"
	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/repo"
)

// BackupStore persists the last known valid position per bin. All mutations
// of BackupCoordinate rows in the system go through this type.
type BackupStore struct {
	// DB is the database handle used for all coordinate operations.
	DB *gorm.DB

	// Cache, when set, is invalidated on writes so resolver reads never
	// serve a superseded position for the full TTL.
	Cache *cache.Cache
}

// Save records (or supersedes) the backup coordinate for binID, stamped
// with the current time. Invalid coordinates are rejected with
// ErrInvalidCoordinates and leave the prior record, or its absence,
// unchanged.
func (s *BackupStore) Save(ctx context.Context, binID string, lat, lng float64, satellites int) error {
	_, err := s.SaveAt(ctx, binID, lat, lng, satellites, time.Now().UTC())
	return err
}

// SaveAt is Save with an explicit fix time. Writes are last-fix-wins: when
// the stored record carries a newer RecordedAt the write is a no-op and
// applied is false, so concurrent saves settle on the latest fix regardless
// of arrival order.
func (s *BackupStore) SaveAt(ctx context.Context, binID string, lat, lng float64, satellites int, recordedAt time.Time) (applied bool, err error) {
	tr := otel.Tracer("services/BackupStore")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(attribute.String("bin.id", binID)),
	)
	defer span.End()

	if !domain.ValidCoordinates(lat, lng) {
		return false, ErrInvalidCoordinates
	}

	applied, err = repo.UpsertBackupCoordinate(ctx, s.DB, binID, lat, lng, satellites, recordedAt)
	if err != nil {
		return false, err
	}
	if applied && s.Cache != nil {
		s.Cache.Delete(cache.CategoryBin, binID)
	}
	return applied, nil
}

// Read returns the backup record for binID, or repo.ErrNotFound when no
// valid position was ever stored.
func (s *BackupStore) Read(ctx context.Context, binID string) (*domain.BackupCoordinate, error) {
	return repo.GetBackupCoordinate(ctx, s.DB, binID)
}

// Cleanup removes records older than maxAge and returns the count removed.
// This is advisory housekeeping: records past the staleness threshold are
// already treated as low priority by the resolver, so a missed cleanup run
// is never a correctness problem.
func (s *BackupStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	tr := otel.Tracer("services/BackupStore")
	ctx, span := tr.Start(ctx, "Cleanup",
		trace.WithAttributes(attribute.String("max_age", maxAge.String())),
	)
	defer span.End()

	removed, err := repo.DeleteBackupCoordinatesBefore(ctx, s.DB, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if removed > 0 && s.Cache != nil {
		// Cheaper than tracking which bins were pruned.
		s.Cache.FlushCategory(cache.CategoryBin)
	}
	return removed, nil
}

// RunCleanup invokes Cleanup on the given cadence until ctx is cancelled.
// Started once from main as a background worker.
func (s *BackupStore) RunCleanup(ctx context.Context, interval, maxAge time.Duration, onPass func(removed int64, err error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed, err := s.Cleanup(ctx, maxAge)
			if onPass != nil {
				onPass(removed, err)
			}
		}
	}
}
