// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// BackupCoordinate model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no coordinate validation here;
// that is the backup store service's job. Only CRUD persistence and query
// composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ecowatch/go-binwatch-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
//
// It aliases gorm.ErrRecordNotFound so callers can use errors.Is either way.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertBackupCoordinate writes the last-known-valid position for a bin.
// The update is guarded on recordedAt: a stored row with a newer RecordedAt
// is left untouched and applied is false, so an out-of-order write can never
// regress the position. Single statement, so a reader never observes a
// partial write.
func UpsertBackupCoordinate(ctx context.Context, db *gorm.DB, binID string, lat, lng float64, satellites int, recordedAt time.Time) (applied bool, err error) {
	rec := &domain.BackupCoordinate{
		BinID:      binID,
		Latitude:   lat,
		Longitude:  lng,
		Satellites: satellites,
		RecordedAt: recordedAt.UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bin_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "satellites", "recorded_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.recorded_at >= backup_coordinates.recorded_at"},
			}},
		}).
		Create(rec)
	return res.RowsAffected > 0, res.Error
}

// GetBackupCoordinate fetches the record for binID, or ErrNotFound.
func GetBackupCoordinate(ctx context.Context, db *gorm.DB, binID string) (*domain.BackupCoordinate, error) {
	var rec domain.BackupCoordinate
	if err := db.WithContext(ctx).Where("bin_id = ?", binID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountBackupCoordinates returns the total number of stored records.
func CountBackupCoordinates(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.BackupCoordinate{}).Count(&total).Error
	return total, err
}

// ListBackupCoordinatesPage returns a paginated slice ordered deterministically
// (RecordedAt DESC, bin_id ASC).
func ListBackupCoordinatesPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.BackupCoordinate, error) {
	var out []domain.BackupCoordinate
	err := db.WithContext(ctx).
		Order("recorded_at DESC, bin_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteBackupCoordinatesBefore removes every record whose RecordedAt is
// older than cutoff and returns the number of rows removed.
func DeleteBackupCoordinatesBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("recorded_at < ?", cutoff.UTC()).
		Delete(&domain.BackupCoordinate{})
	return res.RowsAffected, res.Error
}

// CoordinatesStats returns aggregate metadata for the backup-coordinate
// table: the total number of rows and the maximum RecordedAt timestamp among
// those rows. Used for conditional responses (ETag generation) on the
// listing endpoint. When the table is empty, the returned count is 0 and
// maxRecordedAt is nil.
func CoordinatesStats(ctx context.Context, db *gorm.DB) (count int64, maxRecordedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.BackupCoordinate{})

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest recorded_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		RecordedAt time.Time
	}
	if err = q.Select("recorded_at").Order("recorded_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.RecordedAt, nil
}
