// Package services – Resolver
//
// This file implements the coordinate resolution state machine. A resolution
// turns one (possibly absent) telemetry sample plus the backup store into a
// single authoritative position/status per bin:
//
//	LIVE    - trustworthy device fix; sample coordinates used directly and
//	          written through to the backup store.
//	STALE   - no live fix; backup record younger than the staleness
//	          threshold.
//	BACKUP  - no live fix; backup record older than the threshold. The
//	          coordinates are unchanged, only the confidence label drops.
//	OFFLINE - nothing usable; the configured default position is returned,
//	          or nil when the caller asked for no-marker semantics.
//
// A fresh live sample always wins over a backup, even one only seconds old:
// liveness is a harder signal than backup recency.
//
// Resolutions are serialized per bin so a burst of near-simultaneous samples
// for the same bin cannot race on the backup-store write; different bins
// never block each other. Lookups without a sample are fronted by the bin
// cache partition so dashboard polling does not re-read the store between
// samples.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ecowatch/go-binwatch-backend/internal/cache"
	"github.com/ecowatch/go-binwatch-backend/internal/domain"
	"github.com/ecowatch/go-binwatch-backend/internal/ratelimit"
)

var resolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "binwatch_resolutions_total",
		Help: "Coordinate resolutions by resulting status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(resolutions)
}

// Resolver computes authoritative bin positions. It owns no data; it reads
// and writes through the BackupStore and fronts repeated lookups with the
// cache.
type Resolver struct {
	Store   *BackupStore
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter

	// StalenessThreshold demotes backup records from STALE to BACKUP.
	StalenessThreshold time.Duration

	// DefaultLatitude/DefaultLongitude are the fallback marker position for
	// OFFLINE bins when the caller wants a marker at all.
	DefaultLatitude  float64
	DefaultLongitude float64

	// IngestMaxRequests/IngestWindow define the per-bin sliding-window
	// admission policy for the ingestion path.
	IngestMaxRequests int
	IngestWindow      time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// binLock returns the per-bin mutex, creating it on first use. Lock entries
// are never evicted; fleets are small enough that the map stays bounded.
func (r *Resolver) binLock(binID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*sync.Mutex)
	}
	l, ok := r.locks[binID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[binID] = l
	}
	return l
}

func (r *Resolver) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Ingest admission-checks one telemetry sample through the sliding window
// and resolves it. Concurrent samples for a bin may acquire the per-bin
// lock out of arrival order; the store write is guarded on the sample's
// fix time (last-fix-wins), so the backup record settles on the latest
// admitted sample regardless of lock order.
//
// Returns ErrInvalidSample when the sample has no bin id, ErrRateLimited
// when the window is full.
func (r *Resolver) Ingest(ctx context.Context, sample domain.TelemetrySample) (*domain.ResolvedPosition, error) {
	if sample.BinID == "" {
		return nil, ErrInvalidSample
	}
	if r.Limiter != nil && !r.Limiter.Allow("bin:"+sample.BinID, r.IngestMaxRequests, r.IngestWindow) {
		return nil, ErrRateLimited
	}
	return r.Resolve(ctx, sample.BinID, &sample, true)
}

// RetryAfter reports how long an ErrRateLimited caller should wait before
// re-polling for binID.
func (r *Resolver) RetryAfter(binID string) time.Duration {
	if r.Limiter == nil {
		return 0
	}
	return r.Limiter.ResetIn("bin:"+binID, r.IngestWindow)
}

// Lookup resolves binID without a live sample, serving from the bin cache
// partition when a recent resolution exists. showMarker=false requests
// no-data semantics: an OFFLINE bin yields nil instead of the default
// position, so the caller can suppress a map marker rather than show a
// false position at a default point.
func (r *Resolver) Lookup(ctx context.Context, binID string, showMarker bool) (*domain.ResolvedPosition, error) {
	if binID == "" {
		return nil, ErrInvalidSample
	}

	v, err := r.Cache.GetOrCompute(cache.CategoryBin, binID, 0, func() (any, error) {
		return r.Resolve(ctx, binID, nil, true)
	})
	if err != nil {
		return nil, err
	}
	pos := v.(*domain.ResolvedPosition)
	if pos.Status == domain.StatusOffline && !showMarker {
		return nil, nil
	}
	return pos, nil
}

// Resolve runs the decision ladder for one bin. sample may be nil.
func (r *Resolver) Resolve(ctx context.Context, binID string, sample *domain.TelemetrySample, showMarker bool) (*domain.ResolvedPosition, error) {
	tr := otel.Tracer("services/Resolver")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("bin.id", binID)),
	)
	defer span.End()

	lock := r.binLock(binID)
	lock.Lock()
	defer lock.Unlock()

	// 1) Trustworthy live fix: use it directly and write through. The store
	// write carries the sample's fix time so a slower, older sample that
	// grabs the bin lock late can never overwrite a newer position.
	if sample != nil && sample.HasLiveFix() {
		recordedAt := sample.Timestamp
		if recordedAt.IsZero() {
			recordedAt = r.clock()
		}
		applied, err := r.Store.SaveAt(ctx, binID, sample.Latitude, sample.Longitude, sample.Satellites, recordedAt)
		if err != nil {
			return nil, err
		}
		pos := &domain.ResolvedPosition{
			BinID:     binID,
			Latitude:  sample.Latitude,
			Longitude: sample.Longitude,
			Status:    domain.StatusLive,
			Source:    domain.SourceGPSLive,
			Age:       0,
		}
		if applied {
			r.Cache.Set(cache.CategoryBin, binID, pos, 0)
		}
		resolutions.WithLabelValues(string(domain.StatusLive)).Inc()
		span.SetAttributes(attribute.String("position.status", string(domain.StatusLive)))
		return pos, nil
	}

	// 2) Fall back to the last known valid position.
	rec, err := r.Store.Read(ctx, binID)
	if err == nil && domain.ValidCoordinates(rec.Latitude, rec.Longitude) {
		age := r.clock().Sub(rec.RecordedAt)
		status, source := domain.StatusStale, domain.SourceGPSStale
		if age >= r.StalenessThreshold {
			status, source = domain.StatusBackup, domain.SourceGPSBackup
		}
		pos := &domain.ResolvedPosition{
			BinID:     binID,
			Latitude:  rec.Latitude,
			Longitude: rec.Longitude,
			Status:    status,
			Source:    source,
			Age:       age,
		}
		resolutions.WithLabelValues(string(status)).Inc()
		span.SetAttributes(attribute.String("position.status", string(status)))
		return pos, nil
	}
	if err != nil {
		log.Debug().Str("bin_id", binID).Err(err).Msg("no backup record")
	}

	// 3) Nothing usable.
	resolutions.WithLabelValues(string(domain.StatusOffline)).Inc()
	span.SetAttributes(attribute.String("position.status", string(domain.StatusOffline)))
	if !showMarker {
		return nil, nil
	}
	return &domain.ResolvedPosition{
		BinID:     binID,
		Latitude:  r.DefaultLatitude,
		Longitude: r.DefaultLongitude,
		Status:    domain.StatusOffline,
		Source:    domain.SourceDefault,
	}, nil
}
