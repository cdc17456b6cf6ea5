// Package domain – telemetry value types.
//
// TelemetrySample and ResolvedPosition are not persisted; samples are
// ephemeral inputs and resolved positions are derived fresh per resolution.
package domain

import "time"

// TelemetrySample is one validated device report. It is immutable once
// received and lives only for the duration of a resolution (plus cache TTL
// on the resolved output, never the raw sample).
type TelemetrySample struct {
	BinID      string    `json:"bin_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	GPSValid   bool      `json:"gps_valid"`
	Satellites int       `json:"satellites"`
	Source     string    `json:"coordinates_source"`
	Timestamp  time.Time `json:"timestamp"`
}

// HasLiveFix reports whether the sample qualifies as a trustworthy live
// position: device-asserted validity, at least one satellite, usable
// coordinates, and the live source tag.
func (s TelemetrySample) HasLiveFix() bool {
	return s.GPSValid &&
		s.Satellites > 0 &&
		s.Source == SourceGPSLive &&
		ValidCoordinates(s.Latitude, s.Longitude)
}

// ResolvedPosition is the single authoritative position/status for a bin,
// computed per resolution call.
type ResolvedPosition struct {
	BinID     string         `json:"bin_id"`
	Latitude  float64        `json:"latitude"`
	Longitude float64        `json:"longitude"`
	Status    PositionStatus `json:"status"`
	Source    string         `json:"source"`
	Age       time.Duration  `json:"age"`
}
