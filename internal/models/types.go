// Package models holds the data model shared across the recognition stack:
// target states, attributes, delta events, and formations (SPEC_FULL.md §3).
package models

import (
	"time"

	"github.com/rhino11/formation/internal/geo"
)

// PlatformType enumerates the recognized airborne platform categories.
type PlatformType string

const (
	PlatformFighter    PlatformType = "Fighter"
	PlatformBomber     PlatformType = "Bomber"
	PlatformAWACS      PlatformType = "AWACS"
	PlatformEW         PlatformType = "EW"
	PlatformTanker     PlatformType = "Tanker"
	PlatformTransport  PlatformType = "Transport"
	PlatformUAV        PlatformType = "UAV"
	PlatformHelicopter PlatformType = "Helicopter"
	PlatformUnknown    PlatformType = "Unknown"
)

// TargetState is a single timestamped observation. Immutable once published.
type TargetState struct {
	Timestamp time.Time
	Position  geo.Position
	Heading   float64
	Speed     float64
	Pitch     float64
	Roll      float64
}

// TargetAttributes carries the string-valued identity fields of a target.
// Comparison of every field is exact (SPEC_FULL.md §3).
type TargetAttributes struct {
	PlatformType PlatformType
	Nation       string
	Alliance     string
	Theatre      string
	Airport      string
	Squadron     string
	Mission      string
}

// DeltaKind distinguishes an update from a deletion event.
type DeltaKind string

const (
	DeltaUpdate DeltaKind = "UPDATE"
	DeltaDelete DeltaKind = "DELETE"
)

// FieldDelta captures a from/to/delta triple for one changed scalar field.
type FieldDelta struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Delta float64 `json:"delta"`
}

// PositionDelta captures the structured position change of a DeltaEvent.
type PositionDelta struct {
	From  geo.Position `json:"from"`
	To    geo.Position `json:"to"`
	DLon  float64      `json:"d_lon"`
	DLat  float64      `json:"d_lat"`
	DAlt  float64      `json:"d_alt"`
}

// DeltaEvent is one append-only record in a target's delta log.
type DeltaEvent struct {
	TargetID      string         `json:"target_id"`
	Version       int64          `json:"version"`
	Kind          DeltaKind      `json:"event_type"`
	Timestamp     time.Time      `json:"timestamp"`
	Position      *PositionDelta `json:"position,omitempty"`
	Heading       *FieldDelta    `json:"heading,omitempty"`
	Speed         *FieldDelta    `json:"speed,omitempty"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	Reason        string         `json:"reason,omitempty"`
}

// HasChanges reports whether the event carries an actual field diff (true for
// well-formed UPDATE events; always false for a bare DELETE placeholder).
func (d DeltaEvent) HasChanges() bool {
	return d.Position != nil || d.Heading != nil || d.Speed != nil
}

// FormationMember is one target's participation in a formation.
type FormationMember struct {
	TargetID   string
	Attributes TargetAttributes
	JoinedAt   time.Time
	States     []TargetState
}

// SpatialSummary is the bounding-box/centre/area summary of a formation.
type SpatialSummary struct {
	Center   geo.Position
	Bounds   geo.BoundingBox
	AreaKM2  float64
}

// MotionSummary is the mean/std speed and circular mean/std heading summary.
type MotionSummary struct {
	MeanSpeed     float64
	SpeedStdDev   float64
	MeanHeading   float64
	HeadingStdDev float64
	AltitudeLayer geo.AltitudeLayer
	Cohesion      float64
}

// Formation is the output of a recognition run (SPEC_FULL.md §3).
type Formation struct {
	ID               string
	Type             string
	Confidence       float64
	Members          []FormationMember
	TimeStart        time.Time
	TimeEnd          time.Time
	CreatedAt        time.Time
	Spatial          SpatialSummary
	Motion           MotionSummary
	AppliedRules     []string
	RuleConfidences  map[string]float64
}

// MemberIDs returns the target ids of every member, for indexing and logging.
func (f Formation) MemberIDs() []string {
	ids := make([]string, len(f.Members))
	for i, m := range f.Members {
		ids[i] = m.TargetID
	}
	return ids
}

// SyncSession is a client-scoped incremental-sync bookmark (SPEC_FULL.md §3).
type SyncSession struct {
	SessionID  string
	ClientID   string
	CreatedAt  time.Time
	LastSyncAt time.Time
	TargetIDs  []string // empty means "all"
	Versions   map[string]int64
}

// TargetObservation is one inbound observation on the ingest stream: a
// target identity, its (possibly first-seen) attributes, and the state at
// this instant.
type TargetObservation struct {
	TargetID string
	Attrs    TargetAttributes
	State    TargetState
}
