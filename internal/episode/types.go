package episode

import (
	"time"

	"episoded/internal/config"
	"episoded/internal/events"
)

// State represents the lifecycle state of an episode.
type State string

const (
	StateIdle       State = "idle"
	StateCollecting State = "collecting"
	StateSaving     State = "saving"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Episode is one bounded data-collection session.
type Episode struct {
	ID        int                `json:"id"`
	State     State              `json:"state"`
	Cause     events.Cause       `json:"cause,omitempty"`
	Config    config.SceneConfig `json:"config"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Archive   string             `json:"archive,omitempty"`
	Err       string             `json:"error,omitempty"`
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State         State     `json:"state"`
	Current       *Episode  `json:"current,omitempty"`
	Saving        []Episode `json:"saving"`
	History       []Episode `json:"history"`
	LastFrame     int       `json:"last_frame"`
	Threshold     float64   `json:"threshold"`
	Started       int       `json:"episodes_started"`
	CaptureFaults uint64    `json:"capture_faults"`
}
