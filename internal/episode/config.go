package episode

import (
	"github.com/rs/zerolog"

	"episoded/internal/bus"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultThreshold   = 0.5
	defaultHistorySize = 64
)

// DistanceSource is the part of the capture collaborator the manager needs.
// It is only called while handling FrameAdvance, i.e. on the tick goroutine.
type DistanceSource interface {
	CaptureDistanceToTarget() (float64, error)
}

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Bus     *bus.Bus
	Capture DistanceSource
	// Threshold ends an episode once the distance to target is at or below it.
	Threshold float64
	// HistorySize bounds the finished episodes kept for Snapshot.
	HistorySize int
	Logger      zerolog.Logger
}
