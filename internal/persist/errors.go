package persist

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("persistence worker closed")

// SaveError is a terminal failure to persist one episode. It is reported on
// dataset/batch/error and never retried.
type SaveError struct {
	Counter   int
	EpisodeID int
	Folder    string
	Err       error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save episode %d as %s in %s: %v", e.EpisodeID, FileName(e.Counter), e.Folder, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// IsSaveError reports whether err is a *SaveError.
func IsSaveError(err error) bool {
	var se *SaveError
	return errors.As(err, &se)
}

// IsEmptyBatch reports whether err was caused by submitting an empty buffer.
func IsEmptyBatch(err error) bool { return errors.Is(err, errEmptyBatch) }
