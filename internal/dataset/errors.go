package dataset

import (
	"errors"
	"fmt"
)

// ErrCapture marks a frame that could not be captured. The frame is skipped.
var ErrCapture = errors.New("capture failed")

func captureError(frame int, what string, err error) error {
	return fmt.Errorf("%w: frame %d: %s: %w", ErrCapture, frame, what, err)
}

// shapeError reports a depth image inconsistent with the expected shape.
type shapeError struct {
	wantH, wantW int
	got          Depth
}

func (e *shapeError) Error() string {
	return fmt.Sprintf("depth shape %dx%d (len %d), want %dx%d", e.got.H, e.got.W, len(e.got.Data), e.wantH, e.wantW)
}
