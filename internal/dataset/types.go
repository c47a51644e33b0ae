package dataset

// Depth is a row-major H×W depth image in meters.
type Depth struct {
	H    int
	W    int
	Data []float32
}

// Pose is the drone pose: x, y, z, roll, pitch, yaw.
type Pose [6]float32

// Vec4 is the unit direction to the target (x, y, z) followed by the distance.
type Vec4 [4]float32

// Capturer is the capture collaborator. Its underlying connection is not safe
// for concurrent use; it is only called while handling FrameAdvance.
type Capturer interface {
	CaptureFrame() (Depth, Pose, error)
	CaptureDistanceToTarget() (float64, error)
	CaptureDirectionToTarget() (Vec4, error)
}

// FrameSample is one captured frame of an episode.
type FrameSample struct {
	Frame     int
	Depth     Depth
	Pose      Pose
	Distance  float32
	Action    ActionLabel
	VictimDir Vec4
}

// Batch is a completed episode buffer. Once submitted it belongs to the
// receiver; the collector never touches it again.
type Batch struct {
	EpisodeID int
	Samples   []FrameSample
}

// Submitter accepts completed batches for persistence.
type Submitter interface {
	Submit(Batch) error
}
