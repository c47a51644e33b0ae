package persist

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gorgonia.org/tensor"

	"episoded/internal/dataset"
)

// ArchiveExt is the file extension of episode archives.
const ArchiveExt = ".npz"

// Array names inside an archive, in write order.
const (
	arrDepths     = "depths"
	arrPoses      = "poses"
	arrFrames     = "frames"
	arrDistances  = "distances"
	arrActions    = "actions"
	arrVictimDirs = "victim_dirs"
)

var arrayNames = []string{arrDepths, arrPoses, arrFrames, arrDistances, arrActions, arrVictimDirs}

var errEmptyBatch = errors.New("episode buffer is empty")

// Archive holds the parallel arrays of one episode, flattened row-major.
type Archive struct {
	N, H, W    int
	Depths     []float32 // N*H*W
	Poses      []float32 // N*6
	Frames     []int32
	Distances  []float32
	Actions    []int32
	VictimDirs []float32 // N*4
}

// FileName returns the archive name for counter, e.g. episode_00042.npz.
func FileName(counter int) string {
	return fmt.Sprintf("episode_%05d%s", counter, ArchiveExt)
}

// NewArchive flattens samples into parallel arrays. All depth images must
// share one shape.
func NewArchive(samples []dataset.FrameSample) (*Archive, error) {
	if len(samples) == 0 {
		return nil, errEmptyBatch
	}
	h, w := samples[0].Depth.H, samples[0].Depth.W
	n := len(samples)
	a := &Archive{
		N: n, H: h, W: w,
		Depths:     make([]float32, 0, n*h*w),
		Poses:      make([]float32, 0, n*6),
		Frames:     make([]int32, 0, n),
		Distances:  make([]float32, 0, n),
		Actions:    make([]int32, 0, n),
		VictimDirs: make([]float32, 0, n*4),
	}
	for i, s := range samples {
		if s.Depth.H != h || s.Depth.W != w || len(s.Depth.Data) != h*w {
			return nil, fmt.Errorf("sample %d: depth %dx%d (len %d), want %dx%d", i, s.Depth.H, s.Depth.W, len(s.Depth.Data), h, w)
		}
		a.Depths = append(a.Depths, s.Depth.Data...)
		a.Poses = append(a.Poses, s.Pose[:]...)
		a.Frames = append(a.Frames, int32(s.Frame))
		a.Distances = append(a.Distances, s.Distance)
		a.Actions = append(a.Actions, int32(s.Action))
		a.VictimDirs = append(a.VictimDirs, s.VictimDir[:]...)
	}
	return a, nil
}

// Samples converts the arrays back into frame samples.
func (a *Archive) Samples() []dataset.FrameSample {
	out := make([]dataset.FrameSample, a.N)
	px := a.H * a.W
	for i := range out {
		s := &out[i]
		s.Frame = int(a.Frames[i])
		s.Depth = dataset.Depth{H: a.H, W: a.W, Data: append([]float32(nil), a.Depths[i*px:(i+1)*px]...)}
		copy(s.Pose[:], a.Poses[i*6:(i+1)*6])
		s.Distance = a.Distances[i]
		s.Action = dataset.ActionLabel(a.Actions[i])
		copy(s.VictimDir[:], a.VictimDirs[i*4:(i+1)*4])
	}
	return out
}

func (a *Archive) tensors() map[string]*tensor.Dense {
	return map[string]*tensor.Dense{
		arrDepths:     tensor.New(tensor.WithShape(a.N, a.H, a.W), tensor.WithBacking(a.Depths)),
		arrPoses:      tensor.New(tensor.WithShape(a.N, 6), tensor.WithBacking(a.Poses)),
		arrFrames:     tensor.New(tensor.WithShape(a.N), tensor.WithBacking(a.Frames)),
		arrDistances:  tensor.New(tensor.WithShape(a.N), tensor.WithBacking(a.Distances)),
		arrActions:    tensor.New(tensor.WithShape(a.N), tensor.WithBacking(a.Actions)),
		arrVictimDirs: tensor.New(tensor.WithShape(a.N, 4), tensor.WithBacking(a.VictimDirs)),
	}
}

// Encode writes the archive as a deflate-compressed zip of .npy arrays, the
// layout numpy.load reads as an .npz file.
func (a *Archive) Encode(w io.Writer) error {
	zw := zip.NewWriter(w)
	ts := a.tensors()
	for _, name := range arrayNames {
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Deflate})
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		if err := ts[name].WriteNpy(fw); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

// ReadArchive loads an archive written by Encode.
func ReadArchive(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	arrays := make(map[string]*tensor.Dense, len(arrayNames))
	for _, f := range zr.File {
		name := f.Name[:len(f.Name)-len(filepath.Ext(f.Name))]
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		t := new(tensor.Dense)
		err = t.ReadNpy(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		arrays[name] = t
	}
	for _, name := range arrayNames {
		if _, ok := arrays[name]; !ok {
			return nil, fmt.Errorf("archive %s: missing array %q", filepath.Base(path), name)
		}
	}

	shape := arrays[arrDepths].Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("depths: want 3 dimensions, got %v", shape)
	}
	a := &Archive{N: shape[0], H: shape[1], W: shape[2]}
	if a.Depths, err = float32s(arrays[arrDepths]); err != nil {
		return nil, err
	}
	if a.Poses, err = float32s(arrays[arrPoses]); err != nil {
		return nil, err
	}
	if a.Frames, err = int32s(arrays[arrFrames]); err != nil {
		return nil, err
	}
	if a.Distances, err = float32s(arrays[arrDistances]); err != nil {
		return nil, err
	}
	if a.Actions, err = int32s(arrays[arrActions]); err != nil {
		return nil, err
	}
	if a.VictimDirs, err = float32s(arrays[arrVictimDirs]); err != nil {
		return nil, err
	}
	if err := a.check(); err != nil {
		return nil, fmt.Errorf("archive %s: %w", filepath.Base(path), err)
	}
	return a, nil
}

func (a *Archive) check() error {
	switch {
	case len(a.Depths) != a.N*a.H*a.W:
		return fmt.Errorf("depths has %d values, want %d", len(a.Depths), a.N*a.H*a.W)
	case len(a.Poses) != a.N*6:
		return fmt.Errorf("poses has %d values, want %d", len(a.Poses), a.N*6)
	case len(a.Frames) != a.N, len(a.Distances) != a.N, len(a.Actions) != a.N:
		return fmt.Errorf("frames/distances/actions lengths %d/%d/%d, want %d", len(a.Frames), len(a.Distances), len(a.Actions), a.N)
	case len(a.VictimDirs) != a.N*4:
		return fmt.Errorf("victim_dirs has %d values, want %d", len(a.VictimDirs), a.N*4)
	}
	return nil
}

// Single-element arrays may come back from Data as a bare scalar.
func float32s(t *tensor.Dense) ([]float32, error) {
	switch v := t.Data().(type) {
	case []float32:
		return append([]float32(nil), v...), nil
	case float32:
		return []float32{v}, nil
	}
	return nil, fmt.Errorf("want float32 array, got %v", t.Dtype())
}

func int32s(t *tensor.Dense) ([]int32, error) {
	switch v := t.Data().(type) {
	case []int32:
		return append([]int32(nil), v...), nil
	case int32:
		return []int32{v}, nil
	}
	return nil, fmt.Errorf("want int32 array, got %v", t.Dtype())
}
