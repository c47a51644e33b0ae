// Package events defines the topics exchanged over the bus and the typed
// payloads carried on them. Each payload converts to the bus field map with
// Fields and back with the matching Parse function.
package events

import (
	"fmt"

	"episoded/internal/bus"
	"episoded/internal/config"
)

// Collaborator-owned topics.
const (
	TopicSceneReady       bus.Topic = "scene/creation_completed"
	TopicFrameAdvance     bus.Topic = "simulation/frame"
	TopicManualEnd        bus.Topic = "episode/manual_end"
	TopicVictimDetected   bus.Topic = "victim/detected"
	TopicKeyboardMove     bus.Topic = "keyboard/move"
	TopicKeyboardRotate   bus.Topic = "keyboard/rotate"
	TopicSceneStartCreate bus.Topic = "scene/start_creation"
)

// Core-owned topics.
const (
	TopicEpisodeStart    bus.Topic = "episode/start"
	TopicEpisodeEnd      bus.Topic = "episode/end"
	TopicCaptureComplete bus.Topic = "dataset/capture/complete"
	TopicBatchSaved      bus.Topic = "dataset/batch/saved"
	TopicBatchError      bus.Topic = "dataset/batch/error"
)

// Cause explains why an episode ended.
type Cause string

const (
	CauseThresholdReached   Cause = "ThresholdReached"
	CauseManualTrigger      Cause = "ManualTrigger"
	CauseShutdownSuppressed Cause = "ShutdownSuppressed"
)

// Persisted reports whether an episode ended with this cause is saved.
func (c Cause) Persisted() bool { return c != CauseShutdownSuppressed }

func (c Cause) valid() bool {
	switch c {
	case CauseThresholdReached, CauseManualTrigger, CauseShutdownSuppressed:
		return true
	}
	return false
}

// SceneReady announces a freshly built environment.
type SceneReady struct {
	Config config.SceneConfig
}

func (p SceneReady) Fields() map[string]any { return map[string]any{"config": p.Config} }

// ParseSceneReady accepts a missing config; the manager keeps its retained one.
func ParseSceneReady(e bus.Event) (SceneReady, bool) {
	cfg, ok := e.Fields["config"].(config.SceneConfig)
	return SceneReady{Config: cfg}, ok
}

// SceneStartCreation asks the scene collaborator to rebuild the scene.
type SceneStartCreation struct {
	Config config.SceneConfig
}

func (p SceneStartCreation) Fields() map[string]any { return map[string]any{"config": p.Config} }

func ParseSceneStartCreation(e bus.Event) (SceneStartCreation, error) {
	cfg, ok := e.Fields["config"].(config.SceneConfig)
	if !ok {
		return SceneStartCreation{}, &bus.FieldError{Topic: e.Topic, Key: "config", Msg: fmt.Sprintf("want SceneConfig, got %T", e.Fields["config"])}
	}
	return SceneStartCreation{Config: cfg}, nil
}

// FrameAdvance is published once per simulation step.
type FrameAdvance struct {
	FrameNo   int
	DeltaTime float64
}

func (p FrameAdvance) Fields() map[string]any {
	return map[string]any{"frame_no": p.FrameNo, "delta_time": p.DeltaTime}
}

func ParseFrameAdvance(e bus.Event) (FrameAdvance, error) {
	n, err := e.Int("frame_no")
	if err != nil {
		return FrameAdvance{}, err
	}
	dt, err := e.Float("delta_time")
	if err != nil {
		return FrameAdvance{}, err
	}
	return FrameAdvance{FrameNo: n, DeltaTime: dt}, nil
}

// EpisodeStart is published when an episode enters Collecting.
type EpisodeStart struct {
	EpisodeID int
	Config    config.SceneConfig
}

func (p EpisodeStart) Fields() map[string]any {
	return map[string]any{"episode_id": p.EpisodeID, "config": p.Config}
}

func ParseEpisodeStart(e bus.Event) (EpisodeStart, error) {
	id, err := e.Int("episode_id")
	if err != nil {
		return EpisodeStart{}, err
	}
	cfg, _ := e.Fields["config"].(config.SceneConfig)
	return EpisodeStart{EpisodeID: id, Config: cfg}, nil
}

// EpisodeEnd is published when an episode leaves Collecting.
type EpisodeEnd struct {
	EpisodeID int
	Cause     Cause
}

func (p EpisodeEnd) Fields() map[string]any {
	return map[string]any{"episode_id": p.EpisodeID, "cause": string(p.Cause)}
}

func ParseEpisodeEnd(e bus.Event) (EpisodeEnd, error) {
	id, err := e.Int("episode_id")
	if err != nil {
		return EpisodeEnd{}, err
	}
	s, err := e.Str("cause")
	if err != nil {
		return EpisodeEnd{}, err
	}
	c := Cause(s)
	if !c.valid() {
		return EpisodeEnd{}, &bus.FieldError{Topic: e.Topic, Key: "cause", Msg: "unknown cause " + s}
	}
	return EpisodeEnd{EpisodeID: id, Cause: c}, nil
}

// CaptureComplete carries per-frame metadata of a captured sample.
type CaptureComplete struct {
	Frame     int
	Distance  float64
	Action    int
	VictimVec [4]float32
}

func (p CaptureComplete) Fields() map[string]any {
	return map[string]any{"frame": p.Frame, "distance": p.Distance, "action": p.Action, "victim_vec": p.VictimVec}
}

func ParseCaptureComplete(e bus.Event) (CaptureComplete, error) {
	var p CaptureComplete
	var err error
	if p.Frame, err = e.Int("frame"); err != nil {
		return p, err
	}
	if p.Distance, err = e.Float("distance"); err != nil {
		return p, err
	}
	if p.Action, err = e.Int("action"); err != nil {
		return p, err
	}
	p.VictimVec, _ = e.Fields["victim_vec"].([4]float32)
	return p, nil
}

// BatchSaved reports a persisted episode archive.
type BatchSaved struct {
	Folder    string
	Counter   int
	EpisodeID int
	Path      string
	Split     string
	Samples   int
}

func (p BatchSaved) Fields() map[string]any {
	return map[string]any{
		"folder": p.Folder, "counter": p.Counter, "episode_id": p.EpisodeID,
		"path": p.Path, "split": p.Split, "samples": p.Samples,
	}
}

func ParseBatchSaved(e bus.Event) (BatchSaved, error) {
	var p BatchSaved
	var err error
	if p.Folder, err = e.Str("folder"); err != nil {
		return p, err
	}
	if p.Counter, err = e.Int("counter"); err != nil {
		return p, err
	}
	p.EpisodeID, _ = e.Int("episode_id")
	p.Path, _ = e.Str("path")
	p.Split, _ = e.Str("split")
	p.Samples, _ = e.Int("samples")
	return p, nil
}

// BatchError reports a failed save. The episode's data is lost.
type BatchError struct {
	Folder    string
	Counter   int
	EpisodeID int
	Error     string
}

func (p BatchError) Fields() map[string]any {
	return map[string]any{"folder": p.Folder, "counter": p.Counter, "episode_id": p.EpisodeID, "error": p.Error}
}

func ParseBatchError(e bus.Event) (BatchError, error) {
	var p BatchError
	var err error
	if p.Folder, err = e.Str("folder"); err != nil {
		return p, err
	}
	if p.Counter, err = e.Int("counter"); err != nil {
		return p, err
	}
	if p.Error, err = e.Str("error"); err != nil {
		return p, err
	}
	p.EpisodeID, _ = e.Int("episode_id")
	return p, nil
}

// VictimDetected is an immediate proximity alarm from the detector.
type VictimDetected struct {
	Frame    int
	Distance float64
}

func (p VictimDetected) Fields() map[string]any {
	return map[string]any{"frame": p.Frame, "distance": p.Distance}
}

func ParseVictimDetected(e bus.Event) (VictimDetected, error) {
	f, err := e.Int("frame")
	if err != nil {
		return VictimDetected{}, err
	}
	d, err := e.Float("distance")
	if err != nil {
		return VictimDetected{}, err
	}
	return VictimDetected{Frame: f, Distance: d}, nil
}

// Move is a translation command in the drone frame.
type Move struct {
	DX, DY, DZ float64
}

func (p Move) Fields() map[string]any { return map[string]any{"dx": p.DX, "dy": p.DY, "dz": p.DZ} }

func ParseMove(e bus.Event) (Move, error) {
	var p Move
	var err error
	if p.DX, err = e.Float("dx"); err != nil {
		return p, err
	}
	if p.DY, err = e.Float("dy"); err != nil {
		return p, err
	}
	if p.DZ, err = e.Float("dz"); err != nil {
		return p, err
	}
	return p, nil
}

// Rotate is a yaw command; positive turns left.
type Rotate struct {
	Delta float64
}

func (p Rotate) Fields() map[string]any { return map[string]any{"delta": p.Delta} }

func ParseRotate(e bus.Event) (Rotate, error) {
	d, err := e.Float("delta")
	if err != nil {
		return Rotate{}, err
	}
	return Rotate{Delta: d}, nil
}
