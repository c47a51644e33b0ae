// Package sim is a synthetic stand-in for the external simulator. A Driver
// owns the simulation-tick goroutine: it flies a drone toward a target,
// publishes frame, movement and proximity events, and serves capture
// requests made while a tick is being handled.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"episoded/internal/bus"
	"episoded/internal/config"
	"episoded/internal/dataset"
	"episoded/internal/events"
)

// ErrNotOnTick is returned by capture calls made outside a tick.
var ErrNotOnTick = errors.New("capture called outside the simulation tick")

// ErrQueueFull is returned when the command queue cannot take more work.
var ErrQueueFull = errors.New("simulation command queue full")

// ErrNoScene is returned by capture calls before the first scene is built.
var ErrNoScene = errors.New("no scene")

const (
	defaultTimestep     = 0.05
	defaultDetectRadius = 2.0
	commandQueueSize    = 16
	defaultMoveStep     = 0.2
	defaultRotateStep   = 10 * math.Pi / 180
)

// Config configures a Driver.
type Config struct {
	Bus   *bus.Bus
	Scene config.SceneConfig
	// Timestep is the simulated duration of one tick in seconds.
	Timestep float64
	// Interval is the wall-clock tick period of Run. Zero runs in real time.
	Interval time.Duration
	// DetectRadius is the range at which victim/detected is published.
	DetectRadius   float64
	DepthH, DepthW int
	Seed           int64
	Logger         zerolog.Logger
}

// Stats is a point-in-time view of the driver.
type Stats struct {
	Frame       int        `json:"frame"`
	SceneBuilds int        `json:"scene_builds"`
	Position    [3]float64 `json:"position"`
	Yaw         float64    `json:"yaw"`
	Target      [3]float64 `json:"target"`
	Distance    float64    `json:"distance"`
	Running     bool       `json:"running"`
	Queued      int        `json:"queued"`
}

// Driver simulates the drone. Step is the tick; only the goroutine calling
// Step (directly or through Run) may capture.
type Driver struct {
	bus      *bus.Bus
	dt       float64
	interval time.Duration
	detect   float64
	depthH   int
	depthW   int
	log      zerolog.Logger
	rng      *rand.Rand

	cmds    chan func()
	inTick  atomic.Bool
	running atomic.Bool
	sub     bus.Handle

	mu          sync.Mutex
	sceneCfg    config.SceneConfig
	rebuild     bool
	sc          *scene
	pos         vec3
	yaw         float64
	frame       int
	sceneBuilds int
}

// New creates a Driver. The first Step builds the initial scene.
func New(cfg Config) (*Driver, error) {
	if cfg.Bus == nil {
		return nil, errors.New("sim: bus is required")
	}
	if cfg.DepthH <= 0 || cfg.DepthW <= 0 {
		return nil, fmt.Errorf("sim: invalid depth size %dx%d", cfg.DepthW, cfg.DepthH)
	}
	d := &Driver{
		bus:      cfg.Bus,
		dt:       cfg.Timestep,
		interval: cfg.Interval,
		detect:   cfg.DetectRadius,
		depthH:   cfg.DepthH,
		depthW:   cfg.DepthW,
		log:      cfg.Logger.With().Str("component", "sim").Logger(),
		rng:      rand.New(rand.NewPCG(uint64(cfg.Seed), 0x5ce2e)),
		cmds:     make(chan func(), commandQueueSize),
		sceneCfg: cfg.Scene,
		rebuild:  true,
	}
	if d.dt <= 0 {
		d.dt = defaultTimestep
	}
	if d.interval <= 0 {
		d.interval = time.Duration(d.dt * float64(time.Second))
	}
	if d.detect <= 0 {
		d.detect = defaultDetectRadius
	}
	h, err := d.bus.Subscribe(events.TopicSceneStartCreate, d.onStartCreation)
	if err != nil {
		return nil, fmt.Errorf("sim: subscribe: %w", err)
	}
	d.sub = h
	return d, nil
}

// onStartCreation may run on any goroutine; the rebuild itself happens on
// the next tick.
func (d *Driver) onStartCreation(e bus.Event) error {
	p, err := events.ParseSceneStartCreation(e)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.sceneCfg = p.Config
	d.rebuild = true
	d.mu.Unlock()
	return nil
}

// Enqueue schedules fn to run on the tick goroutine at the start of the
// next Step.
func (d *Driver) Enqueue(fn func()) error {
	select {
	case d.cmds <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// RequestManualEnd publishes episode/manual_end from the tick goroutine.
func (d *Driver) RequestManualEnd() error {
	return d.Enqueue(func() { d.bus.Publish(events.TopicManualEnd, nil) })
}

// Run ticks until ctx is done. It returns nil on cancellation.
func (d *Driver) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("sim: driver already running")
	}
	defer d.running.Store(false)
	t := time.NewTicker(d.interval)
	defer t.Stop()
	d.log.Info().Dur("interval", d.interval).Float64("timestep", d.dt).Msg("tick loop started")
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Int("frame", d.Stats().Frame).Msg("tick loop stopped")
			return nil
		case <-t.C:
			d.Step()
		}
	}
}

// Step runs one simulation tick: queued commands, a pending scene rebuild,
// one motion step, then the frame event.
func (d *Driver) Step() {
	d.inTick.Store(true)
	defer d.inTick.Store(false)

	for drained := false; !drained; {
		select {
		case fn := <-d.cmds:
			fn()
		default:
			drained = true
		}
	}

	d.mu.Lock()
	rebuild, cfg := d.rebuild, d.sceneCfg
	d.mu.Unlock()
	if rebuild {
		d.buildScene(cfg)
		return
	}

	d.mu.Lock()
	if d.sc == nil {
		d.mu.Unlock()
		return
	}
	mv, rot := d.advanceLocked()
	d.frame++
	frame := d.frame
	dist := d.sc.target.sub(d.pos).norm()
	d.mu.Unlock()

	if rot != 0 {
		d.bus.Publish(events.TopicKeyboardRotate, events.Rotate{Delta: rot}.Fields())
	}
	if mv != (events.Move{}) {
		d.bus.Publish(events.TopicKeyboardMove, mv.Fields())
	}
	if dist <= d.detect {
		d.bus.Publish(events.TopicVictimDetected, events.VictimDetected{Frame: frame, Distance: dist}.Fields())
	}
	d.bus.Publish(events.TopicFrameAdvance, events.FrameAdvance{FrameNo: frame, DeltaTime: d.dt}.Fields())
}

func (d *Driver) buildScene(cfg config.SceneConfig) {
	start := time.Now()
	sc := buildScene(cfg, d.rng)
	d.mu.Lock()
	d.sc = &sc
	d.pos = vec3{0, 0, startAlt}
	d.yaw = d.rng.Float64()*2*math.Pi - math.Pi
	d.rebuild = false
	d.sceneBuilds++
	n := d.sceneBuilds
	d.mu.Unlock()

	d.log.Info().Int("scene", n).Int("obstacles", len(sc.obstacles)).
		Float64("target_x", sc.target.X).Float64("target_y", sc.target.Y).
		Dur("took", time.Since(start)).Msg("scene created")
	d.bus.Publish(events.TopicSceneReady, events.SceneReady{Config: cfg}.Fields())
}

// advanceLocked applies one motion command: hold just above the target while
// turning toward it and flying forward, then close the last step and descend
// onto it. It returns what it applied in the drone frame.
func (d *Driver) advanceLocked() (events.Move, float64) {
	step := d.sc.cfg.MoveStep
	if step <= 0 {
		step = defaultMoveStep
	}
	rotStep := d.sc.cfg.RotateStepDeg * math.Pi / 180
	if rotStep <= 0 {
		rotStep = defaultRotateStep
	}
	delta := d.sc.target.sub(d.pos)
	want := math.Atan2(delta.Y, delta.X)
	yawErr := math.Remainder(want-d.yaw, 2*math.Pi)
	planar := math.Hypot(delta.X, delta.Y)
	alt := delta.Z + hoverOffset

	switch {
	case planar > 0 && math.Abs(alt) > step:
		dz := math.Copysign(step, alt)
		d.pos.Z += dz
		return events.Move{DZ: dz}, 0
	case planar > step && math.Abs(yawErr) > rotStep/2:
		r := math.Copysign(math.Min(rotStep, math.Abs(yawErr)), yawErr)
		d.yaw = math.Remainder(d.yaw+r, 2*math.Pi)
		return events.Move{}, r * 180 / math.Pi
	case planar > step:
		d.pos.X += step * math.Cos(d.yaw)
		d.pos.Y += step * math.Sin(d.yaw)
		return events.Move{DY: step}, 0
	case planar > 0:
		d.pos.X, d.pos.Y = d.sc.target.X, d.sc.target.Y
		return events.Move{DY: planar}, 0
	case delta.Z != 0:
		dz := math.Copysign(math.Min(step, math.Abs(delta.Z)), delta.Z)
		d.pos.Z += dz
		if math.Abs(d.sc.target.Z-d.pos.Z) < 1e-9 {
			d.pos.Z = d.sc.target.Z
		}
		return events.Move{DZ: dz}, 0
	}
	return events.Move{}, 0
}

func (d *Driver) checkTick() error {
	if !d.inTick.Load() {
		return ErrNotOnTick
	}
	return nil
}

// CaptureFrame renders the depth image and pose at the current position.
func (d *Driver) CaptureFrame() (dataset.Depth, dataset.Pose, error) {
	if err := d.checkTick(); err != nil {
		return dataset.Depth{}, dataset.Pose{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sc == nil {
		return dataset.Depth{}, dataset.Pose{}, ErrNoScene
	}
	depth := dataset.Depth{H: d.depthH, W: d.depthW, Data: d.sc.render(d.pos, d.yaw, d.depthH, d.depthW)}
	pose := dataset.Pose{float32(d.pos.X), float32(d.pos.Y), float32(d.pos.Z), 0, 0, float32(d.yaw)}
	return depth, pose, nil
}

// CaptureDistanceToTarget returns the euclidean distance to the target.
func (d *Driver) CaptureDistanceToTarget() (float64, error) {
	if err := d.checkTick(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sc == nil {
		return 0, ErrNoScene
	}
	return d.sc.target.sub(d.pos).norm(), nil
}

// CaptureDirectionToTarget returns the world-frame unit vector to the target
// and the distance.
func (d *Driver) CaptureDirectionToTarget() (dataset.Vec4, error) {
	if err := d.checkTick(); err != nil {
		return dataset.Vec4{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sc == nil {
		return dataset.Vec4{}, ErrNoScene
	}
	v := d.sc.target.sub(d.pos)
	n := v.norm()
	if n == 0 {
		return dataset.Vec4{}, nil
	}
	return dataset.Vec4{float32(v.X / n), float32(v.Y / n), float32(v.Z / n), float32(n)}, nil
}

// Ready reports whether a scene has been built.
func (d *Driver) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sc != nil
}

// Stats returns the driver state.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Stats{
		Frame:       d.frame,
		SceneBuilds: d.sceneBuilds,
		Position:    [3]float64{d.pos.X, d.pos.Y, d.pos.Z},
		Yaw:         d.yaw,
		Running:     d.running.Load(),
		Queued:      len(d.cmds),
	}
	if d.sc != nil {
		s.Target = [3]float64{d.sc.target.X, d.sc.target.Y, d.sc.target.Z}
		s.Distance = d.sc.target.sub(d.pos).norm()
	}
	return s
}

// Close removes the driver's subscription.
func (d *Driver) Close() { d.bus.Unsubscribe(d.sub) }
