package dataset

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"episoded/internal/bus"
	"episoded/internal/events"
	"episoded/internal/metrics"
)

// Config tunes a Collector.
type Config struct {
	Bus     *bus.Bus
	Capture Capturer
	Sink    Submitter
	// Stride captures every Nth frame of an episode, counted from its first
	// frame. Values below 1 mean every frame.
	Stride int
	// AlarmDistance forces one out-of-stride capture after a victim/detected
	// signal closer than this. Zero disables forcing.
	AlarmDistance float64
	// DepthH and DepthW pin the expected depth shape. When zero the first
	// sample of an episode fixes it.
	DepthH, DepthW int
	Logger         zerolog.Logger
}

// Stats is a point-in-time view of the collector.
type Stats struct {
	Collecting     bool   `json:"collecting"`
	EpisodeID      int    `json:"episode_id,omitempty"`
	Buffered       int    `json:"buffered"`
	Action         string `json:"action"`
	Stride         int    `json:"stride"`
	Captured       uint64 `json:"captured"`
	CaptureFaults  uint64 `json:"capture_faults"`
	Submitted      uint64 `json:"submitted"`
	Discarded      uint64 `json:"discarded"`
	RejectedStarts uint64 `json:"rejected_starts"`
}

// Collector accumulates the frame samples of the active episode and hands
// the finished buffer to the Sink.
type Collector struct {
	bus     *bus.Bus
	capture Capturer
	sink    Submitter
	stride  int
	alarm   float64
	depthH  int
	depthW  int
	log     zerolog.Logger

	mu         sync.Mutex
	collecting bool
	episodeID  int
	buf        []FrameSample
	frameIdx   int
	force      bool
	action     ActionLabel
	stats      Stats

	subs []bus.Handle
}

// New builds a Collector and subscribes it. The pipeline must call New before
// the episode manager subscribes so the frame that ends an episode is still
// captured.
func New(cfg Config) (*Collector, error) {
	if cfg.Bus == nil || cfg.Capture == nil || cfg.Sink == nil {
		return nil, errors.New("dataset: bus, capture and sink are required")
	}
	c := &Collector{
		bus:     cfg.Bus,
		capture: cfg.Capture,
		sink:    cfg.Sink,
		stride:  max(cfg.Stride, 1),
		alarm:   cfg.AlarmDistance,
		depthH:  cfg.DepthH,
		depthW:  cfg.DepthW,
		log:     cfg.Logger.With().Str("component", "dataset").Logger(),
		action:  ActionHover,
	}
	// Subscription order matters: FrameAdvance first so it precedes the
	// manager's frame handler in dispatch.
	topics := []struct {
		t bus.Topic
		h bus.Handler
	}{
		{events.TopicFrameAdvance, c.onFrame},
		{events.TopicEpisodeStart, c.onStart},
		{events.TopicEpisodeEnd, c.onEnd},
		{events.TopicVictimDetected, c.onVictim},
		{events.TopicKeyboardMove, c.onMove},
		{events.TopicKeyboardRotate, c.onRotate},
	}
	for _, s := range topics {
		h, err := c.bus.Subscribe(s.t, s.h)
		if err != nil {
			c.bus.UnsubscribeAll(c.subs...)
			return nil, fmt.Errorf("dataset: subscribe %s: %w", s.t, err)
		}
		c.subs = append(c.subs, h)
	}
	return c, nil
}

func (c *Collector) onStart(e bus.Event) error {
	p, err := events.ParseEpisodeStart(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.collecting {
		cur := c.episodeID
		c.stats.RejectedStarts++
		c.mu.Unlock()
		c.log.Warn().Int("episode", p.EpisodeID).Int("active", cur).Msg("episode start while collecting, keeping current buffer")
		return nil
	}
	c.collecting = true
	c.episodeID = p.EpisodeID
	c.buf = make([]FrameSample, 0, 64)
	c.frameIdx = 0
	c.force = false
	c.mu.Unlock()
	c.log.Debug().Int("episode", p.EpisodeID).Int("stride", c.stride).Msg("buffer allocated")
	return nil
}

func (c *Collector) onFrame(e bus.Event) error {
	fa, err := events.ParseFrameAdvance(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if !c.collecting {
		c.mu.Unlock()
		return nil
	}
	idx := c.frameIdx
	c.frameIdx++
	due := idx%c.stride == 0
	forced := c.force && !due
	if c.force {
		due = true
		c.force = false
	}
	id := c.episodeID
	action := c.action
	var fixedH, fixedW int
	if len(c.buf) > 0 {
		fixedH, fixedW = c.buf[0].Depth.H, c.buf[0].Depth.W
	}
	c.mu.Unlock()
	if !due {
		return nil
	}

	s, err := c.sample(fa.FrameNo, action, fixedH, fixedW)
	if err != nil {
		c.mu.Lock()
		c.stats.CaptureFaults++
		c.mu.Unlock()
		metrics.CaptureFaults.WithLabelValues("dataset").Inc()
		c.log.Warn().Err(err).Int("episode", id).Int("frame", fa.FrameNo).Msg("frame skipped")
		return nil
	}

	c.mu.Lock()
	if !c.collecting || c.episodeID != id {
		c.mu.Unlock()
		return nil
	}
	c.buf = append(c.buf, s)
	c.stats.Captured++
	n := len(c.buf)
	c.mu.Unlock()

	metrics.SamplesCaptured.Inc()
	c.log.Trace().Int("episode", id).Int("frame", s.Frame).Int("buffered", n).Bool("forced", forced).Msg("sample captured")
	c.bus.Publish(events.TopicCaptureComplete, events.CaptureComplete{
		Frame:     s.Frame,
		Distance:  float64(s.Distance),
		Action:    int(s.Action),
		VictimVec: s.VictimDir,
	}.Fields())
	return nil
}

// sample queries the capture collaborator. fixedH/fixedW, when non-zero,
// are the shape of the episode's first sample.
func (c *Collector) sample(frame int, action ActionLabel, fixedH, fixedW int) (FrameSample, error) {
	depth, pose, err := c.capture.CaptureFrame()
	if err != nil {
		return FrameSample{}, captureError(frame, "frame", err)
	}
	wantH, wantW := c.depthH, c.depthW
	if wantH == 0 || wantW == 0 {
		wantH, wantW = fixedH, fixedW
	}
	if depth.H <= 0 || depth.W <= 0 || len(depth.Data) != depth.H*depth.W ||
		(wantH > 0 && (depth.H != wantH || depth.W != wantW)) {
		return FrameSample{}, captureError(frame, "depth", &shapeError{wantH: wantH, wantW: wantW, got: depth})
	}
	dist, err := c.capture.CaptureDistanceToTarget()
	if err != nil {
		return FrameSample{}, captureError(frame, "distance", err)
	}
	dir, err := c.capture.CaptureDirectionToTarget()
	if err != nil {
		return FrameSample{}, captureError(frame, "direction", err)
	}
	return FrameSample{
		Frame:     frame,
		Depth:     depth,
		Pose:      pose,
		Distance:  float32(dist),
		Action:    action,
		VictimDir: dir,
	}, nil
}

func (c *Collector) onVictim(e bus.Event) error {
	p, err := events.ParseVictimDetected(e)
	if err != nil {
		return err
	}
	if c.alarm <= 0 || p.Distance < 0 || p.Distance >= c.alarm {
		return nil
	}
	c.mu.Lock()
	if c.collecting {
		c.force = true
	}
	c.mu.Unlock()
	return nil
}

func (c *Collector) onMove(e bus.Event) error {
	p, err := events.ParseMove(e)
	if err != nil {
		return err
	}
	if a, ok := MoveAction(p.DX, p.DY, p.DZ); ok {
		c.setAction(a)
	}
	return nil
}

func (c *Collector) onRotate(e bus.Event) error {
	p, err := events.ParseRotate(e)
	if err != nil {
		return err
	}
	if a, ok := RotateAction(p.Delta); ok {
		c.setAction(a)
	}
	return nil
}

func (c *Collector) setAction(a ActionLabel) {
	c.mu.Lock()
	c.action = a
	c.mu.Unlock()
}

func (c *Collector) onEnd(e bus.Event) error {
	p, err := events.ParseEpisodeEnd(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if !c.collecting || c.episodeID != p.EpisodeID {
		c.mu.Unlock()
		c.log.Debug().Int("episode", p.EpisodeID).Msg("episode end without matching buffer")
		return nil
	}
	batch := Batch{EpisodeID: c.episodeID, Samples: c.buf}
	c.collecting = false
	c.episodeID = 0
	c.buf = nil
	c.force = false
	if p.Cause.Persisted() {
		c.stats.Submitted++
	} else {
		c.stats.Discarded++
	}
	c.mu.Unlock()

	if !p.Cause.Persisted() {
		c.log.Info().Int("episode", batch.EpisodeID).Int("samples", len(batch.Samples)).Msg("episode discarded")
		return nil
	}
	c.log.Info().Int("episode", batch.EpisodeID).Int("samples", len(batch.Samples)).Str("cause", string(p.Cause)).Msg("buffer handed to persistence")
	if err := c.sink.Submit(batch); err != nil {
		c.log.Error().Err(err).Int("episode", batch.EpisodeID).Msg("submit failed, episode lost")
	}
	return nil
}

// Stats returns a copy of the collector counters and state.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Collecting = c.collecting
	s.EpisodeID = c.episodeID
	s.Buffered = len(c.buf)
	s.Action = c.action.String()
	s.Stride = c.stride
	return s
}

// Close removes every subscription of the collector and, when the sink
// supports it, detaches the sink from the bus so it publishes no further
// save outcomes.
func (c *Collector) Close() {
	n := c.bus.UnsubscribeAll(c.subs...)
	c.subs = nil
	if d, ok := c.sink.(interface{ Detach() }); ok {
		d.Detach()
	}
	c.log.Debug().Int("subscriptions", n).Msg("collector closed")
}
