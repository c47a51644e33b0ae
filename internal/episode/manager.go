package episode

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"episoded/internal/bus"
	"episoded/internal/config"
	"episoded/internal/events"
	"episoded/internal/metrics"
)

// Manager owns the episode lifecycle:
//
//	Idle --(scene ready)--> Collecting --(threshold|manual)--> Saving --(saved|error)--> Idle
//
// Only one episode is Collecting at a time. Episodes waiting for their
// persistence outcome are tracked separately so a new episode can start while
// an older one is still being written.
type Manager struct {
	mu        sync.Mutex
	bus       *bus.Bus
	capture   DistanceSource
	threshold float64
	histSize  int
	log       zerolog.Logger

	nextID        int
	current       *Episode
	saving        map[int]*Episode
	history       []Episode
	scene         config.SceneConfig
	hasScene      bool
	lastFrame     int
	captureFaults uint64

	subs   []bus.Handle
	closed bool
}

// New constructs a Manager and subscribes it to its input topics.
func New(cfg Config) (*Manager, error) {
	if cfg.Bus == nil {
		return nil, errors.New("episode: bus is required")
	}
	if cfg.Capture == nil {
		return nil, errors.New("episode: capture collaborator is required")
	}
	m := &Manager{
		bus:       cfg.Bus,
		capture:   cfg.Capture,
		threshold: cfg.Threshold,
		histSize:  cfg.HistorySize,
		log:       cfg.Logger.With().Str("component", "episode").Logger(),
		saving:    make(map[int]*Episode),
	}
	if m.threshold <= 0 {
		m.threshold = defaultThreshold
	}
	if m.histSize <= 0 {
		m.histSize = defaultHistorySize
	}
	for topic, h := range map[bus.Topic]bus.Handler{
		events.TopicSceneReady:   m.onSceneReady,
		events.TopicFrameAdvance: m.onFrame,
		events.TopicManualEnd:    m.onManualEnd,
		events.TopicBatchSaved:   m.onBatchSaved,
		events.TopicBatchError:   m.onBatchError,
	} {
		hd, err := m.bus.Subscribe(topic, h)
		if err != nil {
			m.bus.UnsubscribeAll(m.subs...)
			return nil, err
		}
		m.subs = append(m.subs, hd)
	}
	m.log.Info().Float64("threshold", m.threshold).Msg("episode manager ready")
	return m, nil
}

// SetSceneConfig retains cfg for automatic scene restarts.
func (m *Manager) SetSceneConfig(cfg config.SceneConfig) {
	m.mu.Lock()
	m.scene = cfg
	m.hasScene = true
	m.mu.Unlock()
}

// Start begins a new episode with the retained scene configuration.
// It fails with an IsEpisodeActive error while another episode is Collecting.
func (m *Manager) Start() (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.current != nil {
		id := m.current.ID
		m.mu.Unlock()
		return 0, episodeActiveError{id: id}
	}
	m.nextID++
	ep := &Episode{ID: m.nextID, State: StateCollecting, Config: m.scene, StartedAt: time.Now()}
	m.current = ep
	m.mu.Unlock()

	m.log.Info().Int("episode", ep.ID).Msg("episode started")
	m.bus.Publish(events.TopicEpisodeStart, events.EpisodeStart{EpisodeID: ep.ID, Config: ep.Config}.Fields())
	return ep.ID, nil
}

// End finishes the Collecting episode with cause.
func (m *Manager) End(cause events.Cause) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoActiveEpisode
	}
	id := m.current.ID
	m.mu.Unlock()
	return m.end(id, cause)
}

// end transitions episode id out of Collecting. It is a no-op error when id is
// no longer the current episode, which makes ending idempotent per episode.
func (m *Manager) end(id int, cause events.Cause) error {
	m.mu.Lock()
	if m.current == nil || m.current.ID != id {
		m.mu.Unlock()
		return ErrNoActiveEpisode
	}
	ep := m.current
	m.current = nil
	ep.Cause = cause
	ep.EndedAt = time.Now()
	if cause.Persisted() {
		ep.State = StateSaving
		m.saving[id] = ep
	} else {
		ep.State = StateIdle
		m.pushHistoryLocked(*ep)
	}
	restart, hasScene := m.scene, m.hasScene
	m.mu.Unlock()

	metrics.EpisodesEnded.WithLabelValues(string(cause)).Inc()
	m.log.Info().Int("episode", id).Str("cause", string(cause)).Msg("episode ended")
	m.bus.Publish(events.TopicEpisodeEnd, events.EpisodeEnd{EpisodeID: id, Cause: cause}.Fields())

	if !cause.Persisted() {
		return nil
	}
	if !hasScene {
		m.log.Warn().Int("episode", id).Msg("no scene config retained, cannot restart scene")
		return nil
	}
	m.bus.Publish(events.TopicSceneStartCreate, events.SceneStartCreation{Config: restart}.Fields())
	return nil
}

func (m *Manager) onSceneReady(e bus.Event) error {
	if p, ok := events.ParseSceneReady(e); ok {
		m.SetSceneConfig(p.Config)
	}
	if _, err := m.Start(); err != nil {
		if IsEpisodeActive(err) {
			m.log.Warn().Err(err).Msg("scene ready ignored")
			return nil
		}
		return err
	}
	return nil
}

func (m *Manager) onFrame(e bus.Event) error {
	fa, err := events.ParseFrameAdvance(e)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.lastFrame = fa.FrameNo
	if m.current == nil {
		m.mu.Unlock()
		return nil
	}
	id := m.current.ID
	m.mu.Unlock()

	d, err := m.capture.CaptureDistanceToTarget()
	if err == nil && (d < 0 || math.IsNaN(d)) {
		err = errors.New("invalid distance")
	}
	if err != nil {
		m.mu.Lock()
		m.captureFaults++
		m.mu.Unlock()
		metrics.CaptureFaults.WithLabelValues("episode").Inc()
		m.log.Warn().Err(err).Int("frame", fa.FrameNo).Msg("distance capture failed")
		return nil
	}
	m.log.Trace().Int("episode", id).Int("frame", fa.FrameNo).Float64("distance", d).Msg("distance")
	if d <= m.threshold {
		m.log.Info().Int("episode", id).Float64("distance", d).Float64("threshold", m.threshold).Msg("threshold reached")
		_ = m.end(id, events.CauseThresholdReached)
	}
	return nil
}

func (m *Manager) onManualEnd(bus.Event) error {
	if err := m.End(events.CauseManualTrigger); err != nil {
		m.log.Warn().Msg("manual episode end triggered but no episode is active")
	}
	return nil
}

func (m *Manager) onBatchSaved(e bus.Event) error {
	p, err := events.ParseBatchSaved(e)
	if err != nil {
		return err
	}
	m.finish(p.EpisodeID, StateCompleted, p.Path, "")
	return nil
}

func (m *Manager) onBatchError(e bus.Event) error {
	p, err := events.ParseBatchError(e)
	if err != nil {
		return err
	}
	m.finish(p.EpisodeID, StateError, "", p.Error)
	return nil
}

func (m *Manager) finish(id int, st State, archive, errMsg string) {
	m.mu.Lock()
	ep, ok := m.saving[id]
	if !ok {
		m.mu.Unlock()
		m.log.Debug().Int("episode", id).Msg("save outcome for unknown episode")
		return
	}
	delete(m.saving, id)
	ep.State = st
	ep.Archive = archive
	ep.Err = errMsg
	m.pushHistoryLocked(*ep)
	m.mu.Unlock()

	if st == StateError {
		m.log.Error().Int("episode", id).Str("error", errMsg).Msg("episode save failed")
		return
	}
	m.log.Info().Int("episode", id).Str("archive", archive).Msg("episode completed")
}

func (m *Manager) pushHistoryLocked(ep Episode) {
	m.history = append(m.history, ep)
	if over := len(m.history) - m.histSize; over > 0 {
		m.history = append([]Episode(nil), m.history[over:]...)
	}
}

// Shutdown ends any Collecting episode with ShutdownSuppressed so its data is
// discarded rather than saved, and stops accepting new episodes.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var id int
	if m.current != nil {
		id = m.current.ID
	}
	m.closed = true
	m.mu.Unlock()
	if id != 0 {
		m.log.Info().Int("episode", id).Msg("shutting down with active episode, not saving")
		_ = m.end(id, events.CauseShutdownSuppressed)
	}
}

// Close removes the manager's subscriptions.
func (m *Manager) Close() {
	m.bus.UnsubscribeAll(m.subs...)
	m.subs = nil
}

// Snapshot returns a copy of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:         StateIdle,
		LastFrame:     m.lastFrame,
		Threshold:     m.threshold,
		Started:       m.nextID,
		CaptureFaults: m.captureFaults,
		History:       append([]Episode(nil), m.history...),
		Saving:        make([]Episode, 0, len(m.saving)),
	}
	for _, ep := range m.saving {
		s.Saving = append(s.Saving, *ep)
	}
	sort.Slice(s.Saving, func(i, j int) bool { return s.Saving[i].ID < s.Saving[j].ID })
	if len(s.Saving) > 0 {
		s.State = StateSaving
	}
	if m.current != nil {
		cur := *m.current
		s.Current = &cur
		s.State = StateCollecting
	}
	return s
}

// Collecting reports whether an episode is Collecting.
func (m *Manager) Collecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}
