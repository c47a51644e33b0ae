// Package pipeline is the composition root of the collection service. It
// builds every component once, wires the bus subscriptions in a fixed order
// and implements the shutdown protocol.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"episoded/internal/bus"
	"episoded/internal/catalog"
	"episoded/internal/common/fsutil"
	"episoded/internal/config"
	"episoded/internal/dataset"
	"episoded/internal/episode"
	"episoded/internal/persist"
	"episoded/internal/sim"
	"episoded/pkg/types"
)

// ErrShuttingDown is returned by operator requests after Shutdown started.
var ErrShuttingDown = errors.New("service is shutting down")

// Pipeline owns the running components.
type Pipeline struct {
	cfg config.Config
	log zerolog.Logger

	Bus       *bus.Bus
	Catalog   *catalog.Store
	Worker    *persist.Worker
	Driver    *sim.Driver
	Collector *dataset.Collector
	Manager   *episode.Manager

	mu        sync.Mutex
	runCancel context.CancelFunc
	runDone   chan struct{}
	stopping  atomic.Bool
	shutdown  sync.Once
	shutErr   error
}

// New wires the pipeline. Nothing ticks until Start is called.
func New(cfg config.Config, log zerolog.Logger) (_ *Pipeline, err error) {
	p := &Pipeline{cfg: cfg, log: log.With().Str("component", "pipeline").Logger()}
	defer func() {
		if err != nil {
			p.teardown()
		}
	}()

	p.Bus = bus.New(bus.Config{Logger: log})

	if err := fsutil.EnsureDir(cfg.DataRoot); err != nil {
		return nil, fmt.Errorf("data root: %w", err)
	}
	var rec persist.Recorder
	if cfg.Catalog {
		p.Catalog, err = catalog.Open(filepath.Join(cfg.DataRoot, catalog.FileName))
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		rec = p.Catalog
	}

	seed := cfg.Seed
	if seed == 0 {
		if seed, err = persist.NewSeed(); err != nil {
			return nil, err
		}
	}
	p.Worker, err = persist.New(persist.Config{
		Bus:              p.Bus,
		Root:             cfg.DataRoot,
		TrainProbability: cfg.TrainProbability,
		Seed:             seed,
		Catalog:          rec,
		Logger:           log,
	})
	if err != nil {
		return nil, err
	}

	p.Driver, err = sim.New(sim.Config{
		Bus:          p.Bus,
		Scene:        cfg.Scene,
		Timestep:     cfg.Timestep,
		DetectRadius: 2 * cfg.VictimAlarmDistance,
		DepthH:       cfg.DepthHeight,
		DepthW:       cfg.DepthWidth,
		Seed:         seed,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	// The collector subscribes to FrameAdvance before the manager so the frame
	// that crosses the threshold is captured before the episode ends.
	p.Collector, err = dataset.New(dataset.Config{
		Bus:           p.Bus,
		Capture:       p.Driver,
		Sink:          p.Worker,
		Stride:        cfg.SampleStride,
		AlarmDistance: cfg.VictimAlarmDistance,
		DepthH:        cfg.DepthHeight,
		DepthW:        cfg.DepthWidth,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	p.Manager, err = episode.New(episode.Config{
		Bus:       p.Bus,
		Capture:   p.Driver,
		Threshold: cfg.Threshold,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	p.Manager.SetSceneConfig(cfg.Scene)

	p.log.Info().Str("data_root", cfg.DataRoot).Str("session", p.Worker.Session()).
		Float64("threshold", cfg.Threshold).Float64("train_probability", cfg.TrainProbability).
		Int("stride", cfg.SampleStride).Bool("catalog", cfg.Catalog).Msg("pipeline ready")
	return p, nil
}

// teardown releases whatever New managed to build.
func (p *Pipeline) teardown() {
	if p.Catalog != nil {
		_ = p.Catalog.Close()
	}
	if p.Bus != nil {
		p.Bus.Close()
	}
}

// Start runs the tick loop on its own goroutine.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping.Load() {
		return ErrShuttingDown
	}
	if p.runDone != nil {
		return errors.New("pipeline already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.runCancel = cancel
	p.runDone = make(chan struct{})
	go func() {
		defer close(p.runDone)
		if err := p.Driver.Run(ctx); err != nil {
			p.log.Error().Err(err).Msg("tick loop failed")
		}
	}()
	return nil
}

// RequestManualEnd queues a manual episode end onto the tick goroutine.
func (p *Pipeline) RequestManualEnd() (types.ManualEndResponse, error) {
	if p.stopping.Load() {
		return types.ManualEndResponse{}, ErrShuttingDown
	}
	snap := p.Manager.Snapshot()
	if snap.Current == nil {
		return types.ManualEndResponse{}, episode.ErrNoActiveEpisode
	}
	if err := p.Driver.RequestManualEnd(); err != nil {
		return types.ManualEndResponse{}, err
	}
	return types.ManualEndResponse{Queued: true, EpisodeID: snap.Current.ID}, nil
}

// Ready reports whether the first scene exists and shutdown has not begun.
func (p *Pipeline) Ready() bool {
	return !p.stopping.Load() && p.Driver.Ready()
}

// Shutdown stops the service in order:
//  1. stop the tick loop so no FrameAdvance is produced,
//  2. end the collecting episode with ShutdownSuppressed,
//  3. remove every dataset subscription and detach the worker,
//  4. wait for in-flight saves (bounded by ctx),
//  5. close the bus and the catalog.
//
// No save outcome is published once step 3 has returned. Shutdown is
// idempotent; later calls return the first result.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.shutdown.Do(func() {
		p.stopping.Store(true)
		start := time.Now()

		p.mu.Lock()
		cancel, done := p.runCancel, p.runDone
		p.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		p.log.Debug().Msg("shutdown: tick loop stopped")

		p.Manager.Shutdown()

		p.Collector.Close()
		p.Manager.Close()
		p.Driver.Close()
		p.Worker.Close()
		p.log.Debug().Msg("shutdown: subscriptions removed")

		var errs []error
		if err := p.Worker.Wait(ctx); err != nil {
			errs = append(errs, err)
		}

		p.Bus.Close()
		if p.Catalog != nil {
			if err := p.Catalog.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close catalog: %w", err))
			}
		}
		p.shutErr = errors.Join(errs...)
		ws := p.Worker.Stats()
		p.log.Info().Dur("took", time.Since(start)).Uint64("saved", ws.Saved).Uint64("failed", ws.Failed).
			Err(p.shutErr).Msg("pipeline stopped")
	})
	return p.shutErr
}

// Status assembles the API view of every component.
func (p *Pipeline) Status() types.StatusResponse {
	snap := p.Manager.Snapshot()
	cs := p.Collector.Stats()
	ws := p.Worker.Stats()
	ds := p.Driver.Stats()
	bs := p.Bus.Stats()

	out := types.StatusResponse{
		State:     string(snap.State),
		Threshold: snap.Threshold,
		LastFrame: snap.LastFrame,
		Saving:    make([]types.EpisodeStatus, 0, len(snap.Saving)),
		History:   make([]types.EpisodeStatus, 0, len(snap.History)),
		Collector: types.CollectorStatus{
			Collecting:    cs.Collecting,
			Buffered:      cs.Buffered,
			Action:        cs.Action,
			Stride:        cs.Stride,
			Captured:      cs.Captured,
			CaptureFaults: cs.CaptureFaults,
			Discarded:     cs.Discarded,
		},
		Persist: types.PersistStatus{
			Session:  ws.Session,
			Saved:    ws.Saved,
			Failed:   ws.Failed,
			Inflight: ws.Inflight,
			Train:    ws.Train,
			Val:      ws.Val,
		},
		Sim: types.SimStatus{
			Frame:       ds.Frame,
			SceneBuilds: ds.SceneBuilds,
			Distance:    ds.Distance,
			Running:     ds.Running,
		},
		Bus: types.BusStatus{
			Published:     bs.Published,
			Faults:        bs.Faults,
			Dropped:       bs.Dropped,
			Subscriptions: bs.Subscriptions,
		},
		ShuttingDown: p.stopping.Load(),
	}
	if snap.Current != nil {
		cur := episodeStatus(*snap.Current)
		out.Current = &cur
	}
	for _, ep := range snap.Saving {
		out.Saving = append(out.Saving, episodeStatus(ep))
	}
	for _, ep := range snap.History {
		out.History = append(out.History, episodeStatus(ep))
	}
	return out
}

func episodeStatus(ep episode.Episode) types.EpisodeStatus {
	return types.EpisodeStatus{
		ID:        ep.ID,
		State:     string(ep.State),
		Cause:     string(ep.Cause),
		StartedAt: ep.StartedAt,
		EndedAt:   ep.EndedAt,
		Archive:   ep.Archive,
		Error:     ep.Err,
	}
}
