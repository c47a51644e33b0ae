// Package persist writes completed episode buffers to disk on background
// goroutines and reports the outcome on the bus.
package persist

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"episoded/internal/bus"
	"episoded/internal/catalog"
	"episoded/internal/common/fsutil"
	"episoded/internal/dataset"
	"episoded/internal/events"
	"episoded/internal/metrics"
)

// Split names.
const (
	SplitTrain = "train"
	SplitVal   = "val"
)

const defaultTrainProbability = 0.9

// Recorder indexes saved archives. *catalog.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e catalog.Entry) error
}

// Config configures a Worker.
type Config struct {
	Bus  *bus.Bus
	Root string
	// TrainProbability is the chance an episode goes to the train split.
	// Negative means the default (0.9); 0 sends everything to val.
	TrainProbability float64
	// Seed seeds the split PRNG. Zero draws a seed from crypto/rand.
	Seed int64
	// Catalog is optional.
	Catalog Recorder
	Logger  zerolog.Logger
}

// Result describes one persisted episode.
type Result struct {
	EpisodeID int    `json:"episode_id"`
	Counter   int    `json:"counter"`
	Split     string `json:"split"`
	Folder    string `json:"folder"`
	Path      string `json:"path"`
	Samples   int    `json:"samples"`
}

// Stats is a point-in-time view of the worker.
type Stats struct {
	Session   string `json:"session"`
	Submitted int    `json:"submitted"`
	Saved     uint64 `json:"saved"`
	Failed    uint64 `json:"failed"`
	Inflight  int64  `json:"inflight"`
	Train     uint64 `json:"train"`
	Val       uint64 `json:"val"`
	Detached  bool   `json:"detached"`
}

type job struct {
	batch   dataset.Batch
	counter int
	split   string
}

// Worker persists batches. Each Submit starts one goroutine; Wait joins them.
type Worker struct {
	bus      *bus.Bus
	root     string
	pTrain   float64
	catalog  Recorder
	log      zerolog.Logger
	session  string
	wg       sync.WaitGroup
	detached atomic.Bool
	// pubMu spans the detached check and the publish, so Detach returns only
	// after in-progress outcome publishes have been delivered.
	pubMu sync.RWMutex

	mu      sync.Mutex
	rng     *rand.Rand
	counter int
	closed  bool

	dirMu   sync.Mutex
	dirMade bool

	inflight atomic.Int64
	saved    atomic.Uint64
	failed   atomic.Uint64
	train    atomic.Uint64
	val      atomic.Uint64
}

// NewSeed draws a PRNG seed from crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// NewSessionID returns a sortable, unique id for one process run.
func NewSessionID(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "_" + uuid.NewString()[:8]
}

// New creates a Worker with a fresh session id. The session directory is
// created lazily by the first save.
func New(cfg Config) (*Worker, error) {
	if cfg.Bus == nil {
		return nil, errors.New("persist: bus is required")
	}
	if cfg.Root == "" {
		return nil, errors.New("persist: root directory is required")
	}
	p := cfg.TrainProbability
	if p < 0 {
		p = defaultTrainProbability
	}
	if p > 1 {
		return nil, fmt.Errorf("persist: train probability %v out of range", p)
	}
	seed := cfg.Seed
	if seed == 0 {
		var err error
		if seed, err = NewSeed(); err != nil {
			return nil, err
		}
	}
	w := &Worker{
		bus:     cfg.Bus,
		root:    cfg.Root,
		pTrain:  p,
		catalog: cfg.Catalog,
		session: NewSessionID(time.Now()),
		rng:     rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)),
	}
	w.log = cfg.Logger.With().Str("component", "persist").Str("session", w.session).Logger()
	return w, nil
}

// Session returns the session id of this run.
func (w *Worker) Session() string { return w.session }

// SessionDir returns <root>/<session>.
func (w *Worker) SessionDir() string { return filepath.Join(w.root, w.session) }

// Submit takes ownership of b, assigns its counter and split, and saves it
// in the background. It never blocks on I/O.
func (w *Worker) Submit(b dataset.Batch) error {
	j, err := w.assign(b)
	if err != nil {
		return err
	}

	w.inflight.Add(1)
	metrics.SavesInflight.Inc()
	w.log.Debug().Int("episode", b.EpisodeID).Int("counter", j.counter).Str("split", j.split).Msg("save queued")
	go w.run(j)
	return nil
}

// assign draws the split and the next counter. Counters are shared by both
// splits so archive names are unique within a session.
func (w *Worker) assign(b dataset.Batch) (job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return job{}, ErrClosed
	}
	w.counter++
	j := job{batch: b, counter: w.counter, split: SplitVal}
	if w.rng.Float64() < w.pTrain {
		j.split = SplitTrain
	}
	w.wg.Add(1)
	return j, nil
}

func (w *Worker) run(j job) {
	defer w.wg.Done()
	defer func() {
		w.inflight.Add(-1)
		metrics.SavesInflight.Dec()
	}()
	start := time.Now()
	res, err := w.save(j)
	metrics.SaveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.failed.Add(1)
		metrics.SavesTotal.WithLabelValues(j.split, "error").Inc()
		w.log.Error().Err(err).Int("episode", j.batch.EpisodeID).Int("counter", j.counter).Msg("save failed")
		w.publish(events.TopicBatchError, events.BatchError{
			Folder:    res.Folder,
			Counter:   j.counter,
			EpisodeID: j.batch.EpisodeID,
			Error:     err.Error(),
		}.Fields())
		return
	}
	w.saved.Add(1)
	if j.split == SplitTrain {
		w.train.Add(1)
	} else {
		w.val.Add(1)
	}
	metrics.SavesTotal.WithLabelValues(j.split, "saved").Inc()
	w.log.Info().Int("episode", res.EpisodeID).Str("path", res.Path).Int("samples", res.Samples).
		Dur("took", time.Since(start)).Msg("episode saved")
	w.record(res)
	w.publish(events.TopicBatchSaved, events.BatchSaved{
		Folder:    res.Folder,
		Counter:   res.Counter,
		EpisodeID: res.EpisodeID,
		Path:      res.Path,
		Split:     res.Split,
		Samples:   res.Samples,
	}.Fields())
}

func (w *Worker) save(j job) (Result, error) {
	res := Result{
		EpisodeID: j.batch.EpisodeID,
		Counter:   j.counter,
		Split:     j.split,
		Folder:    filepath.Join(w.SessionDir(), j.split),
		Samples:   len(j.batch.Samples),
	}
	res.Path = filepath.Join(res.Folder, FileName(j.counter))
	fail := func(err error) (Result, error) {
		return res, &SaveError{Counter: j.counter, EpisodeID: j.batch.EpisodeID, Folder: res.Folder, Err: err}
	}
	a, err := NewArchive(j.batch.Samples)
	if err != nil {
		return fail(err)
	}
	if err := w.ensureSessionDir(); err != nil {
		return fail(err)
	}
	if err := fsutil.EnsureDir(res.Folder); err != nil {
		return fail(err)
	}
	if err := fsutil.WriteAtomic(res.Path, a.Encode); err != nil {
		return fail(err)
	}
	return res, nil
}

// ensureSessionDir creates <root>/<session> once. A failed attempt is retried
// by the next save.
func (w *Worker) ensureSessionDir() error {
	w.dirMu.Lock()
	defer w.dirMu.Unlock()
	if w.dirMade {
		return nil
	}
	if err := os.MkdirAll(w.SessionDir(), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	w.dirMade = true
	w.log.Info().Str("dir", w.SessionDir()).Msg("session directory created")
	return nil
}

func (w *Worker) record(res Result) {
	if w.catalog == nil {
		return
	}
	err := w.catalog.Record(context.Background(), catalog.Entry{
		Session:   w.session,
		Counter:   res.Counter,
		EpisodeID: res.EpisodeID,
		Split:     res.Split,
		Path:      res.Path,
		Samples:   res.Samples,
		SavedAt:   time.Now(),
	})
	if err != nil {
		metrics.CatalogErrors.Inc()
		w.log.Warn().Err(err).Int("counter", res.Counter).Msg("catalog record failed")
	}
}

func (w *Worker) publish(t bus.Topic, fields map[string]any) {
	w.pubMu.RLock()
	defer w.pubMu.RUnlock()
	if w.detached.Load() {
		w.log.Debug().Str("topic", string(t)).Msg("detached, outcome not published")
		return
	}
	w.bus.Publish(t, fields)
}

// Detach stops outcome publishing and waits for publishes already under way.
// Saves still run to completion. It must not be called from an outcome handler.
func (w *Worker) Detach() {
	w.pubMu.Lock()
	w.detached.Store(true)
	w.pubMu.Unlock()
}

// Close rejects further submits. In-flight saves are unaffected.
func (w *Worker) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Wait blocks until every submitted save has finished or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %d in-flight saves: %w", w.inflight.Load(), ctx.Err())
	}
}

// Stats returns current counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	submitted := w.counter
	w.mu.Unlock()
	return Stats{
		Session:   w.session,
		Submitted: submitted,
		Saved:     w.saved.Load(),
		Failed:    w.failed.Load(),
		Inflight:  w.inflight.Load(),
		Train:     w.train.Load(),
		Val:       w.val.Load(),
		Detached:  w.detached.Load(),
	}
}
