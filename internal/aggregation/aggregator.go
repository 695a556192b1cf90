// Package aggregation keeps a live metrics snapshot per score while a run is
// in progress. Each score gets one background loop that polls the result
// store, recomputes the full snapshot when new results arrive, and pushes it
// to the dashboard. When a score has all of its results, or when the run
// stops, the loop recomputes once more and performs the final sync.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AnthusAI/Plexus-sub006/internal/dashboard"
	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/metrics"
	"github.com/AnthusAI/Plexus-sub006/internal/resultstore"
	"github.com/AnthusAI/Plexus-sub006/internal/telemetry"
	"github.com/AnthusAI/Plexus-sub006/pkg/events"
)

// DefaultPollInterval is how often a score loop checks for new results.
const DefaultPollInterval = 250 * time.Millisecond

// Options configures an Aggregator.
type Options struct {
	RunID        string
	PollInterval time.Duration
	// ExpectedPerScore is the number of results that completes a score.
	// Zero means unknown: loops then only finish on Stop.
	ExpectedPerScore int
	// ScoreNames maps score ids to display names. Every id listed here is
	// finalized by FinalizeAll even if it never produced a result.
	ScoreNames map[string]string
	// PositiveLabels selects binary precision/recall per score id.
	PositiveLabels map[string][]string
	AC1Policy      metrics.AC1Policy
	Events         events.EventSink
	Logger         *slog.Logger
	Metrics        telemetry.Metrics
	Now            func() time.Time
}

// Aggregator runs the per-score loops of one evaluation run.
type Aggregator struct {
	store   *resultstore.Store
	sync    *dashboard.SyncClient
	opts    Options
	logger  *slog.Logger
	metrics telemetry.Metrics
	events  *EventEmitter
	now     func() time.Time

	mu    sync.Mutex
	loops map[string]*scoreLoop
	order []string

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type scoreLoop struct {
	id      string
	name    string
	started time.Time
	seen    int

	mu     sync.RWMutex
	latest *domain.MetricsSnapshot
	status domain.ScoreStatus

	once sync.Once
	err  error
}

// New creates an aggregator over store. A nil sync client computes
// snapshots without publishing them.
func New(store *resultstore.Store, client *dashboard.SyncClient, opts Options) *Aggregator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	// A caller-supplied logger already carries the run's attributes.
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "aggregator", "run_id", opts.RunID)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		store:   store,
		sync:    client,
		opts:    opts,
		logger:  logger,
		metrics: telemetry.OrNoOp(opts.Metrics),
		events:  NewEventEmitter(opts.Events, logger),
		now:     now,
		loops:   make(map[string]*scoreLoop),
		stop:    make(chan struct{}),
	}
}

// Observe starts the loop of a score. Calls after the first are no-ops.
func (a *Aggregator) Observe(scoreID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.loops[scoreID]; ok {
		return
	}
	l := a.newLoop(scoreID)
	a.wg.Add(1)
	go a.run(l)
}

// newLoop registers a loop. Callers hold a.mu.
func (a *Aggregator) newLoop(scoreID string) *scoreLoop {
	name := a.opts.ScoreNames[scoreID]
	if name == "" {
		name = scoreID
	}
	l := &scoreLoop{
		id:      scoreID,
		name:    name,
		started: a.now(),
		status:  domain.ScoreRunning,
	}
	a.loops[scoreID] = l
	a.order = append(a.order, scoreID)
	return l
}

func (a *Aggregator) run(l *scoreLoop) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		n := a.store.Count(l.id)
		if a.opts.ExpectedPerScore > 0 && n >= a.opts.ExpectedPerScore {
			a.finalize(l)
			return
		}
		if n != l.seen {
			a.publishProgress(l)
		}

		select {
		case <-a.stop:
			a.finalize(l)
			return
		case <-ticker.C:
		}
	}
}

// recompute derives a fresh snapshot from every result of the score.
func (a *Aggregator) recompute(l *scoreLoop) domain.MetricsSnapshot {
	results := a.store.Snapshot(l.id)
	snap := metrics.Compute(l.id, l.name, results, metrics.Options{
		PositiveLabels: a.opts.PositiveLabels[l.id],
		AC1Policy:      a.opts.AC1Policy,
		Now:            a.now,
	})
	l.seen = len(results)

	l.mu.Lock()
	l.latest = &snap
	l.mu.Unlock()

	tags := map[string]string{"score": l.name}
	a.metrics.IncrementCounter(telemetry.SnapshotsTotal, tags, 1)
	if snap.ComparedItems > 0 {
		a.metrics.SetGauge(telemetry.ScoreAccuracy, tags, snap.Accuracy)
	}
	return snap
}

func (a *Aggregator) publishProgress(l *scoreLoop) {
	snap := a.recompute(l)
	if a.sync == nil {
		return
	}
	a.sync.Progress(dashboard.NewScoreUpdate(a.opts.RunID, domain.ScoreRunning, snap, a.progress(l, snap.TotalResults)))
}

// finalize performs the last recompute and the final sync of a score.
// It runs at most once per score however completion and stop interleave.
func (a *Aggregator) finalize(l *scoreLoop) {
	l.once.Do(func() {
		snap := a.recompute(l)
		l.mu.Lock()
		l.status = domain.ScoreCompleted
		l.mu.Unlock()

		ctx := context.Background()
		if a.sync != nil {
			update := dashboard.NewScoreUpdate(a.opts.RunID, domain.ScoreCompleted, snap, a.progress(l, snap.TotalResults))
			if err := a.sync.Final(ctx, update); err != nil {
				l.err = fmt.Errorf("final sync of score %q: %w", l.name, err)
				a.logger.Error("final sync failed", "score", l.name, "error", err)
				return
			}
		}
		a.logger.Info("score completed",
			"score", l.name,
			"results", snap.TotalResults,
			"compared", snap.ComparedItems,
			"accuracy", snap.Accuracy)
		a.events.EmitScoreCompleted(ctx, a.opts.RunID, snap, a.now())
	})
}

// progress estimates the remaining time from the throughput observed since
// the loop started.
func (a *Aggregator) progress(l *scoreLoop, processed int) dashboard.Progress {
	p := dashboard.Progress{Processed: int64(processed), Total: int64(a.opts.ExpectedPerScore)}
	remaining := a.opts.ExpectedPerScore - processed
	elapsed := a.now().Sub(l.started)
	if processed <= 0 || remaining <= 0 || elapsed <= 0 {
		return p
	}
	eta := time.Duration(float64(elapsed) * float64(remaining) / float64(processed))
	p.EstimatedRemaining = &eta
	return p
}

// Stop asks every loop to finalize after its current iteration. Loops
// started later finalize immediately.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// FinalizeAll stops the loops and synchronously finalizes every score in
// ScoreNames that never produced a result.
func (a *Aggregator) FinalizeAll() {
	a.Stop()

	ids := make([]string, 0, len(a.opts.ScoreNames))
	for id := range a.opts.ScoreNames {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var idle []*scoreLoop
	a.mu.Lock()
	for _, id := range ids {
		if _, ok := a.loops[id]; !ok {
			idle = append(idle, a.newLoop(id))
		}
	}
	a.mu.Unlock()

	for _, l := range idle {
		a.finalize(l)
	}
}

// Wait blocks until every loop has exited and returns the joined final
// sync failures.
func (a *Aggregator) Wait() error {
	a.wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for _, id := range a.order {
		if err := a.loops[id].err; err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest returns the most recent snapshot of a score.
func (a *Aggregator) Latest(scoreID string) (domain.MetricsSnapshot, bool) {
	l := a.loop(scoreID)
	if l == nil {
		return domain.MetricsSnapshot{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.latest == nil {
		return domain.MetricsSnapshot{}, false
	}
	return *l.latest, true
}

// Status returns the dashboard status of a score.
func (a *Aggregator) Status(scoreID string) (domain.ScoreStatus, bool) {
	l := a.loop(scoreID)
	if l == nil {
		return "", false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status, true
}

// Snapshots returns the latest snapshot of every score, keyed by score id.
func (a *Aggregator) Snapshots() map[string]domain.MetricsSnapshot {
	a.mu.Lock()
	ids := slices.Clone(a.order)
	a.mu.Unlock()

	out := make(map[string]domain.MetricsSnapshot, len(ids))
	for _, id := range ids {
		if snap, ok := a.Latest(id); ok {
			out[id] = snap
		}
	}
	return out
}

func (a *Aggregator) loop(scoreID string) *scoreLoop {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loops[scoreID]
}
