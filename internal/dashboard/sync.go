package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AnthusAI/Plexus-sub006/internal/retry"
	"github.com/AnthusAI/Plexus-sub006/internal/telemetry"
)

// SyncClient delivers score updates through a Mutator. Progress updates
// are asynchronous and coalesced per score, so only the newest pending
// snapshot is sent. The final update is synchronous, ordered after every
// progress update of the score, and sent at most once.
type SyncClient struct {
	mutator Mutator
	retrier *retry.Retrier
	logger  *slog.Logger
	metrics telemetry.Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	scores map[string]*scoreSync
	wg     sync.WaitGroup
}

type scoreSync struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending *ScoreUpdate
	sending bool
	final   bool
}

// SyncOption configures a SyncClient.
type SyncOption func(*SyncClient)

// WithSyncLogger sets the logger.
func WithSyncLogger(l *slog.Logger) SyncOption {
	return func(c *SyncClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSyncMetrics sets the metrics collector.
func WithSyncMetrics(m telemetry.Metrics) SyncOption {
	return func(c *SyncClient) { c.metrics = telemetry.OrNoOp(m) }
}

// NewSyncClient validates the policy and builds a client.
func NewSyncClient(m Mutator, policy retry.Policy, opts ...SyncOption) (*SyncClient, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil mutator", ErrInvalidUpdate)
	}
	c := &SyncClient{
		mutator: m,
		logger:  slog.Default().With("component", "dashboard_sync"),
		metrics: telemetry.NewNoOpMetrics(),
		tracer:  telemetry.Tracer(),
		scores:  make(map[string]*scoreSync),
	}
	for _, opt := range opts {
		opt(c)
	}
	r, err := retry.New(policy, retry.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("invalid sync retry policy: %w", err)
	}
	c.retrier = r
	return c, nil
}

func (c *SyncClient) state(update ScoreUpdate) *scoreSync {
	key := update.RunID + "\x00" + update.ScoreID
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scores[key]
	if !ok {
		s = &scoreSync{}
		s.idle = sync.NewCond(&s.mu)
		c.scores[key] = s
	}
	return s
}

// Progress schedules a best-effort update. It never blocks on the network;
// failures are logged and dropped. Updates for a finalized score are ignored.
func (c *SyncClient) Progress(update ScoreUpdate) {
	s := c.state(update)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return
	}
	s.pending = &update
	if s.sending {
		return
	}
	s.sending = true
	c.wg.Add(1)
	go c.drain(s)
}

func (c *SyncClient) drain(s *scoreSync) {
	defer c.wg.Done()
	for {
		s.mu.Lock()
		u := s.pending
		s.pending = nil
		if u == nil {
			s.sending = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if err := c.send(context.Background(), *u, "progress"); err != nil {
			c.logger.Warn("progress sync dropped",
				"run_id", u.RunID, "score", u.ScoreName, "processed", u.ProcessedItems, "error", err)
		}
	}
}

// Final sends the completing update and returns its error. It waits for
// any in-flight progress update of the same score, drops pending ones, and
// runs detached from ctx cancellation so a stopping run still records its
// result. Subsequent calls for the score return ErrAlreadyFinalized.
func (c *SyncClient) Final(ctx context.Context, update ScoreUpdate) error {
	s := c.state(update)
	s.mu.Lock()
	if s.final {
		s.mu.Unlock()
		return ErrAlreadyFinalized
	}
	s.final = true
	s.pending = nil
	for s.sending {
		s.idle.Wait()
	}
	s.mu.Unlock()

	return c.send(context.WithoutCancel(ctx), update, "final")
}

// Wait blocks until every queued progress update has been attempted.
func (c *SyncClient) Wait() {
	c.wg.Wait()
}

// Stats exposes the retry counters of all syncs.
func (c *SyncClient) Stats() retry.Stats {
	return c.retrier.Stats()
}

func (c *SyncClient) send(ctx context.Context, u ScoreUpdate, kind string) error {
	ctx, span := c.tracer.Start(ctx, telemetry.SpanSync, trace.WithAttributes(
		attribute.String("run_id", u.RunID),
		attribute.String("score_id", u.ScoreID),
		attribute.String("sync.kind", kind),
	))
	defer span.End()

	tags := map[string]string{"kind": kind}
	start := time.Now()
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		c.metrics.IncrementCounter(telemetry.SyncAttemptsTotal, tags, 1)
		return c.mutator.UpdateScoreResult(ctx, u)
	})
	c.metrics.RecordHistogram(telemetry.SyncDurationMs, tags, float64(time.Since(start).Milliseconds()))

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.IncrementCounter(telemetry.SyncTotal, map[string]string{"kind": kind, "outcome": outcome}, 1)
	return err
}
