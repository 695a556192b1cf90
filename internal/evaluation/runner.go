// Package evaluation runs a scorecard over a batch of samples. A Runner owns
// the run lifecycle: it builds the dependency graph, dispatches predict
// calls, keeps per-score metrics live on the dashboard, and finishes the run
// with a final sync of every score.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AnthusAI/Plexus-sub006/internal/aggregation"
	"github.com/AnthusAI/Plexus-sub006/internal/config"
	"github.com/AnthusAI/Plexus-sub006/internal/dashboard"
	"github.com/AnthusAI/Plexus-sub006/internal/dispatch"
	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/metrics"
	"github.com/AnthusAI/Plexus-sub006/internal/resultstore"
	"github.com/AnthusAI/Plexus-sub006/internal/retry"
	"github.com/AnthusAI/Plexus-sub006/internal/scorecard"
	"github.com/AnthusAI/Plexus-sub006/internal/telemetry"
	"github.com/AnthusAI/Plexus-sub006/pkg/events"
)

// Runner evaluates one scorecard run. A Runner serves a single Run.
type Runner struct {
	cfg      config.Evaluation
	card     domain.Scorecard
	graph    *scorecard.Graph
	scope    []string
	registry dispatch.Registry
	mutator  dashboard.Mutator

	runID      string
	syncPolicy retry.Policy
	sink       events.EventSink
	logger     *slog.Logger
	metrics    telemetry.Metrics
	tracer     trace.Tracer
	now        func() time.Time

	run      *domain.EvaluationRun
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Runner.
type Option func(*Runner)

// WithRunID sets the run id. Without it a random UUID is used.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}

// WithSyncPolicy sets the retry policy of dashboard syncs.
func WithSyncPolicy(p retry.Policy) Option {
	return func(r *Runner) { r.syncPolicy = p }
}

// WithEventSink sets where run and score events go.
func WithEventSink(sink events.EventSink) Option {
	return func(r *Runner) { r.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics collector shared by every component of the run.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = telemetry.OrNoOp(m) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New validates the configuration and the scorecard and builds the run's
// dependency graph. Every error it returns is a configuration error; no
// scoring has happened yet. A nil mutator disables dashboard writes.
func New(cfg config.Evaluation, card domain.Scorecard, registry dispatch.Registry, mutator dashboard.Mutator, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}
	graph, err := scorecard.Build(card.Scores)
	if err != nil {
		return nil, err
	}
	ids, err := graph.ResolveNames(cfg.Scores)
	if err != nil {
		return nil, err
	}
	scope, err := graph.Closure(ids)
	if err != nil {
		return nil, err
	}
	if missing := registry.Missing(graph, scope); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", dispatch.ErrNoPredictor, strings.Join(missing, ", "))
	}
	if mutator == nil {
		mutator = dashboard.NoOpMutator{}
	}

	r := &Runner{
		cfg:        cfg,
		card:       card,
		graph:      graph,
		scope:      scope,
		registry:   registry,
		mutator:    mutator,
		runID:      uuid.New().String(),
		syncPolicy: config.DefaultConfig().SyncPolicy(),
		logger:     slog.Default(),
		metrics:    telemetry.NewNoOpMetrics(),
		tracer:     telemetry.Tracer(),
		now:        time.Now,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "evaluation", "run_id", r.runID)
	r.run = domain.NewEvaluationRun(r.runID)
	return r, nil
}

// RunID returns the id the run reports under.
func (r *Runner) RunID() string { return r.runID }

// Status returns the run status.
func (r *Runner) Status() domain.RunStatus { return r.run.Status() }

// Processed returns the number of finished sample-score units.
func (r *Runner) Processed() int64 { return r.run.Processed() }

// Stop ends the run gracefully: no new predict calls start, calls in
// flight get the grace period to finish, and every score is flushed.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Run evaluates samples. Cancelling ctx behaves like Stop. The report is
// returned even when the run fails; the error is the run's failure cause.
func (r *Runner) Run(ctx context.Context, samples []domain.SampleRecord) (*Report, error) {
	ctx, span := r.tracer.Start(ctx, telemetry.SpanRun, trace.WithAttributes(
		attribute.String("run_id", r.runID),
		attribute.String("scorecard", r.card.Name),
		attribute.Int("samples", len(samples)),
		attribute.Int("scores", len(r.scope)),
	))
	defer span.End()

	report, err := r.execute(ctx, samples)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if report != nil {
		span.SetAttributes(
			attribute.String("status", string(report.Status)),
			attribute.Bool("partial", report.Partial),
			attribute.Int64("processed", report.Processed),
		)
	}
	return report, err
}

func (r *Runner) execute(ctx context.Context, samples []domain.SampleRecord) (*Report, error) {
	if err := r.run.Start(r.now()); err != nil {
		return nil, err
	}
	r.logger.Info("evaluation started",
		"scorecard", r.card.Name,
		"samples", len(samples),
		"scores", len(r.scope))

	client, err := dashboard.NewSyncClient(r.mutator, r.syncPolicy,
		dashboard.WithSyncLogger(r.logger),
		dashboard.WithSyncMetrics(r.metrics))
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err), dispatch.Stats{}, nil)
	}

	var agg *aggregation.Aggregator
	store := resultstore.New(resultstore.WithAppendHook(func(scoreID string, _ int) {
		agg.Observe(scoreID)
	}))
	agg = aggregation.New(store, client, r.aggregationOptions(len(samples)))

	disp, err := dispatch.New(r.graph, r.registry, store, dispatch.Options{
		ConcurrencyLimit:  r.cfg.ConcurrencyLimit,
		SampleParallelism: r.cfg.EffectiveSampleParallelism(),
		PredictTimeout:    r.cfg.PredictTimeout,
		RatePerSecond:     r.cfg.RatePerSecond,
		Burst:             r.cfg.Burst,
		Retry:             r.cfg.PredictRetry,
		OnProgress: func(int64) {
			n := r.run.AddProcessed(1)
			r.metrics.SetGauge(telemetry.RunProcessedItems, map[string]string{"scorecard": r.card.Name}, float64(n))
		},
		Metrics: r.metrics,
		Logger:  r.logger,
	})
	if err != nil {
		return r.fail(ctx, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err), dispatch.Stats{}, nil)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stop:
			cancel()
		case <-dctx.Done():
		}
	}()

	results, err := disp.Stream(dctx, samples, r.scope)
	if err != nil {
		return r.fail(ctx, err, dispatch.Stats{}, nil)
	}
	r.await(dctx, disp, results)

	stats := disp.Stats()
	agg.FinalizeAll()
	syncErr := agg.Wait()
	client.Wait()

	if syncErr != nil {
		return r.fail(ctx, syncErr, stats, agg)
	}
	return r.complete(ctx, stats, agg), nil
}

// await drains the result stream. After a stop, calls in flight get the
// grace period before they are abandoned.
func (r *Runner) await(ctx context.Context, disp *dispatch.Dispatcher, results <-chan domain.ScoreResult) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range results {
		}
	}()

	select {
	case <-drained:
		return
	case <-ctx.Done():
	}

	r.logger.Info("evaluation stopping",
		"grace_period", r.cfg.GracePeriod,
		"processed", r.run.Processed())
	grace := time.NewTimer(r.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-drained:
	case <-grace.C:
		r.logger.Warn("grace period elapsed, abandoning in-flight predictions")
		disp.Abandon()
		<-drained
	}
}

func (r *Runner) aggregationOptions(expected int) aggregation.Options {
	names := make(map[string]string, len(r.scope))
	positives := make(map[string][]string)
	for _, id := range r.scope {
		node, ok := r.graph.Node(id)
		if !ok {
			continue
		}
		names[id] = node.Name
		if len(node.PositiveLabels) > 0 {
			positives[id] = node.PositiveLabels
		}
	}
	policy := metrics.AC1NaN
	if r.cfg.AC1Zero {
		policy = metrics.AC1Zero
	}
	return aggregation.Options{
		RunID:            r.runID,
		PollInterval:     r.cfg.PollInterval,
		ExpectedPerScore: expected,
		ScoreNames:       names,
		PositiveLabels:   positives,
		AC1Policy:        policy,
		Events:           r.sink,
		Logger:           r.logger,
		Metrics:          r.metrics,
		Now:              r.now,
	}
}

func (r *Runner) complete(ctx context.Context, stats dispatch.Stats, agg *aggregation.Aggregator) *Report {
	partial := stats.Abandoned > 0
	now := r.now()
	if err := r.run.Complete(now, partial); err != nil {
		r.logger.Error("failed to complete run", "error", err)
	}
	report := r.report(stats, agg)

	r.logger.Info("evaluation completed",
		"partial", partial,
		"processed", report.Processed,
		"abandoned", stats.Abandoned,
		"duration", report.Duration())
	r.record(report)
	r.emitRunCompleted(ctx, report, now)
	return report
}

func (r *Runner) fail(ctx context.Context, cause error, stats dispatch.Stats, agg *aggregation.Aggregator) (*Report, error) {
	now := r.now()
	if err := r.run.Fail(now, cause); err != nil {
		r.logger.Error("failed to mark run failed", "error", err)
	}
	report := r.report(stats, agg)

	r.logger.Error("evaluation failed",
		"processed", report.Processed,
		"error", cause)
	r.record(report)
	r.emitRunFailed(ctx, report, now)
	return report, cause
}

func (r *Runner) report(stats dispatch.Stats, agg *aggregation.Aggregator) *Report {
	report := &Report{
		RunID:      r.runID,
		Status:     r.run.Status(),
		Partial:    r.run.Partial(),
		Processed:  r.run.Processed(),
		Snapshots:  make(map[string]domain.MetricsSnapshot),
		Stats:      stats,
		Err:        r.run.Err(),
		StartedAt:  r.run.StartedAt,
		FinishedAt: r.run.FinishedAt(),
	}
	if agg != nil {
		for _, snap := range agg.Snapshots() {
			report.Snapshots[snap.ScoreName] = snap
		}
	}
	return report
}

func (r *Runner) record(report *Report) {
	tags := map[string]string{"scorecard": r.card.Name, "status": string(report.Status)}
	r.metrics.IncrementCounter(telemetry.RunsTotal, tags, 1)
	r.metrics.RecordHistogram(telemetry.RunDurationSeconds, tags, report.Duration().Seconds())
}

// IsConfigError reports whether err stems from configuration rather than
// from running the scorecard.
func IsConfigError(err error) bool {
	for _, target := range []error{
		config.ErrInvalidConfig,
		domain.ErrInvalidScorecard,
		domain.ErrUnknownDependency,
		domain.ErrCyclicDependency,
		domain.ErrUnknownOperator,
		domain.ErrDuplicateScore,
		domain.ErrInvalidSample,
		domain.ErrInvalidRequest,
		dispatch.ErrNoPredictor,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
