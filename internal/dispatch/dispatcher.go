package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/metrics"
	"github.com/AnthusAI/Plexus-sub006/internal/resultstore"
	"github.com/AnthusAI/Plexus-sub006/internal/retry"
	"github.com/AnthusAI/Plexus-sub006/internal/scheduling"
	"github.com/AnthusAI/Plexus-sub006/internal/scorecard"
	"github.com/AnthusAI/Plexus-sub006/internal/telemetry"
)

// DefaultConcurrencyLimit caps in-flight predict calls when unset.
const DefaultConcurrencyLimit = 20

// Options configures a Dispatcher.
type Options struct {
	// ConcurrencyLimit is the size of the global permit pool.
	ConcurrencyLimit int
	// SampleParallelism caps samples scheduled at once; defaults to
	// twice ConcurrencyLimit.
	SampleParallelism int
	// PredictTimeout bounds each predict attempt unless Retry sets its own
	// attempt timeout.
	PredictTimeout time.Duration
	// RatePerSecond limits predict calls; zero disables limiting.
	RatePerSecond float64
	Burst         int
	// Retry applies to transient predict failures. The zero value means
	// retry.DefaultPolicy.
	Retry retry.Policy

	// OnProgress receives the running count of finished units.
	OnProgress func(processed int64)
	// OnResult receives every result after it is stored.
	OnResult func(domain.ScoreResult)

	Metrics telemetry.Metrics
	Logger  *slog.Logger
}

// Stats counts dispatched work.
type Stats struct {
	Dispatched int64 `json:"dispatched"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
	Abandoned  int64 `json:"abandoned"`
}

// Processed is the number of units that produced a result.
func (s Stats) Processed() int64 { return s.Succeeded + s.Failed + s.Skipped }

// Dispatcher schedules every (sample, score) unit of one run. A Dispatcher
// serves a single Stream.
type Dispatcher struct {
	graph    *scorecard.Graph
	registry Registry
	store    *resultstore.Store
	opts     Options

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	retrier *retry.Retrier
	logger  *slog.Logger
	metrics telemetry.Metrics
	tracer  trace.Tracer

	abandonCtx context.Context
	abandon    context.CancelFunc

	started  atomic.Bool
	inFlight atomic.Int64
	progress atomic.Int64

	dispatched atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	abandoned  atomic.Int64
}

// New builds a dispatcher. store may be nil when results are only consumed
// from the stream.
func New(graph *scorecard.Graph, registry Registry, store *resultstore.Store, opts Options) (*Dispatcher, error) {
	if graph == nil {
		return nil, fmt.Errorf("%w: nil graph", domain.ErrInvalidScorecard)
	}
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if opts.SampleParallelism <= 0 {
		opts.SampleParallelism = 2 * opts.ConcurrencyLimit
	}
	policy := opts.Retry
	if policy == (retry.Policy{}) {
		policy = retry.DefaultPolicy()
	}
	if policy.AttemptTimeout == 0 {
		policy.AttemptTimeout = opts.PredictTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatcher")
	}
	retrier, err := retry.New(policy, retry.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("invalid predict retry policy: %w", err)
	}

	d := &Dispatcher{
		graph:    graph,
		registry: registry,
		store:    store,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
		retrier:  retrier,
		logger:   logger,
		metrics:  telemetry.OrNoOp(opts.Metrics),
		tracer:   telemetry.Tracer(),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	d.abandonCtx, d.abandon = context.WithCancel(context.Background())
	return d, nil
}

// Stream validates the batch and starts dispatching. The returned channel
// yields every result and closes once all units are resolved or abandoned;
// callers must drain it. scoreIDs restricts the run to those scores and
// their prerequisites; empty means the whole scorecard.
//
// Cancelling ctx stops new predict calls. Calls already running continue
// until they finish or Abandon is called.
func (d *Dispatcher) Stream(ctx context.Context, samples []domain.SampleRecord, scoreIDs []string) (<-chan domain.ScoreResult, error) {
	scope, err := d.graph.Closure(scoreIDs)
	if err != nil {
		return nil, err
	}
	if err := validateSamples(samples); err != nil {
		return nil, err
	}
	if !d.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	out := make(chan domain.ScoreResult, d.opts.ConcurrencyLimit)
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(d.opts.SampleParallelism)
		for _, sample := range samples {
			if ctx.Err() != nil {
				d.abandoned.Add(int64(len(scope)))
				continue
			}
			g.Go(func() error {
				d.runSample(ctx, sample, scope, out)
				return nil
			})
		}
		_ = g.Wait() // per-unit errors are recorded as results
	}()
	return out, nil
}

// Run streams the batch and drains the results.
func (d *Dispatcher) Run(ctx context.Context, samples []domain.SampleRecord, scoreIDs []string) (Stats, error) {
	results, err := d.Stream(ctx, samples, scoreIDs)
	if err != nil {
		return Stats{}, err
	}
	for range results {
	}
	return d.Stats(), nil
}

// Abandon cancels predict calls still running after a stop. Their units
// are counted as abandoned and produce no result.
func (d *Dispatcher) Abandon() { d.abandon() }

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Succeeded:  d.succeeded.Load(),
		Failed:     d.failed.Load(),
		Skipped:    d.skipped.Load(),
		Abandoned:  d.abandoned.Load(),
	}
}

// Processed returns the number of units that produced a result.
func (d *Dispatcher) Processed() int64 { return d.progress.Load() }

// RetryStats exposes predict retry counters.
func (d *Dispatcher) RetryStats() retry.Stats { return d.retrier.Stats() }

type completion struct {
	id     string
	result domain.ScoreResult
	lost   bool
}

// runSample drives one sample's schedule. Skips are recorded without a
// permit; runnable nodes acquire one before their predict call starts.
func (d *Dispatcher) runSample(ctx context.Context, sample domain.SampleRecord, scope []string, out chan<- domain.ScoreResult) {
	sched := scheduling.NewSampleSchedule(d.graph, scope)
	done := make(chan completion, sched.Len())
	inFlight := 0
	stopped := false

	for !sched.Done() && !stopped {
		for _, dec := range sched.Next() {
			node, _ := d.graph.Node(dec.NodeID)
			if dec.Action == scheduling.ActionSkip {
				d.record(sample, domain.NewSkippedResult(sample.ID, node, dec.Reason), out)
				continue
			}
			if stopped || ctx.Err() != nil {
				stopped = true
				continue
			}
			if err := d.sem.Acquire(ctx, 1); err != nil {
				stopped = true
				continue
			}
			if err := sched.Start(node.ID); err != nil {
				d.sem.Release(1)
				d.logger.Error("schedule rejected start", "sample_id", sample.ID, "score", node.Name, "error", err)
				stopped = true
				continue
			}
			inFlight++
			d.dispatched.Add(1)
			req := Request{Sample: sample, ScoreID: node.ID, ScoreName: node.Name, Prior: priorResults(sched, scope, d.graph)}
			go func() {
				defer d.sem.Release(1)
				result, lost := d.predict(ctx, node, req)
				done <- completion{id: node.ID, result: result, lost: lost}
			}()
		}
		if stopped || inFlight == 0 {
			break
		}
		c := <-done
		inFlight--
		d.complete(sched, sample, c, out)
		if ctx.Err() != nil {
			stopped = true
		}
	}

	for inFlight > 0 {
		c := <-done
		inFlight--
		d.complete(sched, sample, c, out)
	}

	// Nodes never resolved because of a stop.
	if !sched.Done() {
		for _, id := range scope {
			if !sched.State(id).IsTerminal() && sched.State(id) != scheduling.StateRunning {
				d.abandoned.Add(1)
			}
		}
	}
}

func (d *Dispatcher) complete(sched *scheduling.SampleSchedule, sample domain.SampleRecord, c completion, out chan<- domain.ScoreResult) {
	if c.lost {
		d.abandoned.Add(1)
		return
	}
	if err := sched.Complete(c.id, c.result); err != nil {
		d.logger.Error("schedule rejected completion", "sample_id", sample.ID, "score_id", c.id, "error", err)
	}
	d.record(sample, c.result, out)
}

// record attaches ground truth, stores the result and publishes it.
func (d *Dispatcher) record(sample domain.SampleRecord, r domain.ScoreResult, out chan<- domain.ScoreResult) {
	if label, ok := sample.Label(r.ScoreName); ok {
		r = r.WithGroundTruth(label, metrics.Equal)
	}
	if d.store != nil {
		if err := d.store.Append(r); err != nil {
			d.logger.Error("result not stored", "sample_id", r.SampleID, "score", r.ScoreName, "error", err)
			return
		}
	}

	switch r.Outcome {
	case domain.OutcomeOK:
		d.succeeded.Add(1)
	case domain.OutcomeSkipped:
		d.skipped.Add(1)
	case domain.OutcomeFailed:
		d.failed.Add(1)
	}
	d.metrics.IncrementCounter(telemetry.ResultsTotal, map[string]string{"outcome": r.Outcome.String()}, 1)

	n := d.progress.Add(1)
	if d.opts.OnProgress != nil {
		d.opts.OnProgress(n)
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(r)
	}
	out <- r
}

// predict runs one unit. The call is detached from ctx so a stop does not
// interrupt it; only Abandon cancels it, in which case lost is true. Abandon
// returns control immediately even when the predictor ignores its context.
func (d *Dispatcher) predict(ctx context.Context, node domain.ScoreNode, req Request) (result domain.ScoreResult, lost bool) {
	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(d.abandonCtx, cancel)
	defer stop()

	callCtx, span := d.tracer.Start(callCtx, telemetry.SpanPredict, trace.WithAttributes(
		attribute.String("sample_id", req.Sample.ID),
		attribute.String("score", node.Name),
	))
	defer span.End()

	d.metrics.SetGauge(telemetry.PredictInFlight, nil, float64(d.inFlight.Add(1)))
	defer func() { d.metrics.SetGauge(telemetry.PredictInFlight, nil, float64(d.inFlight.Add(-1))) }()

	start := time.Now()
	prediction, err := d.call(callCtx, node, req)
	d.metrics.RecordHistogram(telemetry.PredictDurationMs, map[string]string{"score": node.Name},
		float64(time.Since(start).Milliseconds()))

	if err != nil {
		if d.abandonCtx.Err() != nil {
			span.SetStatus(codes.Error, "abandoned")
			return domain.ScoreResult{}, true
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.metrics.IncrementCounter(telemetry.PredictTotal, map[string]string{"score": node.Name, "outcome": "failed"}, 1)
		d.logger.Warn("predict failed", "sample_id", req.Sample.ID, "score", node.Name, "error", err)
		return domain.NewFailedResult(req.Sample.ID, node, err), false
	}
	// A predictor may decline a unit by answering the skip sentinel. The
	// unit is then recorded as skipped so it stays out of the score's
	// metrics and its dependents are skipped with it.
	if prediction.Value == domain.ValueSkipped {
		d.metrics.IncrementCounter(telemetry.PredictTotal, map[string]string{"score": node.Name, "outcome": "skipped"}, 1)
		reason := prediction.Explanation
		if reason == "" {
			reason = "predictor returned " + domain.ValueSkipped
		}
		return domain.NewSkippedResult(req.Sample.ID, node, reason), false
	}
	d.metrics.IncrementCounter(telemetry.PredictTotal, map[string]string{"score": node.Name, "outcome": "ok"}, 1)
	return domain.NewOKResult(req.Sample.ID, node, prediction), false
}

func (d *Dispatcher) call(ctx context.Context, node domain.ScoreNode, req Request) (domain.Prediction, error) {
	p, ok := d.registry.Lookup(node.Name)
	if !ok {
		return domain.Prediction{}, fmt.Errorf("%w for score %q", ErrNoPredictor, node.Name)
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return domain.Prediction{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var prediction domain.Prediction
	err := d.retrier.Do(ctx, func(ctx context.Context) error {
		preds, err := awaitPredict(ctx, p, req)
		if err != nil {
			return err
		}
		prediction, err = choosePrediction(preds, node.Name)
		return err
	})
	return prediction, err
}

// priorResults collects the completed results of a sample by score name.
func priorResults(sched *scheduling.SampleSchedule, scope []string, graph *scorecard.Graph) map[string]domain.ScoreResult {
	prior := make(map[string]domain.ScoreResult)
	for _, id := range scope {
		if r, ok := sched.Result(id); ok {
			node, _ := graph.Node(id)
			prior[node.Name] = r
		}
	}
	return prior
}

func validateSamples(samples []domain.SampleRecord) error {
	seen := make(map[string]struct{}, len(samples))
	for i, s := range samples {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate sample id %q", domain.ErrInvalidSample, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

