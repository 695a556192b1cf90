package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/resultstore"
	"github.com/AnthusAI/Plexus-sub006/internal/retry"
	"github.com/AnthusAI/Plexus-sub006/internal/scorecard"
)

func buildGraph(t *testing.T, scores ...domain.ScoreConfig) *scorecard.Graph {
	t.Helper()
	g, err := scorecard.Build(scores)
	require.NoError(t, err)
	return g
}

func on(name, op string, value any) domain.DependsOn {
	return domain.DependsOn{{Name: name, Condition: domain.Condition{Operator: op, Value: value}}}
}

func constant(value string) Predictor {
	return PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
		return []domain.Prediction{{Value: value}}, nil
	})
}

func samples(n int) []domain.SampleRecord {
	out := make([]domain.SampleRecord, n)
	for i := range out {
		out[i] = domain.SampleRecord{ID: fmt.Sprintf("row-%d", i)}
	}
	return out
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func collect(t *testing.T, ch <-chan domain.ScoreResult) []domain.ScoreResult {
	t.Helper()
	var out []domain.ScoreResult
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func bySampleAndScore(results []domain.ScoreResult) map[string]domain.ScoreResult {
	m := make(map[string]domain.ScoreResult, len(results))
	for _, r := range results {
		m[r.SampleID+"/"+r.ScoreName] = r
	}
	return m
}

func TestDispatcher_ConditionalScheduling(t *testing.T) {
	g := buildGraph(t,
		domain.ScoreConfig{Name: "Gate"},
		domain.ScoreConfig{Name: "Child", DependsOn: on("Gate", "==", "yes")},
	)

	var priorSeen sync.Map
	reg := Registry{
		"Gate": PredictorFunc(func(_ context.Context, req Request) ([]domain.Prediction, error) {
			if req.Sample.ID == "a" {
				return []domain.Prediction{{Value: "Yes"}}, nil
			}
			return []domain.Prediction{{Value: "no"}}, nil
		}),
		"Child": PredictorFunc(func(_ context.Context, req Request) ([]domain.Prediction, error) {
			priorSeen.Store(req.Sample.ID, req.Prior["Gate"].Value)
			return []domain.Prediction{{Value: "ok"}}, nil
		}),
	}
	store := resultstore.New()
	d, err := New(g, reg, store, Options{ConcurrencyLimit: 2})
	require.NoError(t, err)

	input := []domain.SampleRecord{
		{ID: "a", Labels: map[string]string{"Gate": "yes"}},
		{ID: "b", Labels: map[string]string{"Gate": "yes"}},
	}
	stats, err := d.Run(context.Background(), input, nil)
	require.NoError(t, err)

	assert.Equal(t, Stats{Dispatched: 3, Succeeded: 3, Skipped: 1}, stats)
	assert.Equal(t, int64(4), d.Processed())

	results := bySampleAndScore(store.Snapshot(g.Order()[0]))
	gateA := results["a/Gate"]
	label, ok := gateA.HumanLabel()
	require.True(t, ok)
	assert.Equal(t, "yes", label)
	correct, ok := gateA.Correct()
	require.True(t, ok)
	assert.True(t, correct, "labels compare after normalization")

	childID, _ := g.IDForName("Child")
	children := bySampleAndScore(store.Snapshot(childID))
	assert.Equal(t, domain.OutcomeOK, children["a/Child"].Outcome)
	assert.Equal(t, domain.OutcomeSkipped, children["b/Child"].Outcome)
	assert.Contains(t, children["b/Child"].SkipReason, "Gate")

	prior, ok := priorSeen.Load("a")
	require.True(t, ok)
	assert.Equal(t, "Yes", prior)
	_, ran := priorSeen.Load("b")
	assert.False(t, ran)
}

func TestDispatcher_ConcurrencyLimit(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "A"}, domain.ScoreConfig{Name: "B"})
	var current, peak atomic.Int32
	slow := PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		return []domain.Prediction{{Value: "x"}}, nil
	})

	d, err := New(g, Registry{"A": slow, "B": slow}, nil, Options{ConcurrencyLimit: 3})
	require.NoError(t, err)
	stats, err := d.Run(context.Background(), samples(20), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(40), stats.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestDispatcher_FailuresBecomeResults(t *testing.T) {
	g := buildGraph(t,
		domain.ScoreConfig{Name: "Errors"},
		domain.ScoreConfig{Name: "Panics"},
		domain.ScoreConfig{Name: "Empty"},
		domain.ScoreConfig{Name: "Unregistered"},
		domain.ScoreConfig{Name: "AfterError", DependsOn: domain.DependsOn{{Name: "Errors"}}},
		domain.ScoreConfig{Name: "Fine"},
	)
	reg := Registry{
		"Errors": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
			return nil, errors.New("model refused")
		}),
		"Panics": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
			panic("nil map")
		}),
		"Empty": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
			return nil, nil
		}),
		"AfterError": constant("x"),
		"Fine":       constant("x"),
	}
	assert.Equal(t, []string{"Unregistered"}, reg.Missing(g, g.Order()))

	d, err := New(g, reg, nil, Options{ConcurrencyLimit: 4, Retry: fastRetry()})
	require.NoError(t, err)
	ch, err := d.Stream(context.Background(), samples(1), nil)
	require.NoError(t, err)
	results := bySampleAndScore(collect(t, ch))

	require.Len(t, results, 6)
	assert.Equal(t, domain.OutcomeFailed, results["row-0/Errors"].Outcome)
	assert.Contains(t, results["row-0/Errors"].Error, "model refused")
	assert.Contains(t, results["row-0/Panics"].Error, ErrPredictorPanic.Error())
	assert.Contains(t, results["row-0/Empty"].Error, ErrEmptyPrediction.Error())
	assert.Contains(t, results["row-0/Unregistered"].Error, ErrNoPredictor.Error())
	assert.Equal(t, domain.OutcomeSkipped, results["row-0/AfterError"].Outcome)
	assert.Contains(t, results["row-0/AfterError"].SkipReason, "failed")
	assert.Equal(t, domain.OutcomeOK, results["row-0/Fine"].Outcome)
	assert.Equal(t, Stats{Dispatched: 5, Succeeded: 1, Failed: 4, Skipped: 1}, d.Stats())
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "Flaky"})
	var calls atomic.Int32
	reg := Registry{"Flaky": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
		if calls.Add(1) == 1 {
			return nil, retry.Transient(errors.New("503"))
		}
		return []domain.Prediction{{Value: "x"}}, nil
	})}

	d, err := New(g, reg, nil, Options{ConcurrencyLimit: 1, Retry: fastRetry()})
	require.NoError(t, err)
	stats, err := d.Run(context.Background(), samples(1), nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.Succeeded)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(1), d.RetryStats().SuccessfulRetries)
}

func TestDispatcher_PredictTimeout(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "Slow"})
	reg := Registry{"Slow": PredictorFunc(func(ctx context.Context, _ Request) ([]domain.Prediction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})}
	d, err := New(g, reg, nil, Options{
		PredictTimeout: 5 * time.Millisecond,
		Retry:          retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)
	stats, err := d.Run(context.Background(), samples(1), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), d.RetryStats().TotalAttempts)
}

func TestDispatcher_ProgressMonotone(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "A"}, domain.ScoreConfig{Name: "B", DependsOn: on("A", "!=", "x")})
	var mu sync.Mutex
	var seen []int64
	var results atomic.Int32
	d, err := New(g, Registry{"A": constant("x"), "B": constant("y")}, nil, Options{
		ConcurrencyLimit: 4,
		OnProgress: func(n int64) {
			mu.Lock()
			seen = append(seen, n)
			mu.Unlock()
		},
		OnResult: func(domain.ScoreResult) { results.Add(1) },
	})
	require.NoError(t, err)
	_, err = d.Run(context.Background(), samples(10), nil)
	require.NoError(t, err)

	assert.Len(t, seen, 20)
	assert.Equal(t, int32(20), results.Load())
	assert.ElementsMatch(t, func() []int64 {
		want := make([]int64, 20)
		for i := range want {
			want[i] = int64(i + 1)
		}
		return want
	}(), seen, "each unit advances the counter exactly once")
}

func TestDispatcher_ScopedRun(t *testing.T) {
	g := buildGraph(t,
		domain.ScoreConfig{Name: "Base"},
		domain.ScoreConfig{Name: "Top", DependsOn: domain.DependsOn{{Name: "Base"}}},
		domain.ScoreConfig{Name: "Other"},
	)
	var otherCalls atomic.Int32
	reg := Registry{
		"Base": constant("x"),
		"Top":  constant("y"),
		"Other": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
			otherCalls.Add(1)
			return []domain.Prediction{{Value: "z"}}, nil
		}),
	}
	topID, _ := g.IDForName("Top")
	d, err := New(g, reg, nil, Options{})
	require.NoError(t, err)
	stats, err := d.Run(context.Background(), samples(3), []string{topID})
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Succeeded)
	assert.Zero(t, otherCalls.Load())
}

func TestDispatcher_StopLetsInFlightFinish(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "A"})
	var cancelledCalls atomic.Int32
	reg := Registry{"A": PredictorFunc(func(ctx context.Context, _ Request) ([]domain.Prediction, error) {
		time.Sleep(10 * time.Millisecond)
		if ctx.Err() != nil {
			cancelledCalls.Add(1)
		}
		return []domain.Prediction{{Value: "x"}}, nil
	})}
	d, err := New(g, reg, nil, Options{ConcurrencyLimit: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.Stream(ctx, samples(6), nil)
	require.NoError(t, err)

	<-ch
	cancel()
	for range ch {
	}

	stats := d.Stats()
	assert.Zero(t, stats.Failed)
	assert.Zero(t, cancelledCalls.Load(), "a stop never cancels a running call")
	assert.GreaterOrEqual(t, stats.Succeeded, int64(1))
	assert.Equal(t, int64(6), stats.Processed()+stats.Abandoned)
}

func TestDispatcher_Abandon(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "Hang"})
	entered := make(chan struct{}, 1)
	reg := Registry{"Hang": PredictorFunc(func(ctx context.Context, _ Request) ([]domain.Prediction, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})}
	d, err := New(g, reg, nil, Options{ConcurrencyLimit: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.Stream(ctx, samples(3), nil)
	require.NoError(t, err)

	<-entered
	cancel()
	d.Abandon()
	results := collect(t, ch)

	assert.Empty(t, results)
	stats := d.Stats()
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(3), stats.Abandoned)
	assert.Zero(t, stats.Processed())
}

func TestDispatcher_AbandonIgnoringContext(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "Stubborn"})
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	reg := Registry{"Stubborn": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
		entered <- struct{}{}
		<-release
		return []domain.Prediction{{Value: "late"}}, nil
	})}
	d, err := New(g, reg, nil, Options{ConcurrencyLimit: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := d.Stream(ctx, samples(1), nil)
	require.NoError(t, err)

	<-entered
	cancel()
	d.Abandon()

	drained := make(chan []domain.ScoreResult)
	go func() {
		var out []domain.ScoreResult
		for r := range ch {
			out = append(out, r)
		}
		drained <- out
	}()
	select {
	case results := <-drained:
		assert.Empty(t, results)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after Abandon")
	}
	assert.Equal(t, int64(1), d.Stats().Abandoned)
}

func TestDispatcher_TimeoutIgnoringContext(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "Stubborn"})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	reg := Registry{"Stubborn": PredictorFunc(func(context.Context, Request) ([]domain.Prediction, error) {
		<-release
		return []domain.Prediction{{Value: "late"}}, nil
	})}
	d, err := New(g, reg, nil, Options{
		PredictTimeout: 5 * time.Millisecond,
		Retry:          retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
	})
	require.NoError(t, err)

	ch, err := d.Stream(context.Background(), samples(1), nil)
	require.NoError(t, err)
	results := collect(t, ch)

	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeFailed, results[0].Outcome)
	assert.Contains(t, results[0].Error, ErrPredictTimeout.Error())
	assert.Equal(t, int64(2), d.RetryStats().TotalAttempts, "a timed out attempt is retried")
}

func TestDispatcher_SkipSentinel(t *testing.T) {
	g := buildGraph(t,
		domain.ScoreConfig{Name: "A"},
		domain.ScoreConfig{Name: "B", DependsOn: on("A", "!=", "no")},
		domain.ScoreConfig{Name: "C", DependsOn: domain.DependsOn{{Name: "B"}}},
	)
	var bCalls sync.Map
	reg := Registry{
		"A": PredictorFunc(func(_ context.Context, req Request) ([]domain.Prediction, error) {
			if req.Sample.ID == "row-0" {
				return []domain.Prediction{{Value: domain.ValueSkipped, Explanation: "not applicable"}}, nil
			}
			return []domain.Prediction{{Value: "billing"}}, nil
		}),
		"B": PredictorFunc(func(_ context.Context, req Request) ([]domain.Prediction, error) {
			bCalls.Store(req.Sample.ID, true)
			return []domain.Prediction{{Value: "yes"}}, nil
		}),
		"C": constant("ok"),
	}
	store := resultstore.New()
	d, err := New(g, reg, store, Options{})
	require.NoError(t, err)

	stats, err := d.Run(context.Background(), samples(2), nil)
	require.NoError(t, err)

	_, calledOnRow0 := bCalls.Load("row-0")
	assert.False(t, calledOnRow0, "dependents of a declined unit are never dispatched")
	_, calledOnRow1 := bCalls.Load("row-1")
	assert.True(t, calledOnRow1)

	assert.Equal(t, int64(3), stats.Skipped)
	assert.Equal(t, int64(3), stats.Succeeded)

	aID, _ := g.IDForName("A")
	var declined domain.ScoreResult
	for _, r := range store.Snapshot(aID) {
		if r.SampleID == "row-0" {
			declined = r
		}
	}
	assert.Equal(t, domain.OutcomeSkipped, declined.Outcome)
	assert.Equal(t, "not applicable", declined.SkipReason)
	assert.Empty(t, declined.Value)
}

func TestDispatcher_RateLimit(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "A"})
	d, err := New(g, Registry{"A": constant("x")}, nil, Options{RatePerSecond: 200, Burst: 1})
	require.NoError(t, err)

	start := time.Now()
	stats, err := d.Run(context.Background(), samples(5), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestDispatcher_Validation(t *testing.T) {
	g := buildGraph(t, domain.ScoreConfig{Name: "A"})
	d, err := New(g, Registry{"A": constant("x")}, nil, Options{})
	require.NoError(t, err)

	_, err = d.Stream(context.Background(), []domain.SampleRecord{{ID: "a"}, {ID: "a"}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSample)
	_, err = d.Stream(context.Background(), []domain.SampleRecord{{}}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSample)
	_, err = d.Stream(context.Background(), samples(1), []string{"missing"})
	assert.ErrorIs(t, err, domain.ErrUnknownDependency)

	_, err = d.Run(context.Background(), samples(1), nil)
	require.NoError(t, err)
	_, err = d.Stream(context.Background(), samples(1), nil)
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	_, err = New(nil, nil, nil, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidScorecard)
	_, err = New(g, nil, nil, Options{Retry: retry.Policy{MaxAttempts: -1}})
	assert.Error(t, err)
}

func TestChoosePrediction(t *testing.T) {
	_, err := choosePrediction(nil, "A")
	assert.ErrorIs(t, err, ErrEmptyPrediction)

	p, err := choosePrediction([]domain.Prediction{{ScoreName: "other", Value: "1"}, {ScoreName: "a", Value: "2"}}, "A")
	require.NoError(t, err)
	assert.Equal(t, "2", p.Value)

	p, err = choosePrediction([]domain.Prediction{{Value: "first"}, {Value: "second"}}, "A")
	require.NoError(t, err)
	assert.Equal(t, "first", p.Value)
}
