// Package dispatch runs the predict calls of a scorecard over a batch of
// samples, honoring dependency conditions and a global concurrency limit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
	"github.com/AnthusAI/Plexus-sub006/internal/retry"
	"github.com/AnthusAI/Plexus-sub006/internal/scorecard"
)

var (
	// ErrNoPredictor indicates a score without a registered predictor.
	ErrNoPredictor = errors.New("no predictor registered")

	// ErrEmptyPrediction indicates a predictor that returned nothing.
	ErrEmptyPrediction = errors.New("predictor returned no predictions")

	// ErrPredictorPanic indicates a predictor that panicked.
	ErrPredictorPanic = errors.New("predictor panicked")

	// ErrPredictTimeout indicates a predict attempt that outlived its
	// deadline. The call itself may still be running.
	ErrPredictTimeout = errors.New("predict attempt timed out")

	// ErrAlreadyStarted indicates a second Stream on the same Dispatcher.
	ErrAlreadyStarted = errors.New("dispatcher already started")
)

// Request is the input of one predict call.
type Request struct {
	Sample    domain.SampleRecord
	ScoreID   string
	ScoreName string
	// Prior holds the results of this sample's scores that already
	// completed, keyed by score name.
	Prior map[string]domain.ScoreResult
}

// Predictor produces the value of one score for one sample.
type Predictor interface {
	Predict(ctx context.Context, req Request) ([]domain.Prediction, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, req Request) ([]domain.Prediction, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(ctx context.Context, req Request) ([]domain.Prediction, error) {
	return f(ctx, req)
}

// Registry maps score names to predictors.
type Registry map[string]Predictor

// Lookup finds the predictor of a score.
func (r Registry) Lookup(scoreName string) (Predictor, bool) {
	p, ok := r[scoreName]
	return p, ok && p != nil
}

// Missing returns the names of scores in ids that have no predictor.
func (r Registry) Missing(graph *scorecard.Graph, ids []string) []string {
	var missing []string
	for _, id := range ids {
		node, ok := graph.Node(id)
		if !ok {
			continue
		}
		if _, ok := r.Lookup(node.Name); !ok {
			missing = append(missing, node.Name)
		}
	}
	return missing
}

// choosePrediction picks the prediction named after the score, or the
// first one.
func choosePrediction(preds []domain.Prediction, scoreName string) (domain.Prediction, error) {
	if len(preds) == 0 {
		return domain.Prediction{}, ErrEmptyPrediction
	}
	for _, p := range preds {
		if strings.EqualFold(p.ScoreName, scoreName) {
			return p, nil
		}
	}
	return preds[0], nil
}

// safePredict converts a predictor panic into an error.
func safePredict(ctx context.Context, p Predictor, req Request) (preds []domain.Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPredictorPanic, r)
		}
	}()
	return p.Predict(ctx, req)
}

type predictOutcome struct {
	preds []domain.Prediction
	err   error
}

// awaitPredict runs the predictor in its own goroutine and returns as soon
// as either the call finishes or ctx is done. Predictors are external code
// and may ignore their context; waiting on ctx here is what keeps attempt
// timeouts and abandonment enforceable. A call left behind keeps running
// until it returns on its own and its result is discarded.
func awaitPredict(ctx context.Context, p Predictor, req Request) ([]domain.Prediction, error) {
	// Buffered so an abandoned call can always deliver and exit.
	ch := make(chan predictOutcome, 1)
	go func() {
		preds, err := safePredict(ctx, p, req)
		ch <- predictOutcome{preds: preds, err: err}
	}()

	select {
	case o := <-ch:
		return o.preds, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, retry.Transient(fmt.Errorf("%w: %w", ErrPredictTimeout, ctx.Err()))
		}
		return nil, ctx.Err()
	}
}
