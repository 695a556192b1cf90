package domain

import (
	"errors"
	"strings"
)

// ErrInvalidScorecard indicates that a scorecard configuration failed validation.
var ErrInvalidScorecard = errors.New("invalid scorecard configuration")

// ErrUnknownDependency indicates that a score depends on a name the scorecard does not define.
var ErrUnknownDependency = errors.New("unknown dependency")

// ErrCyclicDependency indicates that the dependency relation between scores is not acyclic.
var ErrCyclicDependency = errors.New("cyclic score dependency")

// ErrUnknownOperator indicates that a dependency condition uses an unsupported operator.
var ErrUnknownOperator = errors.New("unknown condition operator")

// ErrDuplicateScore indicates that two scores share a name or id.
var ErrDuplicateScore = errors.New("duplicate score")

// ErrInvalidSample indicates that a sample record cannot be scored.
var ErrInvalidSample = errors.New("invalid sample record")

// ErrDuplicateResult indicates a second result for the same sample and score.
var ErrDuplicateResult = errors.New("result already recorded for sample and score")

// ErrInvalidStatusTransition indicates an attempt to move a run or score status backwards.
var ErrInvalidStatusTransition = errors.New("invalid status transition")

// ErrInvalidRequest indicates that an evaluation request contains invalid data.
var ErrInvalidRequest = errors.New("invalid evaluation request")

// CycleError reports the score ids that form a dependency cycle.
type CycleError struct {
	Path []string
}

// Error returns the cycle rendered as a -> b -> a.
func (e *CycleError) Error() string {
	return ErrCyclicDependency.Error() + ": " + strings.Join(e.Path, " -> ")
}

// Unwrap allows errors.Is(err, ErrCyclicDependency).
func (e *CycleError) Unwrap() error { return ErrCyclicDependency }
