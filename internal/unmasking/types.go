package unmasking

import (
	"context"
	"errors"
	"fmt"

	"unmasking/internal/balance"
	"unmasking/internal/curve"
	"unmasking/internal/normalize"
	"unmasking/internal/unit"
)

// Library hands out the vectorized chunks of a work. Implementations must
// return units the caller may modify, or the session clones them anyway.
type Library interface {
	Units(ctx context.Context, id unit.WorkID) ([]unit.TextUnit, error)
}

type State int

const (
	StateUncalibrated State = iota
	StateCalibrated
	StateVerified
)

func (s State) String() string {
	switch s {
	case StateCalibrated:
		return "calibrated"
	case StateVerified:
		return "verified"
	default:
		return "uncalibrated"
	}
}

type Kind string

const (
	KindSame      Kind = "same"
	KindDifferent Kind = "different"
	KindObserved  Kind = "observed"
)

type ReferencePair struct {
	Same      curve.Curve `json:"same"`
	Different curve.Curve `json:"different"`
}

type Verdict struct {
	Work                unit.WorkID `json:"work"`
	AttributedToBase    bool        `json:"attributed_to_base"`
	DistanceToSame      float64     `json:"distance_to_same"`
	DistanceToDifferent float64     `json:"distance_to_different"`
	Confidence          float64     `json:"confidence"`
	Curve               curve.Curve `json:"curve"`
}

// Failure records a disputed work whose observed curve could not be built.
type Failure struct {
	Work unit.WorkID
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("verify %s: %v", f.Work, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

var ErrNotCalibrated = errors.New("session is not calibrated")

// SamplingConstraintError is returned when work groups cannot be drawn, either
// because the corpus is too small or disjoint groups kept colliding.
type SamplingConstraintError struct {
	Reason string
}

func (e *SamplingConstraintError) Error() string {
	return "sampling constraint: " + e.Reason
}

type Options struct {
	Selections         int                 `json:"selections"`
	WorksPerGroup      int                 `json:"works_per_group"`
	Curve              curve.Options       `json:"curve"`
	Smoothing          int                 `json:"smoothing"`
	Balance            balance.Strategy    `json:"balance"`
	Normalize          normalize.Method    `json:"normalize"`
	ZeroRange          normalize.ZeroRange `json:"zero_range"`
	MaxDisjointRetries int                 `json:"max_disjoint_retries"`
	Workers            int                 `json:"workers"`
	Seed               uint64              `json:"seed"`
}

func DefaultOptions() Options {
	return Options{
		Selections:         5,
		WorksPerGroup:      1,
		Curve:              curve.DefaultOptions(),
		Smoothing:          0,
		Balance:            balance.StrategySubsample,
		Normalize:          normalize.MethodZScore,
		ZeroRange:          normalize.ZeroRangePropagate,
		MaxDisjointRetries: 100,
		Workers:            1,
		Seed:               1,
	}
}

func (o Options) Validate() error {
	if o.Selections <= 0 {
		return fmt.Errorf("selections must be positive, got %d", o.Selections)
	}
	if o.WorksPerGroup <= 0 {
		return fmt.Errorf("works per group must be positive, got %d", o.WorksPerGroup)
	}
	if o.Smoothing < 0 {
		return fmt.Errorf("smoothing passes must not be negative, got %d", o.Smoothing)
	}
	if o.MaxDisjointRetries <= 0 {
		return fmt.Errorf("max disjoint retries must be positive, got %d", o.MaxDisjointRetries)
	}
	return o.Curve.Validate()
}
