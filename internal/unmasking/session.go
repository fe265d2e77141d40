package unmasking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"unmasking/internal/classify"
	"unmasking/internal/curve"
	"unmasking/internal/metrics"
	"unmasking/internal/unit"
)

// Session calibrates reference curves for one base author and then judges
// disputed works against them.
type Session struct {
	opts          Options
	lib           Library
	newClassifier classify.Factory
	log           *zap.Logger
	metrics       *metrics.Metrics

	mu       sync.Mutex
	rng      *rand.Rand
	state    State
	dims     int
	ref      ReferencePair
	verdicts []Verdict
	failures []Failure
}

type SessionOption func(*Session)

func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func NewSession(lib Library, newClassifier classify.Factory, opts Options, sopts ...SessionOption) (*Session, error) {
	if lib == nil {
		return nil, fmt.Errorf("new session: nil library")
	}
	if newClassifier == nil {
		return nil, fmt.Errorf("new session: nil classifier factory")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	s := &Session{
		opts:          opts,
		lib:           lib,
		newClassifier: newClassifier,
		log:           zap.NewNop(),
		rng:           rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
	}
	for _, o := range sopts {
		o(s)
	}
	return s, nil
}

func (s *Session) Options() Options {
	return s.opts
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reference() ReferencePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref
}

// SetReference restores a previously computed calibration. The curves must
// follow the session's step schedule and, once the vector length is known,
// have the length every later observed curve will have.
func (s *Session) SetReference(ref ReferencePair) error {
	if ref.Same.Len() != ref.Different.Len() {
		return &unit.ShapeMismatchError{What: "reference curves", Want: ref.Same.Len(), Got: ref.Different.Len()}
	}
	if err := s.checkSchedule(ref.Same); err != nil {
		return err
	}
	if err := s.checkSchedule(ref.Different); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims != 0 {
		if want := s.expectedPoints(s.dims); ref.Same.Len() != want {
			return &unit.ShapeMismatchError{What: "reference curve points", Want: want, Got: ref.Same.Len()}
		}
	}
	s.ref = ref
	s.state = StateCalibrated
	s.verdicts = nil
	s.failures = nil
	return nil
}

func (s *Session) Verdicts() []Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Verdict(nil), s.verdicts...)
}

func (s *Session) Failures() []Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Failure(nil), s.failures...)
}

// Calibrate builds the same-author and different-author reference curves.
// On error the session keeps its previous state.
func (s *Session) Calibrate(ctx context.Context, base, calibration []unit.WorkID) (ReferencePair, error) {
	if len(base) < 2 {
		return ReferencePair{}, &SamplingConstraintError{Reason: fmt.Sprintf("need at least 2 base works to draw disjoint groups, have %d", len(base))}
	}
	if len(calibration) == 0 {
		return ReferencePair{}, &SamplingConstraintError{Reason: "no calibration works"}
	}
	lb := min(s.opts.WorksPerGroup, len(base)/2)
	lc := min(s.opts.WorksPerGroup, len(calibration))

	n := s.opts.Selections
	seeds := s.drawSeeds(n)
	same := make([]curve.Curve, n)
	diff := make([]curve.Curve, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.opts.Workers))
	for k := range n {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[k][0], seeds[k][1]))
			g1, g2, err := disjointGroups(rng, len(base), lb, s.opts.MaxDisjointRetries)
			if err != nil {
				return err
			}
			g3 := sampleGroup(rng, len(calibration), lc)
			ob1, ob2, oc1 := pick(base, g1), pick(base, g2), pick(calibration, g3)

			same[k], err = s.BuildCurve(gctx, Problem{Kind: KindSame, Training: ob1, Eval: ob2}, rng)
			if err != nil {
				return fmt.Errorf("selection %d: %w", k+1, err)
			}
			diff[k], err = s.BuildCurve(gctx, Problem{Kind: KindDifferent, Training: ob1, Eval: oc1}, rng)
			if err != nil {
				return fmt.Errorf("selection %d: %w", k+1, err)
			}
			s.log.Info("calibration selection done",
				zap.Int("selection", k+1),
				zap.Int("of", n),
				zap.Stringers("base_a", ob1),
				zap.Stringers("base_b", ob2),
				zap.Stringers("calibration", oc1))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("calibration failed", zap.Error(err))
		return ReferencePair{}, err
	}

	meanSame, err := curve.Mean(same)
	if err != nil {
		return ReferencePair{}, fmt.Errorf("average same-author curves: %w", err)
	}
	meanDiff, err := curve.Mean(diff)
	if err != nil {
		return ReferencePair{}, fmt.Errorf("average different-author curves: %w", err)
	}
	ref := ReferencePair{
		Same:      curve.Smooth(meanSame, s.opts.Smoothing),
		Different: curve.Smooth(meanDiff, s.opts.Smoothing),
	}
	if err := s.SetReference(ref); err != nil {
		return ReferencePair{}, err
	}
	s.log.Info("calibrated", zap.Int("selections", n), zap.Int("points", ref.Same.Len()))
	return ref, nil
}

// Verify judges every disputed work against the reference curves. Works whose
// curves fail are reported through the returned error and Failures; the
// verdicts of the remaining works are still returned. A shape mismatch with
// the reference stops verification.
func (s *Session) Verify(ctx context.Context, base, disputed []unit.WorkID) ([]Verdict, error) {
	s.mu.Lock()
	state, ref := s.state, s.ref
	s.mu.Unlock()
	if state == StateUncalibrated {
		return nil, ErrNotCalibrated
	}
	if len(base) == 0 {
		return nil, &SamplingConstraintError{Reason: "no base works"}
	}
	lb := min(s.opts.WorksPerGroup, len(base))

	var (
		verdicts []Verdict
		failures []Failure
	)
	for i, w := range disputed {
		v, err := s.verifyOne(ctx, ref, base, lb, w)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return verdicts, ctxErr
			}
			var shape *unit.ShapeMismatchError
			if errors.As(err, &shape) {
				// the reference does not fit this corpus; no other work can pass
				return verdicts, fmt.Errorf("verify %s: %w", w, err)
			}
			s.log.Warn("verification failed", zap.Stringer("work", w), zap.Error(err))
			failures = append(failures, Failure{Work: w, Err: err})
			if s.metrics != nil {
				s.metrics.Verdicts.WithLabelValues("failed").Inc()
			}
			continue
		}
		s.log.Info("verdict",
			zap.Int("work_index", i+1),
			zap.Stringer("work", w),
			zap.Bool("attributed", v.AttributedToBase),
			zap.Float64("distance_same", v.DistanceToSame),
			zap.Float64("distance_different", v.DistanceToDifferent))
		if s.metrics != nil {
			outcome := "rejected"
			if v.AttributedToBase {
				outcome = "attributed"
			}
			s.metrics.Verdicts.WithLabelValues(outcome).Inc()
		}
		verdicts = append(verdicts, v)
	}

	s.mu.Lock()
	s.verdicts = append(s.verdicts, verdicts...)
	s.failures = append(s.failures, failures...)
	s.state = StateVerified
	s.mu.Unlock()

	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return verdicts, errors.Join(errs...)
}

func (s *Session) verifyOne(ctx context.Context, ref ReferencePair, base []unit.WorkID, lb int, work unit.WorkID) (Verdict, error) {
	n := s.opts.Selections
	seeds := s.drawSeeds(n)
	observed := make([]curve.Curve, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.opts.Workers))
	for k := range n {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[k][0], seeds[k][1]))
			ob1 := pick(base, sampleGroup(rng, len(base), lb))
			c, err := s.BuildCurve(gctx, Problem{Kind: KindObserved, Training: ob1, Eval: []unit.WorkID{work}}, rng)
			if err != nil {
				return fmt.Errorf("selection %d: %w", k+1, err)
			}
			observed[k] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Verdict{}, err
	}
	mean, err := curve.Mean(observed)
	if err != nil {
		return Verdict{}, err
	}
	return Decide(ref, work, curve.Smooth(mean, s.opts.Smoothing))
}

// Decide attributes work to the base author when its observed curve is
// strictly closer to the same-author curve. Ties are not attributed.
func Decide(ref ReferencePair, work unit.WorkID, observed curve.Curve) (Verdict, error) {
	dSame, err := curve.Distance(observed, ref.Same)
	if err != nil {
		return Verdict{}, fmt.Errorf("distance to same-author curve: %w", err)
	}
	dDiff, err := curve.Distance(observed, ref.Different)
	if err != nil {
		return Verdict{}, fmt.Errorf("distance to different-author curve: %w", err)
	}
	return Verdict{
		Work:                work,
		AttributedToBase:    dSame < dDiff,
		DistanceToSame:      dSame,
		DistanceToDifferent: dDiff,
		Confidence:          confidence(dSame, dDiff),
		Curve:               observed,
	}, nil
}

// confidence is the relative gap between the two distances, in [0, 1].
func confidence(dSame, dDiff float64) float64 {
	hi := math.Max(dSame, dDiff)
	if hi == 0 {
		return 0
	}
	return math.Abs(dSame-dDiff) / hi
}

func (s *Session) drawSeeds(n int) [][2]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]uint64, n)
	for i := range out {
		out[i] = [2]uint64{s.rng.Uint64(), s.rng.Uint64()}
	}
	return out
}

func sampleGroup(rng *rand.Rand, total, size int) []int {
	return rng.Perm(total)[:size]
}

// disjointGroups draws a first group, then redraws the second until the two
// share no index or the retry budget is spent.
func disjointGroups(rng *rand.Rand, total, size, retries int) ([]int, []int, error) {
	if size <= 0 {
		return nil, nil, &SamplingConstraintError{Reason: "group size is zero"}
	}
	first := sampleGroup(rng, total, size)
	taken := make(map[int]struct{}, size)
	for _, i := range first {
		taken[i] = struct{}{}
	}
	for attempt := 0; attempt < retries; attempt++ {
		second := sampleGroup(rng, total, size)
		clash := false
		for _, i := range second {
			if _, ok := taken[i]; ok {
				clash = true
				break
			}
		}
		if !clash {
			return first, second, nil
		}
	}
	return nil, nil, &SamplingConstraintError{Reason: fmt.Sprintf("no disjoint group of %d among %d works after %d draws", size, total, retries)}
}

func pick(works []unit.WorkID, idx []int) []unit.WorkID {
	out := make([]unit.WorkID, len(idx))
	for i, j := range idx {
		out[i] = works[j]
	}
	return out
}
