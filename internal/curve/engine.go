package curve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"unmasking/internal/classify"
	"unmasking/internal/unit"
)

var ErrEmptySet = errors.New("empty training or eval set")

type Options struct {
	Step       int `json:"step"`
	Trials     int `json:"trials"`
	SampleSize int `json:"sample_size"`
	Divisor    int `json:"divisor"`
	Workers    int `json:"workers"`
}

func DefaultOptions() Options {
	return Options{
		Step:       5,
		Trials:     10,
		SampleSize: 20,
		Divisor:    10,
		Workers:    1,
	}
}

func (o Options) Validate() error {
	switch {
	case o.Step <= 0:
		return fmt.Errorf("curve step must be positive, got %d", o.Step)
	case o.Trials <= 0:
		return fmt.Errorf("curve trials must be positive, got %d", o.Trials)
	case o.SampleSize <= 0:
		return fmt.Errorf("curve sample size must be positive, got %d", o.SampleSize)
	case o.Divisor <= 0:
		return fmt.Errorf("curve divisor must be positive, got %d", o.Divisor)
	}
	return nil
}

// Levels returns how many points a curve over dims dimensions has.
func (o Options) Levels(dims int) int {
	if dims <= 0 || o.Step <= 0 {
		return 0
	}
	return (dims + o.Step - 1) / o.Step
}

// Ranking orders dimensions from least to most distinguishing.
type Ranking struct {
	Order  []int
	Scores []float64
}

// ImportanceRanking scores every dimension by the gap between the two sets'
// means over their pooled standard deviation.
func ImportanceRanking(training, eval []unit.TextUnit) (Ranking, error) {
	dims, err := unit.Dimensions(append(append([]unit.TextUnit(nil), training...), eval...))
	if err != nil {
		return Ranking{}, err
	}
	scores := make([]float64, dims)
	colA := make([]float64, len(training))
	colB := make([]float64, len(eval))
	for j := 0; j < dims; j++ {
		for i, u := range training {
			colA[i] = u.Vector[j]
		}
		for i, u := range eval {
			colB[i] = u.Vector[j]
		}
		meanA, varA := stat.PopMeanVariance(colA, nil)
		meanB, varB := stat.PopMeanVariance(colB, nil)
		s := math.Abs(meanB-meanA) / math.Sqrt((varA+varB)/2)
		if math.IsNaN(s) {
			s = 0
		}
		scores[j] = s
	}

	order := make([]int, dims)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })
	sorted := make([]float64, dims)
	for i, idx := range order {
		sorted[i] = scores[idx]
	}
	return Ranking{Order: order, Scores: sorted}, nil
}

// Reorder returns a new vector whose i-th component is v[order[i]].
func Reorder(v []float64, order []int) []float64 {
	out := make([]float64, len(order))
	for i, idx := range order {
		out[i] = v[idx]
	}
	return out
}

// EvalSize is the number of pooled units held out on each trial.
func (o Options) EvalSize(pool int) int {
	n := min(o.SampleSize, pool/o.Divisor)
	if n < 1 {
		n = 1
	}
	return min(n, pool)
}

// Build produces the degradation curve of training against eval. Inputs are
// cloned; the callers' units are never modified.
func Build(ctx context.Context, training, eval []unit.TextUnit, opts Options, newClassifier classify.Factory, rng *rand.Rand) (Curve, error) {
	if err := opts.Validate(); err != nil {
		return Curve{}, err
	}
	if len(training) == 0 || len(eval) == 0 {
		return Curve{}, ErrEmptySet
	}
	if newClassifier == nil {
		return Curve{}, fmt.Errorf("curve build: nil classifier factory")
	}
	rank, err := ImportanceRanking(training, eval)
	if err != nil {
		return Curve{}, err
	}
	dims := len(rank.Order)
	if dims == 0 {
		return Curve{}, fmt.Errorf("curve build: zero-length vectors")
	}

	pool := make([]unit.TextUnit, 0, len(training)+len(eval))
	for _, set := range []struct {
		units []unit.TextUnit
		role  unit.Role
	}{{training, unit.RoleTraining}, {eval, unit.RoleEval}} {
		for _, u := range set.units {
			c := u
			c.Role = set.role
			c.Vector = Reorder(u.Vector, rank.Order)
			pool = append(pool, c)
		}
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	evalSize := opts.EvalSize(len(pool))
	out := Curve{Points: make([]Point, 0, opts.Levels(dims))}
	for removed := 0; removed < dims; removed += opts.Step {
		if err := ctx.Err(); err != nil {
			return Curve{}, err
		}
		keep := dims - removed
		level := make([]unit.TextUnit, len(pool))
		for i, u := range pool {
			level[i] = u
			level[i].Vector = u.Vector[:keep:keep]
		}
		seeds := make([][2]uint64, opts.Trials)
		for i := range seeds {
			seeds[i] = [2]uint64{rng.Uint64(), rng.Uint64()}
		}
		mean, err := runTrials(ctx, level, evalSize, seeds, opts.Workers, newClassifier)
		if err != nil {
			return Curve{}, fmt.Errorf("level %d removed: %w", removed, err)
		}
		out.Points = append(out.Points, Point{Removed: removed, Precision: mean})
	}
	return out, nil
}

func runTrials(ctx context.Context, level []unit.TextUnit, evalSize int, seeds [][2]uint64, workers int, newClassifier classify.Factory) (float64, error) {
	precisions := make([]float64, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for t, seed := range seeds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			trng := rand.New(rand.NewPCG(seed[0], seed[1]))
			perm := trng.Perm(len(level))
			evalSet := make([]unit.TextUnit, 0, evalSize)
			trainSet := make([]unit.TextUnit, 0, len(level)-evalSize)
			for i, idx := range perm {
				if i < evalSize {
					evalSet = append(evalSet, level[idx])
				} else {
					trainSet = append(trainSet, level[idx])
				}
			}
			p, err := newClassifier().Classify(trainSet, evalSet)
			if err != nil {
				return fmt.Errorf("trial %d: %w", t, err)
			}
			if math.IsNaN(p) || p < 0 || p > 1 {
				return fmt.Errorf("trial %d: precision %v outside [0,1]", t, p)
			}
			precisions[t] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	var sum float64
	for _, p := range precisions {
		sum += p
	}
	return sum / float64(len(precisions)), nil
}
