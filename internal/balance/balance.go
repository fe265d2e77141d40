package balance

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"unmasking/internal/unit"
)

type Strategy string

const (
	StrategyNone      Strategy = "none"
	StrategySubsample Strategy = "subsample"
	StrategyMerge     Strategy = "merge"
)

// ErrImbalanced is returned when a collection has no author partition with a
// positive size to balance against.
var ErrImbalanced = errors.New("imbalanced collection")

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyNone, StrategySubsample, StrategyMerge:
		return st, nil
	case "":
		return StrategySubsample, nil
	default:
		return "", fmt.Errorf("unknown balancing strategy: %s", s)
	}
}

// Apply balances units with the given strategy and reports the per-author size.
func Apply(strategy Strategy, units []unit.TextUnit, rng *rand.Rand) ([]unit.TextUnit, int, error) {
	switch strategy {
	case StrategyNone:
		return units, 0, nil
	case StrategySubsample:
		return Subsample(units, rng)
	case StrategyMerge:
		return Merge(units, rng)
	default:
		return nil, 0, fmt.Errorf("unknown balancing strategy: %s", strategy)
	}
}

// Subsample keeps a uniformly random n items per author, where n is the size
// of the smallest author partition.
func Subsample(units []unit.TextUnit, rng *rand.Rand) ([]unit.TextUnit, int, error) {
	parts, authors, n, err := partition(units)
	if err != nil {
		return nil, 0, err
	}
	out := make([]unit.TextUnit, 0, n*len(authors))
	for _, a := range authors {
		items := parts[a]
		for _, idx := range rng.Perm(len(items))[:n] {
			out = append(out, items[idx])
		}
	}
	return out, n, nil
}

// Merge folds the excess items of every author into averaged items until each
// author holds n. Vectors are cloned, so the input is left untouched.
func Merge(units []unit.TextUnit, rng *rand.Rand) ([]unit.TextUnit, int, error) {
	if _, err := unit.Dimensions(units); err != nil {
		return nil, 0, err
	}
	parts, authors, n, err := partition(units)
	if err != nil {
		return nil, 0, err
	}
	out := make([]unit.TextUnit, 0, n*len(authors))
	for _, a := range authors {
		pool := unit.CloneAll(parts[a])
		for len(pool) > n {
			i := rng.IntN(len(pool))
			j := rng.IntN(len(pool) - 1)
			if j >= i {
				j++
			}
			for k := range pool[i].Vector {
				pool[i].Vector[k] = (pool[i].Vector[k] + pool[j].Vector[k]) / 2
			}
			pool = append(pool[:j], pool[j+1:]...)
		}
		out = append(out, pool...)
	}
	return out, n, nil
}

func partition(units []unit.TextUnit) (map[string][]unit.TextUnit, []string, int, error) {
	if len(units) == 0 {
		return nil, nil, 0, fmt.Errorf("balance empty collection: %w", ErrImbalanced)
	}
	parts, authors := unit.ByAuthor(units)
	n := -1
	for _, a := range authors {
		if n < 0 || len(parts[a]) < n {
			n = len(parts[a])
		}
	}
	if n <= 0 {
		return nil, nil, 0, fmt.Errorf("balance: empty author partition: %w", ErrImbalanced)
	}
	return parts, authors, n, nil
}
