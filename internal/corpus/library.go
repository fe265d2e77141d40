package corpus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"unmasking/internal/chunk"
	"unmasking/internal/features"
	"unmasking/internal/ingest"
	"unmasking/internal/metrics"
	"unmasking/internal/pipeline"
	"unmasking/internal/unit"
)

// Library reads, segments and vectorizes works on first use and keeps the
// resulting units in memory.
type Library struct {
	manifest   *Manifest
	vectorizer *features.Vectorizer
	log        *zap.Logger
	metrics    *metrics.Metrics

	mu    sync.Mutex
	cache map[unit.WorkID][]unit.TextUnit
	names []string
}

func NewLibrary(m *Manifest, v *features.Vectorizer, log *zap.Logger, met *metrics.Metrics) *Library {
	if log == nil {
		log = zap.NewNop()
	}
	return &Library{
		manifest:   m,
		vectorizer: v,
		log:        log,
		metrics:    met,
		cache:      map[unit.WorkID][]unit.TextUnit{},
	}
}

// Units returns clones of the cached units of id.
func (l *Library) Units(ctx context.Context, id unit.WorkID) ([]unit.TextUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	units, ok := l.cache[id]
	l.mu.Unlock()
	if !ok {
		var err error
		units, err = l.load(id)
		if err != nil {
			return nil, err
		}
	}
	return unit.CloneAll(units), nil
}

// Preload vectorizes works concurrently so later Units calls hit the cache.
func (l *Library) Preload(ctx context.Context, ids []unit.WorkID, workers int) error {
	errs := pipeline.Run(ids, workers, func(id unit.WorkID) error {
		_, err := l.Units(ctx, id)
		return err
	})
	return errors.Join(errs...)
}

// ComponentNames lists the vector component names, once a work is loaded.
func (l *Library) ComponentNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func (l *Library) load(id unit.WorkID) ([]unit.TextUnit, error) {
	path := l.manifest.Path(id)
	doc, err := ingest.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", id, err)
	}
	segments := chunk.Split(doc.Words, l.manifest.ChunkSize, l.manifest.WholeText)
	if len(segments) == 0 {
		return nil, fmt.Errorf("work %s has %d words, shorter than one chunk of %d tokens",
			id, doc.WordCount(), l.manifest.ChunkSize)
	}

	units := make([]unit.TextUnit, len(segments))
	var names []string
	for i, seg := range segments {
		vec, ns := l.vectorizer.Analyze(seg)
		units[i] = unit.TextUnit{Work: id, Chunk: seg.Index, Vector: vec}
		names = ns
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.cache[id]; ok {
		return cached, nil
	}
	l.cache[id] = units
	l.names = names
	if l.metrics != nil {
		l.metrics.WorksVectorized.Inc()
	}
	l.log.Info("work vectorized",
		zap.Stringer("work", id),
		zap.String("path", path),
		zap.Int("words", doc.WordCount()),
		zap.Int("chunks", len(units)),
		zap.Int("dims", len(names)))
	return units, nil
}
