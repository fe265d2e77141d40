package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"unmasking/internal/classify"
	"unmasking/internal/config"
	"unmasking/internal/corpus"
	"unmasking/internal/db"
	"unmasking/internal/features"
	"unmasking/internal/logging"
	"unmasking/internal/metrics"
	"unmasking/internal/report"
	"unmasking/internal/unmasking"
	"unmasking/internal/workspace"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	root    string
	dbPath  string

	manifest   *corpus.Manifest
	meta       *corpus.Metadata
	library    *corpus.Library
	classifier string
}

func (a *app) init() error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(a.cfg.LogLevel, a.cfg.LogJSON)
	if err != nil {
		return err
	}
	a.log = logger
	a.metrics = metrics.New()

	if a.cfg.Workspace != "" {
		a.root, err = workspace.EnsureAt(a.cfg.Workspace)
	} else {
		a.root, err = workspace.EnsureDefault()
	}
	if err != nil {
		return fmt.Errorf("workspace initialization failed: %w", err)
	}
	a.dbPath = a.cfg.DBFile
	if a.dbPath == "" {
		a.dbPath = workspace.DBPath(a.root)
	}
	return nil
}

// loadStudy reads the manifest, its metadata and prepares the work library.
func (a *app) loadStudy() error {
	if a.cfg.Manifest == "" {
		return errors.New("no manifest: pass --manifest or set UNMASK_MANIFEST")
	}
	m, err := corpus.LoadManifest(a.cfg.Manifest)
	if err != nil {
		return err
	}
	a.manifest = m

	if p := m.MetadataPath(); p != "" {
		a.meta, err = corpus.LoadMetadata(p)
		if err != nil {
			return err
		}
	}

	v, err := features.ByNames(m.Extractors, m.Language)
	if err != nil {
		return err
	}
	a.library = corpus.NewLibrary(m, v, a.log, a.metrics)
	a.log.Info("study loaded",
		zap.String("manifest", a.cfg.Manifest),
		zap.Strings("extractors", v.Names()),
		zap.Int("base", len(m.Base)),
		zap.Int("calibration", len(m.Calibration)),
		zap.Int("disputed", len(m.Disputed)))
	return nil
}

// session builds a session from the configured options and classifier.
func (a *app) session() (*unmasking.Session, error) {
	opts, err := a.cfg.Options()
	if err != nil {
		return nil, err
	}
	return a.newSession(opts, a.cfg.Classifier)
}

func (a *app) newSession(opts unmasking.Options, classifier string) (*unmasking.Session, error) {
	factory, err := classify.ByName(classifier)
	if err != nil {
		return nil, err
	}
	a.classifier = classifier
	return unmasking.NewSession(a.library, factory, opts,
		unmasking.WithLogger(a.log),
		unmasking.WithMetrics(a.metrics))
}

func (a *app) preload(ctx context.Context) error {
	start := time.Now()
	if err := a.library.Preload(ctx, a.manifest.All(), a.cfg.Workers); err != nil {
		return fmt.Errorf("vectorize works: %w", err)
	}
	a.log.Info("works vectorized", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// persist stores the session under a new id, writes the JSON, Markdown and
// HTML reports and dumps metrics next to them. parentID names the stored
// calibration a verification reused.
func (a *app) persist(parentID string, s *unmasking.Session) (*workspace.RunInfo, error) {
	id, err := db.PersistSession(a.dbPath, db.Session{
		ParentID:   parentID,
		CreatedAt:  time.Now().UTC(),
		Classifier: a.classifier,
		Manifest:   a.cfg.Manifest,
		State:      s.State(),
		Options:    s.Options(),
		Reference:  s.Reference(),
		Verdicts:   s.Verdicts(),
		Failures:   s.Failures(),
	})
	if err != nil {
		return nil, err
	}

	run, err := workspace.CreateRun(a.root, a.cfg.Manifest, id)
	if err != nil {
		return nil, err
	}
	rep := workspace.Report{
		SessionID:  id,
		ParentID:   parentID,
		Manifest:   a.cfg.Manifest,
		CreatedAt:  time.Now().UTC(),
		State:      s.State().String(),
		Options:    s.Options(),
		Components: a.library.ComponentNames(),
		Reference:  s.Reference(),
		Verdicts:   s.Verdicts(),
		Failures:   workspace.Failures(s.Failures()),
	}
	if err := workspace.SaveReport(run.ReportPath, rep); err != nil {
		return nil, err
	}
	if err := report.Write(run, rep, a.meta); err != nil {
		return nil, err
	}

	metricsPath := a.cfg.MetricsFile
	if metricsPath == "" {
		metricsPath = run.MetricsPath
	}
	if err := a.metrics.WriteTextfile(metricsPath); err != nil {
		a.log.Warn("metrics dump failed", zap.Error(err))
	}
	a.log.Info("session stored", zap.String("session", id), zap.String("dir", run.Root))
	return run, nil
}

func (a *app) close() {
	if a.log != nil {
		_ = a.log.Sync()
	}
}
