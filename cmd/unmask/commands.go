package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"unmasking/internal/config"
	"unmasking/internal/db"
	"unmasking/internal/unit"
	"unmasking/internal/unmasking"
	"unmasking/internal/workspace"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg}

	root := &cobra.Command{
		Use:   "unmask",
		Short: "Authorship verification by unmasking",
		Long: `unmask decides whether disputed works were written by a base author.

It builds degradation curves: a classifier separates two sets of text chunks
while the most discriminating stylometric features are removed step by step.
Curves from same-author and different-author comparisons calibrate the
decision; each disputed work is attributed to the closer reference curve.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&cfg.Manifest, "manifest", cfg.Manifest, "study manifest (YAML)")
	f.StringVar(&cfg.Workspace, "workspace", cfg.Workspace, "output directory (default ~/"+workspace.BaseDirName+")")
	f.StringVar(&cfg.DBFile, "db", cfg.DBFile, "session database (default <workspace>/db/sessions.db)")
	f.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write prometheus metrics to this file")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	f.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "log as JSON")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "parallel selections and trials (0 = all CPUs for vectorization)")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")

	root.AddCommand(
		newRunCmd(a),
		newCalibrateCmd(a),
		newVerifyCmd(a),
		newWorksCmd(a),
		newInfoCmd(a),
	)
	return root
}

func addEngineFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.Classifier, "classifier", cfg.Classifier, "classifier name")
	f.IntVar(&cfg.Selections, "selections", cfg.Selections, "random work selections per curve")
	f.IntVar(&cfg.WorksPerGroup, "works-per-group", cfg.WorksPerGroup, "works drawn per group")
	f.IntVar(&cfg.Step, "step", cfg.Step, "dimensions removed per level")
	f.IntVar(&cfg.Trials, "trials", cfg.Trials, "classifier trials per level")
	f.IntVar(&cfg.SampleSize, "sample-size", cfg.SampleSize, "maximum evaluation sample per trial")
	f.IntVar(&cfg.Divisor, "divisor", cfg.Divisor, "evaluation sample is at most pool/divisor")
	f.IntVar(&cfg.Smoothing, "smoothing", cfg.Smoothing, "smoothing passes on mean curves")
	f.StringVar(&cfg.Balance, "balance", cfg.Balance, "none, subsample or merge")
	f.StringVar(&cfg.Normalize, "normalize", cfg.Normalize, "none, zscore or minmax")
	f.StringVar(&cfg.ZeroRange, "zero-range", cfg.ZeroRange, "min-max constant columns: propagate, zero or error")
	f.IntVar(&cfg.MaxDisjointRetries, "max-disjoint-retries", cfg.MaxDisjointRetries, "attempts to draw disjoint base groups")
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Calibrate on the manifest and verify its disputed works",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.calibrated(ctx)
			if err != nil {
				return err
			}
			return a.verify(ctx, cmd.OutOrStdout(), "", s)
		},
	}
	addEngineFlags(cmd, a.cfg)
	return cmd
}

func newCalibrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Build and store the reference curves only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.calibrated(cmd.Context())
			if err != nil {
				return err
			}
			run, err := a.persist("", s)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reference curves stored in %s\n", run.Root)
			return nil
		},
	}
	addEngineFlags(cmd, a.cfg)
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify disputed works against stored reference curves",
		Long: `Verify restores the reference curves of a stored session together with
the options and classifier they were built with, so observed curves follow
the same schedule. The verification is stored as a new session linked to
the calibration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.loadStudy(); err != nil {
				return err
			}
			cal, err := db.LoadReference(a.dbPath, sessionID)
			if err != nil {
				return err
			}
			opts := cal.Options
			opts.Workers = a.cfg.Workers
			opts.Curve.Workers = a.cfg.Workers
			classifier := cal.Classifier
			if classifier == "" {
				classifier = a.cfg.Classifier
			}
			s, err := a.newSession(opts, classifier)
			if err != nil {
				return err
			}
			if err := s.SetReference(cal.Reference); err != nil {
				return fmt.Errorf("restore session %s: %w", cal.ID, err)
			}
			if err := a.preload(ctx); err != nil {
				return err
			}
			return a.verify(ctx, cmd.OutOrStdout(), cal.ID, s)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "stored session id (default: latest)")
	return cmd
}

func newWorksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "works",
		Short: "List the works of the manifest and their chunk counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.loadStudy(); err != nil {
				return err
			}
			if err := a.preload(ctx); err != nil {
				return err
			}
			roles := map[unit.WorkID][]string{}
			for _, r := range []struct {
				name string
				ids  []unit.WorkID
			}{
				{"base", a.manifest.Base},
				{"calibration", a.manifest.Calibration},
				{"disputed", a.manifest.Disputed},
			} {
				for _, id := range r.ids {
					roles[id] = append(roles[id], r.name)
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WORK\tCHUNKS\tROLE\tTITLE")
			for _, id := range a.manifest.All() {
				units, err := a.library.Units(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", id, len(units), joinRoles(roles[id]), a.meta.Describe(id))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d components: %v\n", len(a.library.ComponentNames()), a.library.ComponentNames())
			return nil
		},
	}
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := db.ListSessions(a.dbPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workspace: %s\ndatabase:  %s\n", a.root, a.dbPath)
			if len(sessions) == 0 {
				fmt.Fprintln(out, "no stored sessions")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tCREATED\tSTATE\tVERDICTS\tMANIFEST")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.State, s.Verdicts, s.Manifest)
			}
			return w.Flush()
		},
	}
}

func (a *app) calibrated(ctx context.Context) (*unmasking.Session, error) {
	if err := a.loadStudy(); err != nil {
		return nil, err
	}
	s, err := a.session()
	if err != nil {
		return nil, err
	}
	if err := a.preload(ctx); err != nil {
		return nil, err
	}
	if _, err := s.Calibrate(ctx, a.manifest.Base, a.manifest.Calibration); err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}
	return s, nil
}

// verify judges the disputed works, stores the session and prints one line
// per work. Per-work failures are reported but do not fail the command.
func (a *app) verify(ctx context.Context, out io.Writer, parentID string, s *unmasking.Session) error {
	_, err := s.Verify(ctx, a.manifest.Base, a.manifest.Disputed)
	var shape *unit.ShapeMismatchError
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, unmasking.ErrNotCalibrated) || errors.As(err, &shape)) {
		return err
	}
	run, perr := a.persist(parentID, s)
	if perr != nil {
		return perr
	}

	for _, v := range s.Verdicts() {
		verdict := "not attributed to the base author"
		if v.AttributedToBase {
			verdict = "attributed to the base author"
		}
		fmt.Fprintf(out, "%s: %s (confidence %.0f%%)\n", a.meta.Describe(v.Work), verdict, 100*v.Confidence)
	}
	for _, f := range s.Failures() {
		fmt.Fprintf(out, "%s: failed: %v\n", a.meta.Describe(f.Work), f.Err)
	}
	fmt.Fprintf(out, "report: %s\n", run.MarkdownPath)
	return nil
}

func joinRoles(roles []string) string {
	if len(roles) == 0 {
		return "-"
	}
	return strings.Join(roles, ",")
}
