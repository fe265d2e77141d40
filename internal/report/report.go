// Package report renders a run as Markdown and, through goldmark, as HTML.
package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"unmasking/internal/corpus"
	"unmasking/internal/workspace"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown describes the reference curves and every verdict of r. Works are
// named through meta when it knows them.
func Markdown(r workspace.Report, meta *corpus.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Unmasking report\n\n")
	fmt.Fprintf(&b, "- Session: `%s`\n", r.SessionID)
	if r.ParentID != "" {
		fmt.Fprintf(&b, "- Calibration: `%s`\n", r.ParentID)
	}
	if r.Manifest != "" {
		fmt.Fprintf(&b, "- Manifest: `%s`\n", r.Manifest)
	}
	if !r.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "- Created: %s\n", r.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&b, "- State: %s\n", r.State)
	fmt.Fprintf(&b, "- Selections: %d, step %d, trials %d, smoothing %d\n",
		r.Options.Selections, r.Options.Curve.Step, r.Options.Curve.Trials, r.Options.Smoothing)
	if len(r.Components) > 0 {
		fmt.Fprintf(&b, "- Components: %d\n", len(r.Components))
	}

	b.WriteString("\n## Reference curves\n\n")
	b.WriteString("| Removed | Same author | Different author |\n|---:|---:|---:|\n")
	for i, p := range r.Reference.Same.Points {
		diff := "-"
		if i < r.Reference.Different.Len() {
			diff = fmt.Sprintf("%.4f", r.Reference.Different.Points[i].Precision)
		}
		fmt.Fprintf(&b, "| %d | %.4f | %s |\n", p.Removed, p.Precision, diff)
	}

	b.WriteString("\n## Verdicts\n\n")
	if len(r.Verdicts) == 0 {
		b.WriteString("No disputed work was verified.\n")
	} else {
		b.WriteString("| Work | Verdict | Distance to same | Distance to different | Confidence |\n|---|---|---:|---:|---:|\n")
		for _, v := range r.Verdicts {
			verdict := "not attributed"
			if v.AttributedToBase {
				verdict = "**attributed to base author**"
			}
			fmt.Fprintf(&b, "| %s | %s | %.4f | %.4f | %.0f%% |\n",
				escape(meta.Describe(v.Work)), verdict, v.DistanceToSame, v.DistanceToDifferent, 100*v.Confidence)
		}
	}

	if len(r.Failures) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "- %s: %s\n", meta.Describe(f.Work), f.Error)
		}
	}
	return b.String()
}

func HTML(md string) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Unmasking report</title></head><body>\n")
	out.Write(body.Bytes())
	out.WriteString("</body></html>\n")
	return out.Bytes(), nil
}

// Write renders r to the Markdown and HTML paths of run.
func Write(run *workspace.RunInfo, r workspace.Report, meta *corpus.Metadata) error {
	md := Markdown(r, meta)
	if err := os.WriteFile(run.MarkdownPath, []byte(md), 0o644); err != nil {
		return fmt.Errorf("write markdown report: %w", err)
	}
	html, err := HTML(md)
	if err != nil {
		return err
	}
	if err := os.WriteFile(run.HTMLPath, html, 0o644); err != nil {
		return fmt.Errorf("write html report: %w", err)
	}
	return nil
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
