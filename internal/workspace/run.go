package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"unmasking/internal/unit"
	"unmasking/internal/unmasking"
)

// Report is the JSON record of one run.
type Report struct {
	SessionID  string                  `json:"session_id"`
	ParentID   string                  `json:"parent_id,omitempty"`
	Manifest   string                  `json:"manifest"`
	CreatedAt  time.Time               `json:"created_at"`
	State      string                  `json:"state"`
	Options    unmasking.Options       `json:"options"`
	Components []string                `json:"components,omitempty"`
	Reference  unmasking.ReferencePair `json:"reference"`
	Verdicts   []unmasking.Verdict     `json:"verdicts"`
	Failures   []FailureEntry          `json:"failures,omitempty"`
}

type FailureEntry struct {
	Work  unit.WorkID `json:"work"`
	Error string      `json:"error"`
}

func Failures(fs []unmasking.Failure) []FailureEntry {
	out := make([]FailureEntry, len(fs))
	for i, f := range fs {
		out[i] = FailureEntry{Work: f.Work, Error: f.Err.Error()}
	}
	return out
}

type RunInfo struct {
	StudyID      string
	Root         string
	ReportPath   string
	MarkdownPath string
	HTMLPath     string
	MetricsPath  string
}

// CreateRun lays out studies/<study>/<session> for a manifest and session.
func CreateRun(workspaceRoot, manifestPath, sessionID string) (*RunInfo, error) {
	studyID := studyHash(manifestPath)
	runRoot := filepath.Join(workspaceRoot, "studies", studyID, sanitizeName(sessionID))
	if err := os.MkdirAll(runRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &RunInfo{
		StudyID:      studyID,
		Root:         runRoot,
		ReportPath:   filepath.Join(runRoot, "report.json"),
		MarkdownPath: filepath.Join(runRoot, "report.md"),
		HTMLPath:     filepath.Join(runRoot, "report.html"),
		MetricsPath:  filepath.Join(runRoot, "metrics.prom"),
	}, nil
}

func SaveReport(path string, report Report) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func LoadReport(path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

func studyHash(manifestPath string) string {
	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		abs = manifestPath
	}
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return sanitizeName(stem) + "-" + hex.EncodeToString(sum[:])[:12]
}

func sanitizeName(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "run"
	}
	return strings.ReplaceAll(base, "..", "")
}
