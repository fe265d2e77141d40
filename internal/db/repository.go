package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"unmasking/internal/curve"
	"unmasking/internal/unmasking"
)

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoSession is returned when no stored session matches a lookup.
var ErrNoSession = errors.New("no stored session")

// Session is one persisted run. A verification run that reused a stored
// calibration names it in ParentID.
type Session struct {
	ID         string
	ParentID   string
	CreatedAt  time.Time
	Classifier string
	Manifest  string
	State     unmasking.State
	Options   unmasking.Options
	Reference unmasking.ReferencePair
	Verdicts  []unmasking.Verdict
	Failures  []unmasking.Failure
}

type Summary struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Manifest  string    `json:"manifest"`
	State     string    `json:"state"`
	Verdicts  int       `json:"verdicts"`
}

// PersistSession stores s and returns its id, generating one when s.ID is
// empty. Storing an existing id replaces the earlier rows.
func PersistSession(dbPath string, s Session) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	conn, err := Open(dbPath)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	tx, err := conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"sessions", "reference_curves", "verdicts", "failures"} {
		col := "session_id"
		if table == "sessions" {
			col = "id"
		}
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE `+col+` = ?`, s.ID); err != nil {
			return "", fmt.Errorf("clear %s: %w", table, err)
		}
	}

	options, err := json.Marshal(s.Options)
	if err != nil {
		return "", fmt.Errorf("marshal options: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO sessions(id, parent_id, created_at, manifest, state, classifier, options) VALUES(?,?,?,?,?,?,?)`,
		s.ID,
		s.ParentID,
		s.CreatedAt.UTC().Format(timeLayout),
		s.Manifest,
		s.State.String(),
		s.Classifier,
		string(options),
	); err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}

	refs := []struct {
		kind  unmasking.Kind
		curve curve.Curve
	}{
		{unmasking.KindSame, s.Reference.Same},
		{unmasking.KindDifferent, s.Reference.Different},
	}
	for _, r := range refs {
		kind := r.kind
		points, err := json.Marshal(r.curve.Points)
		if err != nil {
			return "", fmt.Errorf("marshal %s curve: %w", kind, err)
		}
		if _, err := tx.Exec(`INSERT INTO reference_curves(session_id, kind, points) VALUES(?,?,?)`, s.ID, string(kind), string(points)); err != nil {
			return "", fmt.Errorf("insert reference curve: %w", err)
		}
	}

	for _, v := range s.Verdicts {
		points, err := json.Marshal(v.Curve.Points)
		if err != nil {
			return "", fmt.Errorf("marshal verdict curve: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO verdicts(session_id, author, number, attributed, distance_same, distance_different, confidence, points) VALUES(?,?,?,?,?,?,?,?)`,
			s.ID,
			v.Work.Author,
			v.Work.Number,
			v.AttributedToBase,
			v.DistanceToSame,
			v.DistanceToDifferent,
			v.Confidence,
			string(points),
		); err != nil {
			return "", fmt.Errorf("insert verdict: %w", err)
		}
	}

	for _, f := range s.Failures {
		if _, err := tx.Exec(
			`INSERT INTO failures(session_id, author, number, message) VALUES(?,?,?,?)`,
			s.ID, f.Work.Author, f.Work.Number, f.Err.Error(),
		); err != nil {
			return "", fmt.Errorf("insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return s.ID, nil
}

// Calibration is what a later verification needs from a stored session.
type Calibration struct {
	ID         string
	Classifier string
	Options    unmasking.Options
	Reference  unmasking.ReferencePair
}

// LoadReference returns the calibration stored by sessionID, or by the most
// recent session when sessionID is empty.
func LoadReference(dbPath, sessionID string) (Calibration, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return Calibration{}, err
	}
	defer conn.Close()

	var row *sql.Row
	if sessionID == "" {
		row = conn.QueryRow(`SELECT id, COALESCE(classifier, ''), options FROM sessions ORDER BY created_at DESC LIMIT 1`)
	} else {
		row = conn.QueryRow(`SELECT id, COALESCE(classifier, ''), options FROM sessions WHERE id = ?`, sessionID)
	}
	var (
		cal     Calibration
		options string
	)
	if err := row.Scan(&cal.ID, &cal.Classifier, &options); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if sessionID == "" {
				return Calibration{}, ErrNoSession
			}
			return Calibration{}, fmt.Errorf("%w: %s", ErrNoSession, sessionID)
		}
		return Calibration{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &cal.Options); err != nil {
		return Calibration{}, fmt.Errorf("decode options of %s: %w", cal.ID, err)
	}

	rows, err := conn.Query(`SELECT kind, points FROM reference_curves WHERE session_id = ?`, cal.ID)
	if err != nil {
		return Calibration{}, fmt.Errorf("query reference curves: %w", err)
	}
	defer rows.Close()

	found := 0
	for rows.Next() {
		var kind, raw string
		if err := rows.Scan(&kind, &raw); err != nil {
			return Calibration{}, fmt.Errorf("scan reference curve: %w", err)
		}
		var points []curve.Point
		if err := json.Unmarshal([]byte(raw), &points); err != nil {
			return Calibration{}, fmt.Errorf("decode %s curve: %w", kind, err)
		}
		switch unmasking.Kind(kind) {
		case unmasking.KindSame:
			cal.Reference.Same = curve.Curve{Points: points}
		case unmasking.KindDifferent:
			cal.Reference.Different = curve.Curve{Points: points}
		default:
			continue
		}
		found++
	}
	if err := rows.Err(); err != nil {
		return Calibration{}, fmt.Errorf("iterate reference curves: %w", err)
	}
	if found < 2 || cal.Reference.Same.Len() == 0 {
		return Calibration{}, fmt.Errorf("%w: %s has no reference curves", ErrNoSession, cal.ID)
	}
	return cal, nil
}

// LoadVerdicts returns the verdicts of sessionID in insertion order.
func LoadVerdicts(dbPath, sessionID string) ([]unmasking.Verdict, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.Query(
		`SELECT author, number, attributed, distance_same, distance_different, confidence, points FROM verdicts WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	var out []unmasking.Verdict
	for rows.Next() {
		var (
			v   unmasking.Verdict
			raw string
		)
		if err := rows.Scan(&v.Work.Author, &v.Work.Number, &v.AttributedToBase, &v.DistanceToSame, &v.DistanceToDifferent, &v.Confidence, &raw); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v.Curve.Points); err != nil {
			return nil, fmt.Errorf("decode verdict curve: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return out, nil
}

// ListSessions returns stored sessions, newest first.
func ListSessions(dbPath string) ([]Summary, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.Query(`
SELECT s.id, COALESCE(s.parent_id, ''), s.created_at, s.manifest, s.state, COUNT(v.id)
FROM sessions s LEFT JOIN verdicts v ON v.session_id = s.id
GROUP BY s.id
ORDER BY s.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s       Summary
			created string
		)
		if err := rows.Scan(&s.ID, &s.ParentID, &created, &s.Manifest, &s.State, &s.Verdicts); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.CreatedAt, err = time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func CountRows(dbPath, table string) (int, error) {
	conn, err := Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	return countRowsConn(conn, table)
}

func countRowsConn(conn *sql.DB, table string) (int, error) {
	row := conn.QueryRow(`SELECT COUNT(*) FROM ` + table)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("scan count: %w", err)
	}
	return count, nil
}
