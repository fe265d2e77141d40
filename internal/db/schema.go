package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const SchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    parent_id TEXT,
    created_at TEXT,
    manifest TEXT,
    state TEXT,
    classifier TEXT,
    options TEXT
);

CREATE TABLE IF NOT EXISTS reference_curves (
    id INTEGER PRIMARY KEY,
    session_id TEXT,
    kind TEXT,
    points TEXT
);

CREATE TABLE IF NOT EXISTS verdicts (
    id INTEGER PRIMARY KEY,
    session_id TEXT,
    author TEXT,
    number INTEGER,
    attributed INTEGER,
    distance_same REAL,
    distance_different REAL,
    confidence REAL,
    points TEXT
);

CREATE TABLE IF NOT EXISTS failures (
    id INTEGER PRIMARY KEY,
    session_id TEXT,
    author TEXT,
    number INTEGER,
    message TEXT
);
`

func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(SchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
