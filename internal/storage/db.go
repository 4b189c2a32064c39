package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"dossiers/internal"
)

const MetaLastRunID = "last_run_id"

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  source TEXT NOT NULL,
  rowCount INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'running',
  statsJson TEXT NOT NULL DEFAULT '{}',
  startedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  finishedAt TEXT
);

CREATE TABLE IF NOT EXISTS sheets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  rowIndex INTEGER NOT NULL,
  identifier TEXT NOT NULL,
  folder TEXT NOT NULL,
  path TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  FOREIGN KEY(runId) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_sheets_run ON sheets(runId);

CREATE TABLE IF NOT EXISTS letters (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  department TEXT NOT NULL,
  city TEXT NOT NULL,
  letterPath TEXT NOT NULL,
  recipientsPath TEXT NOT NULL,
  sheetCount INTEGER NOT NULL,
  FOREIGN KEY(runId) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS merges (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  folder TEXT NOT NULL,
  path TEXT NOT NULL,
  sourcesJson TEXT NOT NULL,
  FOREIGN KEY(runId) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS failures (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  runId INTEGER NOT NULL,
  scope TEXT NOT NULL,
  key TEXT NOT NULL,
  reason TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(runId) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS communes (
  city TEXT NOT NULL,
  postalCode TEXT NOT NULL,
  insee TEXT NOT NULL,
  name TEXT NOT NULL,
  population INTEGER NOT NULL,
  townHall TEXT NOT NULL,
  resolvedAt TEXT NOT NULL,
  PRIMARY KEY(city, postalCode)
);

CREATE TABLE IF NOT EXISTS imports (
  hash TEXT PRIMARY KEY,
  path TEXT NOT NULL,
  runId INTEGER,
  importedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

func (d *DB) StartRun(source string, rows int) (int64, error) {
	res, err := d.conn.Exec(`INSERT INTO runs (source, rowCount) VALUES (?, ?)`, source, rows)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (d *DB) FinishRun(runID int64, status string, stats map[string]int) error {
	statsJSON, _ := json.Marshal(stats)
	if _, err := d.conn.Exec(`UPDATE runs SET status = ?, statsJson = ?, finishedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, string(statsJSON), runID); err != nil {
		return err
	}
	return d.SetMetadata(MetaLastRunID, strconv.FormatInt(runID, 10))
}

func (d *DB) RecordSheet(runID int64, s internal.GeneratedSheet) error {
	_, err := d.conn.Exec(`
INSERT INTO sheets (runId, rowIndex, identifier, folder, path, status, error)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, runID, s.RowIndex, s.Identifier, s.Folder, s.Path, string(s.Status), s.Error)
	return err
}

func (d *DB) RecordLetter(runID int64, l internal.GeneratedLetter) error {
	_, err := d.conn.Exec(`
INSERT INTO letters (runId, department, city, letterPath, recipientsPath, sheetCount)
VALUES (?, ?, ?, ?, ?, ?)
`, runID, l.Key.Department, l.Key.City, l.LetterPath, l.RecipientsPath, l.SheetCount)
	return err
}

func (d *DB) RecordMerge(runID int64, m internal.MergedDossier) error {
	sourcesJSON, _ := json.Marshal(m.Sources)
	_, err := d.conn.Exec(`INSERT INTO merges (runId, folder, path, sourcesJson) VALUES (?, ?, ?, ?)`, runID, m.Folder, m.Path, string(sourcesJSON))
	return err
}

func (d *DB) RecordFailure(runID int64, f internal.Failure) error {
	_, err := d.conn.Exec(`INSERT INTO failures (runId, scope, key, reason) VALUES (?, ?, ?, ?)`, runID, string(f.Scope), f.Key, f.Reason)
	return err
}

type RunRow struct {
	ID         int64
	Source     string
	RowCount   int
	Status     string
	Stats      map[string]int
	StartedAt  string
	FinishedAt *string
}

func (d *DB) GetRun(runID int64) (*RunRow, error) {
	var row RunRow
	var statsJSON string
	var finished sql.NullString
	err := d.conn.QueryRow(`SELECT id, source, rowCount, status, statsJson, startedAt, finishedAt FROM runs WHERE id = ?`, runID).
		Scan(&row.ID, &row.Source, &row.RowCount, &row.Status, &statsJSON, &row.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(statsJSON), &row.Stats)
	if finished.Valid {
		row.FinishedAt = &finished.String
	}
	return &row, nil
}

// LastRunID returns the id of the most recently finished run, 0 if none.
func (d *DB) LastRunID() (int64, error) {
	value, err := d.GetMetadata(MetaLastRunID)
	if err != nil || value == nil {
		return 0, err
	}
	return strconv.ParseInt(*value, 10, 64)
}

// ReportRows lists everything a run produced: sheets in row order, then letters, merges and failures.
func (d *DB) ReportRows(runID int64) ([]internal.ReportRow, error) {
	rows, err := d.conn.Query(`
SELECT 'sheet', CAST(rowIndex AS TEXT), identifier, path, status, error, 1 AS part, rowIndex AS ord FROM sheets WHERE runId = ?
UNION ALL
SELECT 'letter', department || ' ' || city, '', letterPath, 'generated', sheetCount || ' fiches', 2, id FROM letters WHERE runId = ?
UNION ALL
SELECT 'merge', folder, '', path, 'generated', json_array_length(sourcesJson) || ' sources', 3, id FROM merges WHERE runId = ?
UNION ALL
SELECT 'failure', key, '', '', scope, reason, 4, id FROM failures WHERE runId = ?
ORDER BY part, ord
`, runID, runID, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.ReportRow
	for rows.Next() {
		var row internal.ReportRow
		var part, ord int64
		if err := rows.Scan(&row.Kind, &row.Key, &row.Identifier, &row.Path, &row.Status, &row.Detail, &part, &ord); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// CachedCommune returns the stored resolution of (city, postalCode), or nil when
// absent or older than maxAge. A non-positive maxAge never expires.
func (d *DB) CachedCommune(city, postalCode string, maxAge time.Duration) (*internal.CachedCommune, error) {
	var c internal.CachedCommune
	var resolvedAt string
	err := d.conn.QueryRow(`
SELECT city, postalCode, insee, name, population, townHall, resolvedAt
FROM communes WHERE city = ? AND postalCode = ?
`, city, postalCode).Scan(&c.City, &c.PostalCode, &c.INSEE, &c.Name, &c.Population, &c.TownHallLines, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ResolvedAt, err = time.Parse(time.RFC3339, resolvedAt)
	if err != nil {
		return nil, fmt.Errorf("commune %s: bad resolvedAt %q", city, resolvedAt)
	}
	if maxAge > 0 && time.Since(c.ResolvedAt) > maxAge {
		return nil, nil
	}
	return &c, nil
}

func (d *DB) StoreCommune(c internal.CachedCommune) error {
	if c.ResolvedAt.IsZero() {
		c.ResolvedAt = time.Now().UTC()
	}
	_, err := d.conn.Exec(`
INSERT INTO communes (city, postalCode, insee, name, population, townHall, resolvedAt)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(city, postalCode) DO UPDATE SET
  insee = excluded.insee,
  name = excluded.name,
  population = excluded.population,
  townHall = excluded.townHall,
  resolvedAt = excluded.resolvedAt
`, c.City, c.PostalCode, c.INSEE, c.Name, c.Population, c.TownHallLines, c.ResolvedAt.UTC().Format(time.RFC3339))
	return err
}

func (d *DB) HasImport(hash string) (bool, error) {
	var n int
	if err := d.conn.QueryRow(`SELECT COUNT(1) FROM imports WHERE hash = ?`, hash).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) RecordImport(hash, path string, runID int64) error {
	_, err := d.conn.Exec(`
INSERT INTO imports (hash, path, runId) VALUES (?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET path = excluded.path, runId = excluded.runId, importedAt = CURRENT_TIMESTAMP
`, hash, path, runID)
	return err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
