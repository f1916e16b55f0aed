// Package store persists the hub's controller state: the node list with its
// cached status, the auto-play schedule, and the last-used playback spec.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/strefethen/heartbeat-hub-go/internal/fleet"
	"github.com/strefethen/heartbeat-hub-go/internal/protocol"
	"github.com/strefethen/heartbeat-hub-go/internal/scheduler"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
  name TEXT PRIMARY KEY,
  host TEXT NOT NULL,
  port INTEGER NOT NULL DEFAULT 9915,
  position INTEGER NOT NULL,
  reachability TEXT NOT NULL DEFAULT 'Unknown',
  is_playing INTEGER NOT NULL DEFAULT 0,
  current_file TEXT,
  last_request TEXT,
  updated_at TEXT
);

CREATE TABLE IF NOT EXISTS schedule (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  enabled INTEGER NOT NULL DEFAULT 0,
  interval_minutes INTEGER NOT NULL DEFAULT 0,
  start_time TEXT NOT NULL DEFAULT '00:00',
  end_time TEXT NOT NULL DEFAULT '23:59',
  last_fired_at TEXT
);

CREATE TABLE IF NOT EXISTS playback_spec (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  filename TEXT NOT NULL,
  volume INTEGER NOT NULL DEFAULT 75,
  playcount INTEGER NOT NULL DEFAULT 1
);
`

// Store wraps separate read and write connections for optimal SQLite
// concurrency. With WAL mode, readers don't block writers and vice versa.
type Store struct {
	reader *sql.DB
	writer *sql.DB
}

// Open opens the SQLite database, applies pragmas and the schema, and
// returns the store.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	writerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=rwc", dbPath)
	writer, err := sql.Open("sqlite3", writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1) // SQLite serializes writes anyway
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	readerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=ro", dbPath)
	reader, err := sql.Open("sqlite3", readerConnStr)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	return &Store{reader: reader, writer: writer}, nil
}

// Close closes both database connections.
func (s *Store) Close() error {
	var errs []error
	if err := s.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := s.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// SaveNodes replaces the persisted node list, preserving registry order.
func (s *Store) SaveNodes(nodes []fleet.Node) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM nodes"); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO nodes (name, host, port, position, reachability, is_playing, current_file, last_request, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, node := range nodes {
		var updatedAt any
		if !node.LastUpdated.IsZero() {
			updatedAt = node.LastUpdated.UTC().Format(time.RFC3339)
		}
		if _, err := stmt.Exec(
			node.Name, node.Host, node.Port, i,
			string(node.Reachability), boolToInt(node.IsPlaying),
			nullable(node.CurrentFile), nullable(node.LastRequest), updatedAt,
		); err != nil {
			return fmt.Errorf("insert node %s: %w", node.Name, err)
		}
	}

	return tx.Commit()
}

// LoadNodes returns the persisted node list in registry order.
func (s *Store) LoadNodes() ([]fleet.Node, error) {
	rows, err := s.reader.Query(`
		SELECT name, host, port, reachability, is_playing, current_file, last_request, updated_at
		FROM nodes
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []fleet.Node
	for rows.Next() {
		var node fleet.Node
		var reachability string
		var isPlaying int
		var currentFile, lastRequest, updatedAt sql.NullString
		if err := rows.Scan(&node.Name, &node.Host, &node.Port, &reachability, &isPlaying, &currentFile, &lastRequest, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		node.Reachability = fleet.Reachability(reachability)
		node.IsPlaying = isPlaying != 0
		node.CurrentFile = currentFile.String
		node.LastRequest = lastRequest.String
		if updatedAt.Valid {
			if parsed, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
				node.LastUpdated = parsed
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// SaveSchedule upserts the singleton schedule row. Implements
// scheduler.Store.
func (s *Store) SaveSchedule(cfg scheduler.Config) error {
	var lastFired any
	if cfg.LastFiredAt != nil {
		lastFired = cfg.LastFiredAt.UTC().Format(time.RFC3339)
	}
	_, err := s.writer.Exec(`
		INSERT INTO schedule (id, enabled, interval_minutes, start_time, end_time, last_fired_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			interval_minutes = excluded.interval_minutes,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			last_fired_at = excluded.last_fired_at
	`, boolToInt(cfg.Enabled), cfg.IntervalMinutes, cfg.StartTime, cfg.EndTime, lastFired)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// LoadSchedule returns the persisted schedule config, or found=false when
// none has been saved yet.
func (s *Store) LoadSchedule() (cfg scheduler.Config, found bool, err error) {
	var enabled int
	var lastFired sql.NullString
	row := s.reader.QueryRow(`
		SELECT enabled, interval_minutes, start_time, end_time, last_fired_at
		FROM schedule WHERE id = 1
	`)
	if err := row.Scan(&enabled, &cfg.IntervalMinutes, &cfg.StartTime, &cfg.EndTime, &lastFired); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scheduler.Config{}, false, nil
		}
		return scheduler.Config{}, false, fmt.Errorf("load schedule: %w", err)
	}
	cfg.Enabled = enabled != 0
	if lastFired.Valid {
		if parsed, err := time.Parse(time.RFC3339, lastFired.String); err == nil {
			cfg.LastFiredAt = &parsed
		}
	}
	return cfg, true, nil
}

// SavePlaybackSpec upserts the last-used playback spec.
func (s *Store) SavePlaybackSpec(spec protocol.PlaybackSpec) error {
	_, err := s.writer.Exec(`
		INSERT INTO playback_spec (id, filename, volume, playcount)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			volume = excluded.volume,
			playcount = excluded.playcount
	`, spec.Filename, spec.Volume, spec.PlayCount)
	if err != nil {
		return fmt.Errorf("save playback spec: %w", err)
	}
	return nil
}

// LoadPlaybackSpec returns the persisted last-used spec, or found=false.
func (s *Store) LoadPlaybackSpec() (spec protocol.PlaybackSpec, found bool, err error) {
	row := s.reader.QueryRow("SELECT filename, volume, playcount FROM playback_spec WHERE id = 1")
	if err := row.Scan(&spec.Filename, &spec.Volume, &spec.PlayCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.PlaybackSpec{}, false, nil
		}
		return protocol.PlaybackSpec{}, false, fmt.Errorf("load playback spec: %w", err)
	}
	return spec, true, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
