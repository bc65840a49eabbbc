// Package sqlite provides SQLite-based persistent storage for run reports.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/nofree-network/nofree/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/runs.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "runs.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			status      TEXT NOT NULL,
			seed        INTEGER NOT NULL,
			topology    TEXT NOT NULL,
			nodes       INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			events      INTEGER NOT NULL,
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER NOT NULL,
			config      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		// Per-node counters; stats is the JSON encoding of domain.NodeStats.
		`CREATE TABLE IF NOT EXISTS node_stats (
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			node_id    INTEGER NOT NULL,
			population TEXT NOT NULL DEFAULT '',
			kindness   REAL NOT NULL,
			share_rate REAL NOT NULL,
			degree     INTEGER NOT NULL,
			stats      TEXT NOT NULL,
			PRIMARY KEY (run_id, node_id)
		)`,

		// Final reputation tables, one row per (node, peer) entry.
		`CREATE TABLE IF NOT EXISTS reputation (
			run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			node_id        INTEGER NOT NULL,
			peer_id        INTEGER NOT NULL,
			accepted       INTEGER NOT NULL,
			total          INTEGER NOT NULL,
			last_update_ns INTEGER NOT NULL,
			valid_until_ns INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, node_id, peer_id)
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Run Repository ─────────────────────────────────────────────────────────

// SaveReport stores a run report with its per-node stats and reputation
// tables, replacing any earlier report with the same id.
func (d *DB) SaveReport(r domain.RunReport) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM runs WHERE id = ?`, r.ID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}
	_, err = tx.Exec(
		`INSERT INTO runs (id, status, seed, topology, nodes, duration_ns, events, started_at, ended_at, config)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Status), int64(r.Seed), r.Topology, r.Nodes,
		int64(r.Duration), r.Events, r.StartedAt.UnixMilli(), r.EndedAt.UnixMilli(), r.Config,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	statsStmt, err := tx.Prepare(
		`INSERT INTO node_stats (run_id, node_id, population, kindness, share_rate, degree, stats)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer statsStmt.Close()

	repStmt, err := tx.Prepare(
		`INSERT INTO reputation (run_id, node_id, peer_id, accepted, total, last_update_ns, valid_until_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer repStmt.Close()

	for _, n := range r.PerNode {
		stats, err := json.Marshal(n.Stats)
		if err != nil {
			return fmt.Errorf("encode stats for %s: %w", n.ID, err)
		}
		if _, err := statsStmt.Exec(r.ID, int(n.ID), n.Population, n.Kindness, n.ShareRate, n.Degree, string(stats)); err != nil {
			return fmt.Errorf("insert stats for %s: %w", n.ID, err)
		}
		for peer, rec := range n.Reputation {
			if _, err := repStmt.Exec(r.ID, int(n.ID), int(peer), rec.Accepted, rec.Total,
				int64(rec.LastUpdate), int64(rec.ValidUntil)); err != nil {
				return fmt.Errorf("insert reputation %s/%s: %w", n.ID, peer, err)
			}
		}
	}

	return tx.Commit()
}

// ListRuns returns run summaries (without per-node data), most recent first.
// limit <= 0 returns every run.
func (d *DB) ListRuns(limit int) ([]domain.RunReport, error) {
	query := `SELECT id, status, seed, topology, nodes, duration_ns, events, started_at, ended_at, config
		 FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns a full report. It returns domain.ErrRunNotFound for an
// unknown id.
func (d *DB) GetRun(id string) (*domain.RunReport, error) {
	row := d.db.QueryRow(
		`SELECT id, status, seed, topology, nodes, duration_ns, events, started_at, ended_at, config
		 FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := d.db.Query(
		`SELECT node_id, population, kindness, share_rate, degree, stats
		 FROM node_stats WHERE run_id = ? ORDER BY node_id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := make(map[domain.PeerID]int)
	for rows.Next() {
		var n domain.NodeReport
		var nodeID int
		var stats string
		if err := rows.Scan(&nodeID, &n.Population, &n.Kindness, &n.ShareRate, &n.Degree, &stats); err != nil {
			return nil, err
		}
		n.ID = domain.PeerID(nodeID)
		n.Stats = domain.NewNodeStats()
		if err := json.Unmarshal([]byte(stats), &n.Stats); err != nil {
			return nil, fmt.Errorf("decode stats for %s: %w", n.ID, err)
		}
		n.Reputation = make(map[domain.PeerID]domain.ReputationRecord)
		index[n.ID] = len(r.PerNode)
		r.PerNode = append(r.PerNode, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reps, err := d.reputation(id, nil)
	if err != nil {
		return nil, err
	}
	for key, rec := range reps {
		if i, ok := index[key.node]; ok {
			r.PerNode[i].Reputation[key.peer] = rec
		}
	}
	return r, nil
}

// NodeReputation returns one node's final reputation table from a run.
func (d *DB) NodeReputation(runID string, node domain.PeerID) (map[domain.PeerID]domain.ReputationRecord, error) {
	var exists int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM node_stats WHERE run_id = ? AND node_id = ?`, runID, int(node),
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		if _, err := d.runExists(runID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s in run %s", domain.ErrNodeNotFound, node, runID)
	}

	reps, err := d.reputation(runID, &node)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.PeerID]domain.ReputationRecord, len(reps))
	for key, rec := range reps {
		out[key.peer] = rec
	}
	return out, nil
}

// DeleteRun removes a run and everything stored with it.
func (d *DB) DeleteRun(id string) error {
	result, err := d.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return nil
}

// ─── Meta ───────────────────────────────────────────────────────────────────

// SetMeta stores a key-value pair.
func (d *DB) SetMeta(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetMeta retrieves a value, or "" when the key is unset.
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.RunReport, error) {
	var r domain.RunReport
	var status string
	var seed, durationNS, startedAt, endedAt int64

	err := s.Scan(&r.ID, &status, &seed, &r.Topology, &r.Nodes,
		&durationNS, &r.Events, &startedAt, &endedAt, &r.Config)
	if err != nil {
		return nil, err
	}

	r.Status = domain.RunStatus(status)
	r.Seed = uint64(seed)
	r.Duration = time.Duration(durationNS)
	r.StartedAt = time.UnixMilli(startedAt)
	r.EndedAt = time.UnixMilli(endedAt)
	return &r, nil
}

type repKey struct {
	node, peer domain.PeerID
}

func (d *DB) reputation(runID string, node *domain.PeerID) (map[repKey]domain.ReputationRecord, error) {
	query := `SELECT node_id, peer_id, accepted, total, last_update_ns, valid_until_ns
		 FROM reputation WHERE run_id = ?`
	args := []any{runID}
	if node != nil {
		query += ` AND node_id = ?`
		args = append(args, int(*node))
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[repKey]domain.ReputationRecord)
	for rows.Next() {
		var nodeID, peerID int
		var rec domain.ReputationRecord
		var lastUpdate, validUntil int64
		if err := rows.Scan(&nodeID, &peerID, &rec.Accepted, &rec.Total, &lastUpdate, &validUntil); err != nil {
			return nil, err
		}
		rec.LastUpdate = time.Duration(lastUpdate)
		rec.ValidUntil = time.Duration(validUntil)
		out[repKey{node: domain.PeerID(nodeID), peer: domain.PeerID(peerID)}] = rec
	}
	return out, rows.Err()
}

func (d *DB) runExists(id string) (bool, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM runs WHERE id = ?`, id).Scan(&n); err != nil {
		return false, err
	}
	if n == 0 {
		return false, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return true, nil
}
