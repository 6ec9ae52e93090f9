package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/elektrokombinacija/agv-fleet-sim/internal/core"
	"github.com/elektrokombinacija/agv-fleet-sim/internal/fleet"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// RunInfo describes a simulation run when it starts.
type RunInfo struct {
	ID        string
	Layout    string
	Algorithm string
	Agents    int
	Seed      int64
	StartedAt time.Time
}

// RunRecord is a stored run with its final totals.
type RunRecord struct {
	RunInfo
	FinishedAt    *time.Time
	SimulatedTime float64
	Summary       Summary
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// SQLiteStore persists runs, completed orders and cell visits.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "stats")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("stats store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			layout TEXT NOT NULL,
			algorithm TEXT NOT NULL,
			agents INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			simulated_time REAL NOT NULL DEFAULT 0,
			completed_orders INTEGER NOT NULL DEFAULT 0,
			average_delivery_time REAL NOT NULL DEFAULT 0,
			total_distance REAL NOT NULL DEFAULT 0,
			total_move_time REAL NOT NULL DEFAULT 0,
			moves INTEGER NOT NULL DEFAULT 0,
			collisions INTEGER NOT NULL DEFAULT 0,
			deadlocks INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS completed_orders (
			run_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			agent_id INTEGER NOT NULL,
			algorithm TEXT NOT NULL,
			distance REAL NOT NULL,
			duration REAL NOT NULL,
			collisions INTEGER NOT NULL,
			created_at REAL NOT NULL,
			completed_at REAL NOT NULL,
			PRIMARY KEY (run_id, order_id),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE TABLE IF NOT EXISTS cell_visits (
			run_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			visits INTEGER NOT NULL,
			PRIMARY KEY (run_id, x, y),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BeginRun records a new run. An empty ID is replaced with NewRunID.
func (s *SQLiteStore) BeginRun(ctx context.Context, info RunInfo) (string, error) {
	if info.ID == "" {
		info.ID = NewRunID()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, layout, algorithm, agents, seed, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.Layout, info.Algorithm, info.Agents, info.Seed, info.StartedAt,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	s.logger.Debug("run started", "run", info.ID, "layout", info.Layout)
	return info.ID, nil
}

// SaveCompletion stores one delivered order.
func (s *SQLiteStore) SaveCompletion(ctx context.Context, runID string, c fleet.Completion) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completed_orders
			(run_id, order_id, agent_id, algorithm, distance, duration, collisions, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int(c.OrderID), int(c.Agent), c.Algorithm, c.RealDistance, c.Duration,
		c.CollisionCount, c.CreatedAt, c.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting completion %d: %w", c.OrderID, err)
	}
	return nil
}

// SaveHeatmap replaces the stored visit counts of a run.
func (s *SQLiteStore) SaveHeatmap(ctx context.Context, runID string, cells []HeatCell) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cell_visits WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clearing visits: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO cell_visits (run_id, x, y, visits) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx, runID, c.Pos.X, c.Pos.Y, c.Visits); err != nil {
			return fmt.Errorf("inserting visits at %s: %w", c.Pos, err)
		}
	}
	return tx.Commit()
}

// FinishRun stores the final totals of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, simulated float64, sum Summary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, simulated_time = ?, completed_orders = ?, average_delivery_time = ?,
			total_distance = ?, total_move_time = ?, moves = ?, collisions = ?, deadlocks = ?
			WHERE id = ?`,
		time.Now().UTC(), simulated, sum.CompletedOrders, sum.AverageDeliveryTime,
		sum.TotalDistance, sum.TotalMoveTime, sum.Moves, sum.Collisions, sum.Deadlocks, runID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var r RunRecord
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, layout, algorithm, agents, seed, started_at, finished_at, simulated_time,
			completed_orders, average_delivery_time, total_distance, total_move_time, moves, collisions, deadlocks
			FROM runs WHERE id = ?`, runID,
	).Scan(
		&r.ID, &r.Layout, &r.Algorithm, &r.Agents, &r.Seed, &r.StartedAt, &finished, &r.SimulatedTime,
		&r.Summary.CompletedOrders, &r.Summary.AverageDeliveryTime, &r.Summary.TotalDistance,
		&r.Summary.TotalMoveTime, &r.Summary.Moves, &r.Summary.Collisions, &r.Summary.Deadlocks,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// Completions returns the stored completions of a run ordered by completion time.
func (s *SQLiteStore) Completions(ctx context.Context, runID string) ([]fleet.Completion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, agent_id, algorithm, distance, duration, collisions, created_at, completed_at
			FROM completed_orders WHERE run_id = ? ORDER BY completed_at, order_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying completions: %w", err)
	}
	defer rows.Close()

	var out []fleet.Completion
	for rows.Next() {
		var c fleet.Completion
		var orderID, agentID int
		if err := rows.Scan(&orderID, &agentID, &c.Algorithm, &c.RealDistance, &c.Duration,
			&c.CollisionCount, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning completion: %w", err)
		}
		c.OrderID = core.OrderID(orderID)
		c.Agent = core.AgentID(agentID)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Heatmap returns the stored visit counts of a run in row-major order.
func (s *SQLiteStore) Heatmap(ctx context.Context, runID string) ([]HeatCell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, visits FROM cell_visits WHERE run_id = ? ORDER BY y, x`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying visits: %w", err)
	}
	defer rows.Close()

	var out []HeatCell
	most := 0
	for rows.Next() {
		var c HeatCell
		if err := rows.Scan(&c.Pos.X, &c.Pos.Y, &c.Visits); err != nil {
			return nil, fmt.Errorf("scanning visits: %w", err)
		}
		if c.Visits > most {
			most = c.Visits
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if most > 0 {
			out[i].Intensity = float64(out[i].Visits) / float64(most)
		}
	}
	return out, nil
}
