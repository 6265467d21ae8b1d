package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dev/bravebird/simulation-verifier/pkg/models"

	_ "github.com/go-sql-driver/mysql"
)

const schema = `
	CREATE TABLE IF NOT EXISTS verification_runs (
		id                   VARCHAR(36)  NOT NULL PRIMARY KEY,
		temporal_workflow_id VARCHAR(255) NOT NULL DEFAULT '',
		temporal_run_id      VARCHAR(255) NOT NULL DEFAULT '',
		target_url           VARCHAR(2048) NOT NULL,
		status               VARCHAR(16)  NOT NULL,
		artifact_path        VARCHAR(1024) NOT NULL DEFAULT '',
		error_message        TEXT,
		started_at           DATETIME NULL,
		completed_at         DATETIME NULL,
		INDEX idx_verification_runs_started (started_at)
	)
`

// execQuerier is the part of *sql.DB the run history uses
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// DB represents the database connection
type DB struct {
	conn execQuerier
}

// New creates a new database connection
func New(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// EnsureSchema creates the run history table if it does not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ==================== Verification Runs ====================

// CreateRun inserts a run, or refreshes its Temporal IDs and status if it exists
func (db *DB) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	query := `
		INSERT INTO verification_runs (id, temporal_workflow_id, temporal_run_id, target_url, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			temporal_workflow_id = VALUES(temporal_workflow_id),
			temporal_run_id = VALUES(temporal_run_id),
			status = VALUES(status),
			started_at = VALUES(started_at)
	`

	_, err := db.conn.ExecContext(ctx, query,
		run.ID,
		run.TemporalWorkflowID,
		run.TemporalRunID,
		run.TargetURL,
		run.Status,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID, returning nil if it does not exist
func (db *DB) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	query := `
		SELECT id, temporal_workflow_id, temporal_run_id, target_url, status,
		       artifact_path, COALESCE(error_message, ''), started_at, completed_at
		FROM verification_runs
		WHERE id = ?
	`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns retrieves the most recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, temporal_workflow_id, temporal_run_id, target_url, status,
		       artifact_path, COALESCE(error_message, ''), started_at, completed_at
		FROM verification_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.VerificationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// CompleteRun records the outcome of a run. Runs started outside the API
// have no row yet and are inserted.
func (db *DB) CompleteRun(ctx context.Context, result models.VerificationResult) error {
	query := `
		INSERT INTO verification_runs (id, target_url, status, artifact_path, error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			target_url = VALUES(target_url),
			status = VALUES(status),
			artifact_path = VALUES(artifact_path),
			error_message = VALUES(error_message),
			completed_at = COALESCE(VALUES(completed_at), completed_at)
	`

	var startedAt, completedAt *time.Time
	if !result.StartedAt.IsZero() {
		startedAt = &result.StartedAt
	}
	if result.Status.IsTerminal() {
		finished := result.FinishedAt
		if finished.IsZero() {
			finished = time.Now()
		}
		completedAt = &finished
	}

	_, err := db.conn.ExecContext(ctx, query,
		result.RunID,
		result.TargetURL,
		result.Status,
		result.ArtifactPath,
		result.ErrorMessage,
		startedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// UpdateRunStatus sets a run status without touching its outcome fields
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `
		UPDATE verification_runs
		SET status = ?, error_message = ?,
		    completed_at = CASE WHEN ? IN ('success', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = ?
	`

	_, err := db.conn.ExecContext(ctx, query, status, errorMsg, status, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.VerificationRun, error) {
	var run models.VerificationRun
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.TemporalWorkflowID,
		&run.TemporalRunID,
		&run.TargetURL,
		&run.Status,
		&run.ArtifactPath,
		&run.ErrorMessage,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}
