// Package postgres persists finished tasks to a PostgreSQL archive. The
// in-memory queue forgets cleared and deleted tasks; the archive keeps a
// durable record of every task that reached a terminal state, with its
// full item detail as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/cinelog/cinelog-api/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrArchiveDisabled is returned when archive methods are called without a
// configured database.
var ErrArchiveDisabled = errors.New("task archive is not configured")

// TaskArchive stores terminal task snapshots in PostgreSQL.
type TaskArchive struct {
	db *sql.DB
}

// Open connects to the database, runs pending migrations, and returns the
// archive. The caller owns the returned archive and must Close it.
func Open(ctx context.Context, databaseURL string) (*TaskArchive, error) {
	if databaseURL == "" {
		return nil, ErrArchiveDisabled
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach archive database: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run archive migrations: %w", err)
	}

	return &TaskArchive{db: db}, nil
}

// Close releases the database connection pool.
func (a *TaskArchive) Close() error {
	return a.db.Close()
}

// Record upserts a terminal task snapshot. Re-recording the same task id
// overwrites the previous row, so delivering the completed snapshot and a
// later soft-deleted snapshot of the same task is harmless. Non-terminal
// snapshots are rejected.
func (a *TaskArchive) Record(ctx context.Context, task *domain.Task) error {
	if task == nil || !task.Status.Terminal() {
		return fmt.Errorf("only terminal tasks are archived, got %q", statusOf(task))
	}

	items, err := json.Marshal(task.Items)
	if err != nil {
		return fmt.Errorf("failed to encode task items: %w", err)
	}

	query := `
		INSERT INTO task_archive
			(id, type, status, created_at, started_at, finished_at,
			 total_items, completed_items, meta, items, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			completed_items = EXCLUDED.completed_items,
			items = EXCLUDED.items,
			archived_at = EXCLUDED.archived_at
	`
	_, err = a.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		string(task.Status),
		task.CreatedAt,
		task.StartedAt,
		task.FinishedAt,
		task.TotalItems,
		task.CompletedItems,
		nullableJSON(task.Meta),
		items,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to archive task %d: %w", task.ID, err)
	}
	return nil
}

// ListRecent returns the most recently archived tasks, newest first.
func (a *TaskArchive) ListRecent(ctx context.Context, limit int) ([]*domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, type, status, created_at, started_at, finished_at,
		       total_items, completed_items, meta, items
		FROM task_archive
		ORDER BY archived_at DESC
		LIMIT $1
	`
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task archive: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read task archive rows: %w", err)
	}
	return tasks, nil
}

func scanTask(rows *sql.Rows) (*domain.Task, error) {
	var (
		task   domain.Task
		status string
		meta   []byte
		items  []byte
	)
	err := rows.Scan(
		&task.ID,
		&task.Type,
		&status,
		&task.CreatedAt,
		&task.StartedAt,
		&task.FinishedAt,
		&task.TotalItems,
		&task.CompletedItems,
		&meta,
		&items,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan archived task: %w", err)
	}
	task.Status = domain.TaskStatus(status)
	if len(meta) > 0 {
		task.Meta = json.RawMessage(meta)
	}
	if err := json.Unmarshal(items, &task.Items); err != nil {
		return nil, fmt.Errorf("failed to decode items of archived task %d: %w", task.ID, err)
	}
	return &task, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func statusOf(task *domain.Task) domain.TaskStatus {
	if task == nil {
		return ""
	}
	return task.Status
}
