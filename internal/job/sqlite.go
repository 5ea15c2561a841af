package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reviewgate/reviewgate/internal/clock"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed implementation of Store. With the default
// ":memory:" path it lives exactly as long as the process.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, clk clock.Clock) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection: a ":memory:" database is per connection, and the
	// store has a single writer anyway.
	db.SetMaxOpenConns(1)

	if dbPath != ":memory:" {
		if _, err = db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db, clock: clk}
	if err = s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reviews (
			seq              INTEGER PRIMARY KEY AUTOINCREMENT,
			id               TEXT NOT NULL UNIQUE,
			status           TEXT NOT NULL DEFAULT 'pending',
			organization_url TEXT NOT NULL,
			project_id       TEXT NOT NULL,
			repository_id    TEXT NOT NULL,
			pull_request_id  INTEGER NOT NULL,
			iteration_id     INTEGER NOT NULL,
			submitted_at     INTEGER NOT NULL,
			completed_at     INTEGER,
			result           TEXT,
			error            TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_reviews_submitted_at ON reviews(submitted_at);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, rc ReviewContext) (*Job, error) {
	j := &Job{
		ID:            uuid.NewString(),
		Status:        StatusPending,
		ReviewContext: rc,
		SubmittedAt:   s.clock.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews
			(id, status, organization_url, project_id, repository_id, pull_request_id, iteration_id, submitted_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)
	`,
		j.ID,
		StatusPending,
		rc.OrganizationURL,
		rc.ProjectID,
		rc.RepositoryID,
		rc.PullRequestID,
		rc.IterationID,
		j.SubmittedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return j, nil
}

const selectColumns = `
	SELECT id, status, organization_url, project_id, repository_id,
	       pull_request_id, iteration_id, submitted_at, completed_at, result, error
	FROM reviews`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	j := &Job{}
	var submittedAt int64
	var completedAt sql.NullInt64
	var result, errMsg sql.NullString

	if err := row.Scan(
		&j.ID, &j.Status, &j.OrganizationURL, &j.ProjectID, &j.RepositoryID,
		&j.PullRequestID, &j.IterationID, &submittedAt, &completedAt, &result, &errMsg,
	); err != nil {
		return nil, err
	}

	j.SubmittedAt = time.Unix(0, submittedAt).UTC()
	if completedAt.Valid {
		t := time.Unix(0, completedAt.Int64).UTC()
		j.CompletedAt = &t
	}
	if result.Valid {
		var r ReviewResult
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		j.Result = &r
	}
	if errMsg.Valid {
		m := errMsg.String
		j.Error = &m
	}
	return j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY submitted_at DESC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET status = ? WHERE id = ? AND status = ?
	`, StatusProcessing, id, StatusPending)
	if err != nil {
		return fmt.Errorf("mark processing for job %s: %w", id, err)
	}
	return s.checkApplied(ctx, res, id, StatusPending)
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, result *ReviewResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result for job %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET status = ?, completed_at = ?, result = ?
		WHERE id = ? AND status = ?
	`, StatusCompleted, s.clock.Now().UnixNano(), string(payload), id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return s.checkApplied(ctx, res, id, StatusProcessing)
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, msg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE reviews SET status = ?, completed_at = ?, error = ?
		WHERE id = ? AND status = ?
	`, StatusFailed, s.clock.Now().UnixNano(), msg, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return s.checkApplied(ctx, res, id, StatusProcessing)
}

// checkApplied turns a zero-row guarded UPDATE into ErrNotFound or
// ErrInvalidTransition.
func (s *SQLiteStore) checkApplied(ctx context.Context, res sql.Result, id string, from Status) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for job %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	var current Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM reviews WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get status for job %s: %w", id, err)
	}
	return fmt.Errorf("job %s is %s, want %s: %w", id, current, from, ErrInvalidTransition)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
