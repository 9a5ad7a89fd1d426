package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS webdoc_jobs (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	format       TEXT NOT NULL,
	status       TEXT NOT NULL,
	progress     INTEGER NOT NULL DEFAULT 0,
	title        TEXT NOT NULL DEFAULT '',
	filename     TEXT NOT NULL DEFAULT '',
	file_size    BIGINT NOT NULL DEFAULT 0,
	pages        INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS webdoc_jobs_created_at_idx ON webdoc_jobs (created_at DESC);
`

const jobColumns = `id, url, format, status, progress, title, filename, file_size, pages, error, created_at, completed_at`

// PostgresStore persists jobs in a single table. Update takes a row lock
// (SELECT ... FOR UPDATE) so read-modify-write is atomic per job.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Add(ctx context.Context, j *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webdoc_jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		j.ID, j.URL, string(j.Format), string(j.Status), j.Progress,
		j.Title, j.Filename, j.FileSize, j.Pages, j.Error,
		j.CreatedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM webdoc_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM webdoc_jobs WHERE id = $1 FOR UPDATE`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	if err := fn(j); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE webdoc_jobs
		SET status = $2,
			progress = $3,
			title = $4,
			filename = $5,
			file_size = $6,
			pages = $7,
			error = $8,
			completed_at = $9
		WHERE id = $1
	`, j.ID, string(j.Status), j.Progress, j.Title, j.Filename, j.FileSize, j.Pages, j.Error, j.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Job, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webdoc_jobs WHERE ($1::text = '' OR status = $1::text)`, string(f.Status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM webdoc_jobs
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(f.Status), limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webdoc_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM webdoc_jobs GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, fmt.Errorf("scan stats: %w", err)
		}
		st.add(Status(status), n)
	}
	return st, rows.Err()
}

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j           Job
		format      string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&j.ID, &j.URL, &format, &status, &j.Progress,
		&j.Title, &j.Filename, &j.FileSize, &j.Pages, &j.Error,
		&j.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Format = Format(format)
	j.Status = Status(status)
	j.CreatedAt = j.CreatedAt.UTC()
	if completedAt != nil {
		t := completedAt.UTC()
		j.CompletedAt = &t
	}
	return &j, nil
}
