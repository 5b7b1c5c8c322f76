// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NofaBC/prospector-api/internal/prospector"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements prospector.JobStore and prospector.ProspectStore on
// Postgres.
type Store struct {
	pool pgxPool
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing with pgxmock).
func NewStoreWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs and prospects tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	seed_url      TEXT NOT NULL,
	keyword       TEXT NOT NULL DEFAULT '',
	area          TEXT NOT NULL DEFAULT '',
	radius_meters INT  NOT NULL,
	max_results   INT  NOT NULL,
	sheet_id      TEXT NOT NULL DEFAULT '',
	sheet_url     TEXT NOT NULL DEFAULT '',
	cursor        JSONB,
	found         INT  NOT NULL DEFAULT 0,
	appended      INT  NOT NULL DEFAULT 0,
	deduped       INT  NOT NULL DEFAULT 0,
	errors        INT  NOT NULL DEFAULT 0,
	webhook_url   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS prospects (
	job_id       TEXT NOT NULL,
	place_id     TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	address      TEXT NOT NULL DEFAULT '',
	website      TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	emails       TEXT NOT NULL DEFAULT '',
	lat          DOUBLE PRECISION NOT NULL DEFAULT 0,
	lng          DOUBLE PRECISION NOT NULL DEFAULT 0,
	types        TEXT NOT NULL DEFAULT '',
	rating       DOUBLE PRECISION,
	rating_count INT,
	source       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, place_id)
);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at DESC);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateJob inserts a job row.
func (s *Store) CreateJob(ctx context.Context, job prospector.Job) error {
	cursorJSON, err := marshalCursor(job.Cursor)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO jobs (
	id, status, seed_url, keyword, area, radius_meters, max_results,
	sheet_id, sheet_url, cursor, found, appended, deduped, errors,
	webhook_url, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		job.SeedURL,
		job.Keyword,
		job.Area,
		job.RadiusMeters,
		job.MaxResults,
		job.SheetID,
		job.SheetURL,
		cursorJSON,
		job.Counts.Found,
		job.Counts.Appended,
		job.Counts.Deduped,
		job.Counts.Errors,
		job.WebhookURL,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `id, status, seed_url, keyword, area, radius_meters, max_results,
	sheet_id, sheet_url, cursor, found, appended, deduped, errors,
	webhook_url, created_at, updated_at`

// GetJob fetches a job row by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (prospector.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1", jobColumns)
	row := s.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return prospector.Job{}, prospector.ErrJobNotFound
		}
		return prospector.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJob applies the partial update and stamps updated_at.
func (s *Store) UpdateJob(ctx context.Context, jobID string, update prospector.JobUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	idx := 2

	addSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}

	if update.Status != nil {
		addSet("status", string(*update.Status))
	}
	if update.ClearCursor {
		sets = append(sets, "cursor = NULL")
	} else if update.Cursor != nil {
		cursorJSON, err := marshalCursor(update.Cursor)
		if err != nil {
			return err
		}
		addSet("cursor", cursorJSON)
	}
	if update.Counts != nil {
		addSet("found", update.Counts.Found)
		addSet("appended", update.Counts.Appended)
		addSet("deduped", update.Counts.Deduped)
		addSet("errors", update.Counts.Errors)
	}
	if update.SheetID != nil {
		addSet("sheet_id", *update.SheetID)
	}
	if update.SheetURL != nil {
		addSet("sheet_url", *update.SheetURL)
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, jobID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prospector.ErrJobNotFound
	}
	return nil
}

// ListRecentJobs returns jobs ordered by creation time, descending.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]prospector.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf("SELECT %s FROM jobs ORDER BY created_at DESC LIMIT $1", jobColumns)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select recent jobs: %w", err)
	}
	defer rows.Close()

	var jobs []prospector.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// PutProspect upserts a prospect; conflicts on (job_id, place_id) are
// ignored so the first write wins.
func (s *Store) PutProspect(ctx context.Context, p prospector.Prospect) error {
	const query = `
INSERT INTO prospects (
	job_id, place_id, name, phone, address, website, domain, emails,
	lat, lng, types, rating, rating_count, source, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (job_id, place_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		p.JobID,
		p.PlaceID,
		p.Name,
		p.Phone,
		p.Address,
		p.Website,
		p.Domain,
		strings.Join(p.Emails, ", "),
		p.Lat,
		p.Lng,
		strings.Join(p.Types, ","),
		p.Rating,
		p.RatingCount,
		p.Source,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prospect: %w", err)
	}
	return nil
}

// ListProspects returns up to limit prospects for a job in insertion order.
func (s *Store) ListProspects(ctx context.Context, jobID string, limit int) ([]prospector.Prospect, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
SELECT job_id, place_id, name, phone, address, website, domain, emails,
	lat, lng, types, rating, rating_count, source, created_at
FROM prospects WHERE job_id = $1 ORDER BY created_at LIMIT $2`
	rows, err := s.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("select prospects: %w", err)
	}
	defer rows.Close()

	var prospects []prospector.Prospect
	for rows.Next() {
		var (
			p      prospector.Prospect
			emails string
			types  string
		)
		if err := rows.Scan(
			&p.JobID, &p.PlaceID, &p.Name, &p.Phone, &p.Address, &p.Website,
			&p.Domain, &emails, &p.Lat, &p.Lng, &types, &p.Rating,
			&p.RatingCount, &p.Source, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		p.Emails = splitNonEmpty(emails, ", ")
		p.Types = splitNonEmpty(types, ",")
		prospects = append(prospects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prospects: %w", err)
	}
	return prospects, nil
}

func scanJob(row pgx.Row) (prospector.Job, error) {
	var (
		job        prospector.Job
		status     string
		cursorJSON []byte
	)
	err := row.Scan(
		&job.ID, &status, &job.SeedURL, &job.Keyword, &job.Area,
		&job.RadiusMeters, &job.MaxResults, &job.SheetID, &job.SheetURL,
		&cursorJSON, &job.Counts.Found, &job.Counts.Appended,
		&job.Counts.Deduped, &job.Counts.Errors, &job.WebhookURL,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return prospector.Job{}, err
	}
	job.Status = prospector.JobStatus(status)
	if len(cursorJSON) > 0 {
		var cursor prospector.Cursor
		if err := json.Unmarshal(cursorJSON, &cursor); err != nil {
			return prospector.Job{}, fmt.Errorf("unmarshal cursor: %w", err)
		}
		job.Cursor = &cursor
	}
	return job, nil
}

func marshalCursor(cursor *prospector.Cursor) ([]byte, error) {
	if cursor == nil {
		return nil, nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	return data, nil
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
