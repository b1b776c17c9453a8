// Package archive persists report runs so past reports remain queryable after
// the chat message scrolls away.
package archive

import (
	"context"
	"database/sql"
	"errors"

	"reportline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const runColumns = `id,kind,window_start,window_end,opened,resolved,active,over_sla,mttr_hours,mttd_hours,oldest_active_hours,cache_hits,cache_misses,api_calls,body,created_at`

// SaveRun inserts one completed report run.
func (r Repo) SaveRun(ctx context.Context, run domain.Run) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO report_runs(`+runColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Kind, run.WindowStart, run.WindowEnd,
		run.Opened, run.Resolved, run.Active, run.OverSLA,
		nullFloat(run.MTTRHours), nullFloat(run.MTTDHours), nullFloat(run.OldestHours),
		run.CacheHits, run.CacheMisses, run.APICallCount,
		run.Body, run.CreatedAt)
	return err
}

// GetRun returns a run by id, body included.
func (r Repo) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM report_runs WHERE id=?`, id))
}

// LatestRun returns the most recent run of the given kind.
func (r Repo) LatestRun(ctx context.Context, kind string) (domain.Run, error) {
	return scanRun(r.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM report_runs WHERE kind=? ORDER BY created_at DESC LIMIT 1`, kind))
}

// ListRuns returns runs newest first, without bodies. kind filters when
// non-empty; limit<=0 means no limit.
func (r Repo) ListRuns(ctx context.Context, kind string, limit int) ([]domain.Run, error) {
	query := `SELECT id,kind,window_start,window_end,opened,resolved,active,over_sla,mttr_hours,mttd_hours,oldest_active_hours,cache_hits,cache_misses,api_calls,'' AS body,created_at FROM report_runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind=?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.Run
	for rows.Next() {
		run, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (domain.Run, error) {
	run, err := scanRow(row)
	if err == sql.ErrNoRows {
		return run, ErrNotFound
	}
	return run, err
}

func scanRow(s scanner) (domain.Run, error) {
	var run domain.Run
	var mttr, mttd, oldest sql.NullFloat64
	err := s.Scan(&run.ID, &run.Kind, &run.WindowStart, &run.WindowEnd,
		&run.Opened, &run.Resolved, &run.Active, &run.OverSLA,
		&mttr, &mttd, &oldest,
		&run.CacheHits, &run.CacheMisses, &run.APICallCount,
		&run.Body, &run.CreatedAt)
	if err != nil {
		return run, err
	}
	run.MTTRHours = floatPtr(mttr)
	run.MTTDHours = floatPtr(mttd)
	run.OldestHours = floatPtr(oldest)
	return run, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
