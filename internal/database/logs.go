package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const logColumns = `id, run_id, job_kind, source_id, started_at, finished_at,
	items_seen, items_new, items_failed, status, error_summary`

// InsertWebsiteData appends generic records. No deduplication applies.
func (db *DB) InsertWebsiteData(ctx context.Context, rows []*WebsiteData) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, w := range rows {
		payload := w.Payload
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO website_data (source_name, source_url, data_type, title, payload, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			w.SourceName, w.SourceURL, w.DataType, w.Title, string(payload), w.FetchedAt,
		)
	}

	br := db.pool.SendBatch(ctx, batch)
	for _, w := range rows {
		if err := br.QueryRow().Scan(&w.ID); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert website data from %s: %w", w.SourceName, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert website data: %w", err)
	}
	return nil
}

// InsertFetchLogs writes a run's log rows in a single transaction
func (db *DB) InsertFetchLogs(ctx context.Context, logs []*FetchLog) error {
	if len(logs) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		for _, l := range logs {
			err := tx.QueryRow(ctx, `
				INSERT INTO fetch_logs (run_id, job_kind, source_id, started_at, finished_at,
					items_seen, items_new, items_failed, status, error_summary)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id`,
				l.RunID, l.JobKind, l.SourceID, l.StartedAt, l.FinishedAt,
				l.ItemsSeen, l.ItemsNew, l.ItemsFailed, string(l.Status), l.ErrorSummary,
			).Scan(&l.ID)
			if err != nil {
				return fmt.Errorf("failed to insert fetch log for run %s: %w", l.RunID, err)
			}
		}
		return nil
	})
}

// ListFetchLogs returns log rows newest first
func (db *DB) ListFetchLogs(ctx context.Context, filter LogFilter) ([]*FetchLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, strings.ToUpper(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Source != "" {
		args = append(args, filter.Source)
		where = append(where, fmt.Sprintf("source_id = $%d", len(args)))
	}

	query := `SELECT ` + logColumns + ` FROM fetch_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Skip, filter.Limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC, id DESC OFFSET $%d LIMIT $%d", len(args)-1, len(args))

	return db.queryLogs(ctx, query, args...)
}

// FetchLogsSince returns all log rows started at or after since, newest first
func (db *DB) FetchLogsSince(ctx context.Context, since time.Time) ([]*FetchLog, error) {
	query := `SELECT ` + logColumns + ` FROM fetch_logs WHERE started_at >= $1 ORDER BY started_at DESC, id DESC`
	return db.queryLogs(ctx, query, since)
}

// LastSuccessfulRun returns the finish time of the newest successful run summary
func (db *DB) LastSuccessfulRun(ctx context.Context) (*time.Time, error) {
	var finished time.Time
	err := db.pool.QueryRow(ctx, `
		SELECT finished_at FROM fetch_logs
		WHERE source_id IS NULL AND status = $1
		ORDER BY finished_at DESC
		LIMIT 1`, string(LogSuccess),
	).Scan(&finished)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful run: %w", err)
	}
	return &finished, nil
}

// DeleteBefore removes rows strictly older than the cutoffs
func (db *DB) DeleteBefore(ctx context.Context, dataCutoff, logCutoff time.Time) (*CleanupResult, error) {
	result := &CleanupResult{Cutoff: dataCutoff, LogCutoff: logCutoff}

	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM news_articles WHERE fetched_at < $1`, dataCutoff)
		if err != nil {
			return fmt.Errorf("failed to delete old articles: %w", err)
		}
		result.ArticlesDeleted = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM website_data WHERE fetched_at < $1`, dataCutoff)
		if err != nil {
			return fmt.Errorf("failed to delete old website data: %w", err)
		}
		result.WebsiteDataDeleted = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM fetch_logs WHERE started_at < $1`, logCutoff)
		if err != nil {
			return fmt.Errorf("failed to delete old fetch logs: %w", err)
		}
		result.LogsDeleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (db *DB) queryLogs(ctx context.Context, query string, args ...any) ([]*FetchLog, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch logs: %w", err)
	}
	defer rows.Close()

	var logs []*FetchLog
	for rows.Next() {
		var (
			l      FetchLog
			status string
		)
		err := rows.Scan(
			&l.ID,
			&l.RunID,
			&l.JobKind,
			&l.SourceID,
			&l.StartedAt,
			&l.FinishedAt,
			&l.ItemsSeen,
			&l.ItemsNew,
			&l.ItemsFailed,
			&status,
			&l.ErrorSummary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fetch log: %w", err)
		}
		l.Status = LogStatus(status)
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetch logs: %w", err)
	}
	return logs, nil
}
