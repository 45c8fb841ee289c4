// Package ch mirrors enriched occurrences into ClickHouse and answers the
// window reads the analytics endpoints need.
package ch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"tiny-errors/internal/model"
)

// Client wraps a ClickHouse connection.
type Client struct {
	db *sql.DB
}

// New opens a ClickHouse connection from a DSN and pings it.
func New(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{db: db}, nil
}

// Close releases database resources.
func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Schema is the DDL of the occurrence mirror. ReplacingMergeTree keyed on id
// collapses the duplicates an at-least-once consumer can produce.
const Schema = `
CREATE TABLE IF NOT EXISTS error_events
(
  id                 String,
  project_id         LowCardinality(String),
  fingerprint        String,
  client_fingerprint String,
  error_type         LowCardinality(String),
  message            String,
  url                String,
  top_file           String,
  top_line           UInt32,
  browser            LowCardinality(String),
  os                 LowCardinality(String),
  device_type        LowCardinality(String),
  environment        LowCardinality(String),
  rage_clicks        UInt16,
  breadcrumbs        String,
  occurred_at        DateTime64(3, 'UTC'),
  _ingested_at       DateTime64(3, 'UTC')
)
ENGINE = ReplacingMergeTree(_ingested_at)
PARTITION BY toYYYYMM(occurred_at)
ORDER BY (project_id, fingerprint, occurred_at, id)`

// EnsureSchema creates the error_events table if it does not exist.
func (c *Client) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, Schema)
	return err
}

// InsertBatch writes enriched occurrences with a single prepared statement.
func (c *Client) InsertBatch(ctx context.Context, rows []model.EnrichedOccurrence) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO error_events (
	id, project_id, fingerprint, client_fingerprint, error_type, message, url,
	top_file, top_line, browser, os, device_type, environment, rage_clicks,
	breadcrumbs, occurred_at, _ingested_at
) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(
			ctx,
			r.ID,
			r.ProjectID,
			r.Fingerprint,
			r.ClientFingerprint,
			r.ErrorType,
			r.Message,
			r.URL,
			r.TopFile,
			uint32(r.TopLine),
			r.Browser,
			r.OS,
			r.DeviceType,
			r.Environment,
			uint16(r.RageClicks),
			r.Breadcrumbs,
			r.OccurredAt,
			r.IngestedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// OccurrenceTimes returns the occurrence times, in epoch milliseconds, of a
// group with from <= occurred_at < to.
func (c *Client) OccurrenceTimes(ctx context.Context, projectID, fingerprint string, from, to int64) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT toUnixTimestamp64Milli(occurred_at)
FROM error_events FINAL
WHERE project_id = ? AND fingerprint = ?
  AND occurred_at >= fromUnixTimestamp64Milli(?) AND occurred_at < fromUnixTimestamp64Milli(?)`,
		projectID, fingerprint, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// RecentBreadcrumbs returns the breadcrumb payloads of the limit most recent
// occurrences of a project.
func (c *Client) RecentBreadcrumbs(ctx context.Context, projectID string, limit int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT breadcrumbs
FROM error_events FINAL
WHERE project_id = ?
ORDER BY occurred_at DESC
LIMIT ?`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

// Ping ensures the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("clickhouse ping: %w", err)
	}
	return nil
}
