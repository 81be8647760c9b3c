package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	PropID    string                 `json:"prop_id"`
	SessionID *string                `json:"session_id,omitempty"`
}

// Options holds connection settings. Empty fields fall back to the PG*
// environment variables and then to local defaults.
type Options struct {
	Host     string
	Port     string
	User     string
	Database string
	Password string
	SSLMode  string
}

// Client manages the Postgres connection for event storage.
type Client struct {
	db     *sql.DB
	propID string

	mu          sync.Mutex
	errorLogged bool
}

// New connects to Postgres and ensures the events table exists.
// Returns an error if the database is unreachable; callers run without
// persistence in that case.
func New(propID string, opts Options) (*Client, error) {
	db, err := sql.Open("postgres", connString(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:     db,
		propID: propID,
	}

	if err := client.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events table: %w", err)
	}

	return client, nil
}

func connString(o Options) string {
	host := firstNonEmpty(o.Host, os.Getenv("PGHOST"), "127.0.0.1")
	port := firstNonEmpty(o.Port, os.Getenv("PGPORT"), "5432")
	user := firstNonEmpty(o.User, os.Getenv("PGUSER"), "alchemy")
	dbname := firstNonEmpty(o.Database, os.Getenv("PGDATABASE"), "alchemy")
	sslmode := firstNonEmpty(o.SSLMode, os.Getenv("PGSSLMODE"), "disable")
	password := firstNonEmpty(o.Password, os.Getenv("PGPASSWORD"))

	parts := []string{
		"host=" + host,
		"port=" + port,
		"user=" + user,
	}
	if password != "" {
		parts = append(parts, "password="+password)
	}
	parts = append(parts, "dbname="+dbname, "sslmode="+sslmode)
	return strings.Join(parts, " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS prop_events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			prop_id    TEXT NOT NULL,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_prop_events_ts ON prop_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_prop_events_session ON prop_events(session_id);
	`
	_, err := c.db.Exec(query)
	return err
}

// Append inserts an event into the database.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	var sessionPtr *string
	if sessionID != "" {
		sessionPtr = &sessionID
	}

	query := `
		INSERT INTO prop_events (ts, level, event, msg, fields, prop_id, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.propID, sessionPtr)
	return err
}

// Query returns the last N events for this prop, newest first.
func (c *Client) Query(limit int) ([]EventRow, error) {
	limit = clampLimit(limit)
	query := `
		SELECT event_id, ts, level, event, msg, fields, prop_id, session_id
		FROM prop_events
		WHERE prop_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.Query(query, c.propID, limit)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

// QuerySession returns the events of one play session, newest first.
func (c *Client) QuerySession(sessionID string, limit int) ([]EventRow, error) {
	limit = clampLimit(limit)
	query := `
		SELECT event_id, ts, level, event, msg, fields, prop_id, session_id
		FROM prop_events
		WHERE prop_id = $1 AND session_id = $2
		ORDER BY ts DESC
		LIMIT $3
	`
	rows, err := c.db.Query(query, c.propID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

func scanRows(rows *sql.Rows) ([]EventRow, error) {
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, sessionID sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.PropID, &sessionID); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Ping checks the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// MarkErrorLogged marks that an error has been logged (to avoid spam).
func (c *Client) MarkErrorLogged() {
	c.mu.Lock()
	c.errorLogged = true
	c.mu.Unlock()
}

// HasLoggedError returns true if an error has been logged.
func (c *Client) HasLoggedError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorLogged
}
