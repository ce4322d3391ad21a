// Package postgres provides a PostgreSQL implementation of transport.ExchangeStore.
// It uses pgx/v5 for connection pooling and JSONB for transcript entries.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/lmbroker/pkg/api"
	"github.com/rhuss/lmbroker/pkg/storage"
	"github.com/rhuss/lmbroker/pkg/transport"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	uniqueViolation = "23505"
)

// Store is a PostgreSQL-backed ExchangeStore.
type Store struct {
	pool *pgxpool.Pool
}

var _ transport.ExchangeStore = (*Store)(nil)

// New connects to PostgreSQL and, when MigrateOnStart is set, applies
// the embedded schema migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveExchange inserts an exchange under the tenant of the context's scope.
func (s *Store) SaveExchange(ctx context.Context, ex *api.Exchange) error {
	entries := ex.TranscriptEntries
	if entries == nil {
		entries = []api.TranscriptEntry{}
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling transcript entries: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO exchanges (
			id, tenant_id, session_id, stream_id, prompt, content,
			transcript_entries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		ex.ID, storage.ScopeFrom(ctx).Tenant, ex.SessionID, nullString(ex.StreamID),
		ex.Prompt, ex.Content, entriesJSON, ex.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("inserting exchange: %w", err)
	}
	return nil
}

// GetExchange retrieves a live exchange by ID.
func (s *Store) GetExchange(ctx context.Context, id string) (*api.Exchange, error) {
	query := `
		SELECT id, session_id, stream_id, prompt, content, transcript_entries, created_at
		FROM exchanges
		WHERE id = $1 AND deleted_at IS NULL
	`
	args := []any{id}

	if tenantID := storage.ScopeFrom(ctx).Tenant; tenantID != "" {
		query += " AND tenant_id = $2"
		args = append(args, tenantID)
	}

	ex, err := scanExchange(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying exchange: %w", err)
	}
	return ex, nil
}

// DeleteExchange soft-deletes an exchange by setting deleted_at.
func (s *Store) DeleteExchange(ctx context.Context, id string) error {
	query := "UPDATE exchanges SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL"
	args := []any{time.Now(), id}

	if tenantID := storage.ScopeFrom(ctx).Tenant; tenantID != "" {
		query += " AND tenant_id = $3"
		args = append(args, tenantID)
	}

	result, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting exchange: %w", err)
	}
	if result.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListExchanges returns a page of a session's exchanges. Cursors compare on
// (created_at, id) of the referenced exchange; an unknown cursor yields an
// empty page.
func (s *Store) ListExchanges(ctx context.Context, sessionID string, opts transport.ListOptions) (*api.ExchangeList, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT id, session_id, stream_id, prompt, content, transcript_entries, created_at
		FROM exchanges
		WHERE session_id = $1 AND deleted_at IS NULL`)
	args := []any{sessionID}

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if tenantID := storage.ScopeFrom(ctx).Tenant; tenantID != "" {
		b.WriteString(" AND tenant_id = " + arg(tenantID))
	}

	asc := opts.Order == "asc"
	switch {
	case opts.After != "":
		op := "<"
		if asc {
			op = ">"
		}
		fmt.Fprintf(&b, " AND (created_at, id) %s (SELECT created_at, id FROM exchanges WHERE id = %s)", op, arg(opts.After))
	case opts.Before != "":
		op := ">"
		if asc {
			op = "<"
		}
		fmt.Fprintf(&b, " AND (created_at, id) %s (SELECT created_at, id FROM exchanges WHERE id = %s)", op, arg(opts.Before))
	}

	// A before page is the rows nearest the cursor, so it is scanned in
	// reverse and flipped back below.
	before := opts.After == "" && opts.Before != ""
	if asc != before {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	// Fetch one extra row to detect whether another page exists.
	b.WriteString(" LIMIT " + arg(limit+1))

	rows, err := s.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}
	defer rows.Close()

	data := []api.Exchange{}
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		data = append(data, *ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}

	result := &api.ExchangeList{Object: "list"}
	if len(data) > limit {
		data = data[:limit]
		result.HasMore = true
	}
	if before {
		slices.Reverse(data)
	}
	result.Data = data
	if len(data) > 0 {
		result.FirstID = data[0].ID
		result.LastID = data[len(data)-1].ID
	}
	return result, nil
}

// HealthCheck verifies the database connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanExchange(row pgx.Row) (*api.Exchange, error) {
	var ex api.Exchange
	var streamID *string
	var entriesJSON []byte

	if err := row.Scan(
		&ex.ID, &ex.SessionID, &streamID, &ex.Prompt, &ex.Content,
		&entriesJSON, &ex.CreatedAt,
	); err != nil {
		return nil, err
	}

	if streamID != nil {
		ex.StreamID = *streamID
	}
	if err := json.Unmarshal(entriesJSON, &ex.TranscriptEntries); err != nil {
		return nil, fmt.Errorf("unmarshaling transcript entries: %w", err)
	}
	if len(ex.TranscriptEntries) == 0 {
		ex.TranscriptEntries = nil
	}
	return &ex, nil
}

// nullString converts an empty string to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
