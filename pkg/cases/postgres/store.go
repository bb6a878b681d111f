// Package postgres is the PostgreSQL implementation of [cases.Store].
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	c, err := store.Create(ctx, cases.Case{Title: "Звонок от unknown"})
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callintake/pkg/cases"
)

var _ cases.Store = (*Store)(nil)

// Store persists cases in a single table behind a [pgxpool.Pool].
// It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [cases.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create implements [cases.Store].
func (s *Store) Create(ctx context.Context, c cases.Case) (cases.Case, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = cases.StatusPending
	}
	if c.PhoneNumber == "" {
		c.PhoneNumber = cases.UnknownPhone
	}

	transcript, err := json.Marshal(nonNilTurns(c.Transcript))
	if err != nil {
		return cases.Case{}, fmt.Errorf("postgres store: encode transcript: %w", err)
	}
	metadata, err := json.Marshal(nonNilMeta(c.Metadata))
	if err != nil {
		return cases.Case{}, fmt.Errorf("postgres store: encode metadata: %w", err)
	}

	const q = `
		INSERT INTO cases
		    (id, title, description, status, phone_number, transcription, transcript,
		     category, service_type, priority, district, audio_url, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = s.pool.Exec(ctx, q,
		c.ID, c.Title, c.Description, c.Status, c.PhoneNumber, c.Transcription, transcript,
		c.Category, c.ServiceType, c.Priority, c.District, c.AudioURL, metadata, c.CreatedAt,
	)
	if err != nil {
		return cases.Case{}, fmt.Errorf("postgres store: insert case: %w", err)
	}
	return c, nil
}

const selectColumns = `
	SELECT id::text, title, description, status, phone_number, transcription, transcript,
	       category, service_type, priority, district, audio_url, metadata, created_at
	FROM cases`

// Get implements [cases.Store].
func (s *Store) Get(ctx context.Context, id string) (cases.Case, error) {
	if _, err := uuid.Parse(id); err != nil {
		return cases.Case{}, cases.ErrNotFound
	}
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE id = $1`, id)
	if err != nil {
		return cases.Case{}, fmt.Errorf("postgres store: get case: %w", err)
	}
	list, err := collectCases(rows)
	if err != nil {
		return cases.Case{}, err
	}
	if len(list) == 0 {
		return cases.Case{}, cases.ErrNotFound
	}
	return list[0], nil
}

// List implements [cases.Store].
func (s *Store) List(ctx context.Context, opts cases.ListOptions) ([]cases.Case, error) {
	var (
		sb   strings.Builder
		args []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(selectColumns)
	var where []string
	if opts.Status != "" {
		where = append(where, "status = "+next(opts.Status))
	}
	if opts.Priority != "" {
		where = append(where, "priority = "+next(opts.Priority))
	}
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + next(opts.Limit))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list cases: %w", err)
	}
	return collectCases(rows)
}

func collectCases(rows pgx.Rows) ([]cases.Case, error) {
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cases.Case, error) {
		var (
			c          cases.Case
			transcript []byte
			metadata   []byte
		)
		if err := row.Scan(
			&c.ID, &c.Title, &c.Description, &c.Status, &c.PhoneNumber, &c.Transcription, &transcript,
			&c.Category, &c.ServiceType, &c.Priority, &c.District, &c.AudioURL, &metadata, &c.CreatedAt,
		); err != nil {
			return cases.Case{}, err
		}
		if err := json.Unmarshal(transcript, &c.Transcript); err != nil {
			return cases.Case{}, fmt.Errorf("decode transcript: %w", err)
		}
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return cases.Case{}, fmt.Errorf("decode metadata: %w", err)
		}
		return c, nil
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	return list, nil
}

func nonNilTurns(t []cases.Turn) []cases.Turn {
	if t == nil {
		return []cases.Turn{}
	}
	return t
}

func nonNilMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
