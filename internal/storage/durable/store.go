package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"magick/internal/core/apperror"
	"magick/internal/core/flag"
	"magick/internal/core/id"
)

const tableName = "magick_features"

// row is the flat, column-per-field shape magick_features is stored as;
// Flag's richer nested fields (Variants, Targeting, Dependencies) are
// persisted as JSONB columns and marshaled through this intermediate type.
// id is a correlation column only; name stays the primary key since it is
// the sole externally visible flag identifier.
type row struct {
	ID           uuid.UUID `db:"id"`
	Name         string    `db:"name"`
	Type         string    `db:"type"`
	Status       string    `db:"status"`
	RawValue     []byte    `db:"raw_value"`
	DefaultValue []byte    `db:"default_value"`
	Description  string    `db:"description"`
	DisplayName  string    `db:"display_name"`
	Group        string    `db:"group_name"`
	Variants     []byte    `db:"variants"`
	Targeting    []byte    `db:"targeting"`
	Dependencies []byte    `db:"dependencies"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

var selectCols = []string{
	"id", "name", "type", "status", "raw_value", "default_value", "description",
	"display_name", "group_name", "variants", "targeting", "dependencies",
	"created_at", "updated_at",
}

// Store is the PostgreSQL-backed durable storage tier (C3): the system of
// record Remote and Local both cache in front of.
type Store struct {
	pool *Pool
}

// NewStore constructs a Store over an already-opened Pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

func builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// EnsureSchema creates magick_features if it doesn't already exist. Callers
// invoke this once at startup; it is idempotent so repeated calls (e.g. in
// tests) are harmless.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS magick_features (
	id            UUID NOT NULL DEFAULT gen_random_uuid(),
	name          TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	raw_value     JSONB,
	default_value JSONB,
	description   TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	group_name    TEXT NOT NULL DEFAULT '',
	variants      JSONB,
	targeting     JSONB,
	dependencies  JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return apperror.NewAdapterError("durable", fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

func toRow(f *flag.Flag) (row, error) {
	rawValue, err := json.Marshal(f.RawValue)
	if err != nil {
		return row{}, err
	}
	defaultValue, err := json.Marshal(f.DefaultValue)
	if err != nil {
		return row{}, err
	}
	variants, err := json.Marshal(f.Variants)
	if err != nil {
		return row{}, err
	}
	targeting, err := json.Marshal(f.Targeting.Rules)
	if err != nil {
		return row{}, err
	}
	dependencies, err := json.Marshal(f.Dependencies)
	if err != nil {
		return row{}, err
	}
	return row{
		ID:           uuid.UUID(f.ID),
		Name:         f.Name,
		Type:         string(f.Type),
		Status:       string(f.Status),
		RawValue:     rawValue,
		DefaultValue: defaultValue,
		Description:  f.Description,
		DisplayName:  f.DisplayName,
		Group:        f.Group,
		Variants:     variants,
		Targeting:    targeting,
		Dependencies: dependencies,
	}, nil
}

func fromRow(r row) (*flag.Flag, error) {
	f := &flag.Flag{
		ID:          id.ID(r.ID),
		Name:        r.Name,
		Type:        flag.Type(r.Type),
		Status:      flag.Status(r.Status),
		Description: r.Description,
		DisplayName: r.DisplayName,
		Group:       r.Group,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.RawValue) > 0 {
		if err := json.Unmarshal(r.RawValue, &f.RawValue); err != nil {
			return nil, err
		}
	}
	if len(r.DefaultValue) > 0 {
		if err := json.Unmarshal(r.DefaultValue, &f.DefaultValue); err != nil {
			return nil, err
		}
	}
	if len(r.Variants) > 0 {
		if err := json.Unmarshal(r.Variants, &f.Variants); err != nil {
			return nil, err
		}
	}
	if len(r.Targeting) > 0 {
		if err := json.Unmarshal(r.Targeting, &f.Targeting.Rules); err != nil {
			return nil, err
		}
	}
	if len(r.Dependencies) > 0 {
		if err := json.Unmarshal(r.Dependencies, &f.Dependencies); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Upsert inserts a flag or updates it in place on name conflict.
func (s *Store) Upsert(ctx context.Context, f *flag.Flag) error {
	r, err := toRow(f)
	if err != nil {
		return apperror.NewAdapterError("durable", err)
	}

	q := builder().
		Insert(tableName).
		Columns("id", "name", "type", "status", "raw_value", "default_value",
			"description", "display_name", "group_name", "variants", "targeting",
			"dependencies", "updated_at").
		Values(r.ID, r.Name, r.Type, r.Status, r.RawValue, r.DefaultValue,
			r.Description, r.DisplayName, r.Group, r.Variants, r.Targeting,
			r.Dependencies, squirrel.Expr("now()")).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			raw_value = EXCLUDED.raw_value,
			default_value = EXCLUDED.default_value,
			description = EXCLUDED.description,
			display_name = EXCLUDED.display_name,
			group_name = EXCLUDED.group_name,
			variants = EXCLUDED.variants,
			targeting = EXCLUDED.targeting,
			dependencies = EXCLUDED.dependencies,
			updated_at = now()`)

	sql, args, err := q.ToSql()
	if err != nil {
		return apperror.NewAdapterError("durable", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, sql, args...)
		return err
	})
}

// Get fetches a single flag by name.
func (s *Store) Get(ctx context.Context, name string) (*flag.Flag, error) {
	q := builder().Select(selectCols...).From(tableName).Where(squirrel.Eq{"name": name})
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, apperror.NewAdapterError("durable", err)
	}

	var r row
	var getErr error
	err = withRetry(ctx, func() error {
		getErr = pgxscan.Get(ctx, s.pool, &r, sql, args...)
		if getErr != nil && pgxscan.NotFound(getErr) {
			return nil // not found isn't a transient failure, don't retry
		}
		return getErr
	})
	if err != nil {
		return nil, apperror.NewAdapterError("durable", err)
	}
	if getErr != nil && pgxscan.NotFound(getErr) {
		return nil, apperror.NewFeatureNotFound(name)
	}

	return fromRow(r)
}

// List fetches every registered flag.
func (s *Store) List(ctx context.Context) ([]*flag.Flag, error) {
	q := builder().Select(selectCols...).From(tableName).OrderBy("name")
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, apperror.NewAdapterError("durable", err)
	}

	var rows []row
	if err := withRetry(ctx, func() error {
		return pgxscan.Select(ctx, s.pool, &rows, sql, args...)
	}); err != nil {
		return nil, apperror.NewAdapterError("durable", err)
	}

	out := make([]*flag.Flag, 0, len(rows))
	for _, r := range rows {
		f, err := fromRow(r)
		if err != nil {
			return nil, apperror.NewAdapterError("durable", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Delete removes a flag permanently; the durable tier has no soft-delete
// concept since flags aren't audited business documents.
func (s *Store) Delete(ctx context.Context, name string) error {
	q := builder().Delete(tableName).Where(squirrel.Eq{"name": name})
	sql, args, err := q.ToSql()
	if err != nil {
		return apperror.NewAdapterError("durable", err)
	}

	var result pgconn.CommandTag
	if err := withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.pool.Exec(ctx, sql, args...)
		return execErr
	}); err != nil {
		return apperror.NewAdapterError("durable", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewFeatureNotFound(name)
	}
	return nil
}

// retryDelays is the fixed backoff ladder spec §4.3 prescribes for durable
// writes/reads: 10/20/30/40/50ms, one initial attempt plus up to five
// retries.
var retryDelays = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	30 * time.Millisecond,
	40 * time.Millisecond,
	50 * time.Millisecond,
}

func withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if attempt == len(retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
	return lastErr
}
