// Package postgres provides Postgres-backed persistence for vehicles and
// their images.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moshe-connectio/car-template-demo/internal/id/uuid"
	"github.com/moshe-connectio/car-template-demo/internal/inventory"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// Store implements inventory.VehicleStore and inventory.ImageStore.
type Store struct {
	db DB
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &Store{db: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// ApplySchema creates the tables when they do not exist yet.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertByCRMID inserts the vehicle or updates the supplied columns of the
// row that already carries crmid, in a single statement.
func (s *Store) UpsertByCRMID(
	ctx context.Context,
	crmid string,
	fields inventory.VehicleFields,
) (inventory.UpsertResult, error) {
	cols, args := fieldColumns(crmid, fields)
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "crmid" {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	updates = append(updates, "updated_at = now()")

	query := fmt.Sprintf(`
INSERT INTO vehicles (%s)
VALUES (%s)
ON CONFLICT (crmid) DO UPDATE SET %s
RETURNING id::text, slug, (xmax = 0) AS inserted`,
		strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	var (
		res      inventory.UpsertResult
		inserted bool
	)
	if err := s.db.QueryRow(ctx, query, args...).Scan(&res.VehicleID, &res.Slug, &inserted); err != nil {
		return inventory.UpsertResult{}, fmt.Errorf("upsert vehicle: %w", err)
	}
	res.Action = inventory.ActionUpdated
	if inserted {
		res.Action = inventory.ActionCreated
	}
	return res, nil
}

// fieldColumns lists crmid plus every column the webhook supplied, in a
// fixed order.
func fieldColumns(crmid string, f inventory.VehicleFields) ([]string, []any) {
	cols := []string{"crmid"}
	args := []any{crmid}
	add := func(col string, present bool, v any) {
		if present {
			cols = append(cols, col)
			args = append(args, v)
		}
	}
	add("slug", f.Slug != nil, deref(f.Slug))
	add("title", f.Title != nil, deref(f.Title))
	add("brand", f.Brand != nil, deref(f.Brand))
	add("model", f.Model != nil, deref(f.Model))
	add("year", f.Year != nil, deref(f.Year))
	add("price", f.Price != nil, deref(f.Price))
	add("km", f.Km != nil, deref(f.Km))
	add("gear_type", f.GearType != nil, deref(f.GearType))
	add("fuel_type", f.FuelType != nil, deref(f.FuelType))
	add("condition", f.Condition != nil, deref(f.Condition))
	add("hand", f.Hand != nil, deref(f.Hand))
	add("categories", f.Categories != nil, f.Categories)
	add("short_description", f.ShortDescription != nil, deref(f.ShortDescription))
	add("is_published", f.IsPublished != nil, deref(f.IsPublished))
	add("raw_data", f.RawData != nil, string(f.RawData))
	return cols, args
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// MarkSoldByCRMID clears the published flag.
func (s *Store) MarkSoldByCRMID(ctx context.Context, crmid string) (inventory.UpsertResult, error) {
	const query = `
UPDATE vehicles SET is_published = false, updated_at = now()
WHERE crmid = $1
RETURNING id::text, slug`
	res := inventory.UpsertResult{Action: inventory.ActionSold}
	if err := s.db.QueryRow(ctx, query, crmid).Scan(&res.VehicleID, &res.Slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.UpsertResult{}, inventory.ErrVehicleNotFound
		}
		return inventory.UpsertResult{}, fmt.Errorf("mark vehicle sold: %w", err)
	}
	return res, nil
}

// DeleteByCRMID removes the vehicle with crmid; images cascade.
func (s *Store) DeleteByCRMID(ctx context.Context, crmid string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM vehicles WHERE crmid = $1`, crmid)
	if err != nil {
		return false, fmt.Errorf("delete vehicle by crmid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByID removes the vehicle with id; images cascade.
func (s *Store) DeleteByID(ctx context.Context, id string) (bool, error) {
	if !uuid.Valid(id) {
		return false, nil
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM vehicles WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete vehicle by id: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID loads one vehicle without its images.
func (s *Store) GetByID(ctx context.Context, id string) (inventory.Vehicle, error) {
	if !uuid.Valid(id) {
		return inventory.Vehicle{}, inventory.ErrVehicleNotFound
	}
	const query = `
SELECT id::text, crmid, slug, title, brand, model, year, price::float8, km, gear_type, fuel_type,
	condition, hand, categories, short_description, is_published, raw_data, created_at, updated_at
FROM vehicles WHERE id = $1`
	var (
		v   inventory.Vehicle
		raw []byte
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.CRMID, &v.Slug, &v.Title, &v.Brand, &v.Model, &v.Year, &v.Price, &v.Km,
		&v.GearType, &v.FuelType, &v.Condition, &v.Hand, &v.Categories, &v.ShortDescription,
		&v.IsPublished, &raw, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Vehicle{}, inventory.ErrVehicleNotFound
		}
		return inventory.Vehicle{}, fmt.Errorf("get vehicle: %w", err)
	}
	if len(raw) > 0 {
		v.RawData = raw
	}
	if v.Categories == nil {
		v.Categories = []string{}
	}
	return v, nil
}
