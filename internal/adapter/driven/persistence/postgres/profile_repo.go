// Package postgres stores caller profiles in the users table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	out := c
	if out.MaxConns <= 0 {
		out.MaxConns = 10
	}
	if out.MinConns < 0 {
		out.MinConns = 0
	}
	if out.MaxConnLifetime <= 0 {
		out.MaxConnLifetime = 30 * time.Minute
	}
	if out.MaxConnIdleTime <= 0 {
		out.MaxConnIdleTime = 5 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// Open builds a pool and pings the database. dsn must not be logged.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*pgxpool.Pool, error) {
	pool = pool.withDefaults()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	cfg.MaxConns = pool.MaxConns
	cfg.MinConns = pool.MinConns
	cfg.MaxConnLifetime = pool.MaxConnLifetime
	cfg.MaxConnIdleTime = pool.MaxConnIdleTime

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pool.PingTimeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return p, nil
}

const (
	selectProfile = `SELECT id, display_name, COALESCE(avatar_url, '') FROM users WHERE id = $1`
	upsertProfile = `INSERT INTO users (id, display_name, avatar_url) VALUES ($1, $2, NULLIF($3, ''))
ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, avatar_url = EXCLUDED.avatar_url`
)

// DB is the part of *pgxpool.Pool the repository uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type ProfileRepository struct {
	db DB
}

func NewProfileRepository(db DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) FindByID(ctx context.Context, id domain.UserID) (domain.CallerProfile, error) {
	var userID, name, avatar string
	err := r.db.QueryRow(ctx, selectProfile, id.String()).Scan(&userID, &name, &avatar)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CallerProfile{}, domain.ErrProfileNotFound
		}
		return domain.CallerProfile{}, fmt.Errorf("select profile %s: %w", id, err)
	}
	return domain.ResolvedProfile(domain.UserID(userID), name, avatar), nil
}

func (r *ProfileRepository) Save(ctx context.Context, profile domain.CallerProfile) error {
	if _, err := r.db.Exec(ctx, upsertProfile, profile.UserID.String(), profile.Name(), profile.AvatarURL()); err != nil {
		return fmt.Errorf("upsert profile %s: %w", profile.UserID, err)
	}
	return nil
}

const createUsers = `CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	avatar_url   TEXT
)`

// EnsureSchema creates the users table when it is missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, createUsers); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}
