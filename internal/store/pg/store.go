// Package pg implementa el ProfileStore sobre Postgres (pgxpool).
package pg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/framedrop/authbridge/internal/observability/logger"
	"github.com/framedrop/authbridge/internal/store/core"
)

type Store struct{ pool *pgxpool.Pool }

// Config es el tuning opcional del pool.
type Config struct {
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
}

func New(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	// Arranque no bloqueante: si la DB está caída se loguea y se sigue.
	if err := pool.Ping(ctx); err != nil {
		logger.Named("pg").Warn("startup ping failed", zap.Error(err))
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations aplica los *_up.sql del directorio en orden lexicográfico.
func (s *Store) RunMigrations(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), "_up.sql") {
			files = append(files, dir+"/"+e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Get devuelve core.ErrNotFound si la cuenta no tiene fila de perfil.
func (s *Store) Get(ctx context.Context, accountID string) (*core.Profile, error) {
	const q = `
SELECT account_id, username, avatar_url, date_of_birth, age
FROM profile
WHERE account_id=$1`
	var p core.Profile
	err := s.pool.QueryRow(ctx, q, accountID).Scan(&p.AccountID, &p.Username, &p.AvatarURL, &p.DateOfBirth, &p.Age)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Insert crea la fila. El UNIQUE de username es el punto real de
// enforcement contra la carrera check-then-insert del allocator.
func (s *Store) Insert(ctx context.Context, p *core.Profile) error {
	const q = `
INSERT INTO profile (account_id, username, avatar_url, date_of_birth, age)
VALUES ($1,$2,$3,$4,$5)`
	_, err := s.pool.Exec(ctx, q, p.AccountID, p.Username, p.AvatarURL, p.DateOfBirth, p.Age)
	if err != nil && isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

// Update modifica username/avatar de una fila existente.
func (s *Store) Update(ctx context.Context, p *core.Profile) error {
	const q = `
UPDATE profile
SET username=$2, avatar_url=$3
WHERE account_id=$1`
	ct, err := s.pool.Exec(ctx, q, p.AccountID, p.Username, p.AvatarURL)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrConflict
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) ExistsByUsername(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM profile WHERE username=$1)`, name).Scan(&exists)
	return exists, err
}
