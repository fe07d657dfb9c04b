package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diet-analysis/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by PostgresStore. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, unavailable(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable(err, "postgres: ping")
	}
	return newPostgresWithPool(pool), nil
}

func newPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	uid         TEXT PRIMARY KEY,
	health_data JSONB,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analyses (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id     TEXT NOT NULL,
	ingredients JSONB NOT NULL,
	analysis    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_user_created ON analyses(user_id, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return unavailable(err, "postgres: migrate")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetHealthRecord(ctx context.Context, uid string) (model.HealthRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT health_data FROM users WHERE uid = $1`, uid,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && data == nil) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: health record for %s", uid)
	}
	if err != nil {
		return nil, unavailable(err, "postgres: get health record %s", uid)
	}
	return decodeRecord(data)
}

func (s *PostgresStore) SetHealthRecord(ctx context.Context, uid string, rec model.HealthRecord) error {
	now := s.now().UTC()
	data, err := encodeRecord(rec, now)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (uid, health_data, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (uid) DO UPDATE SET health_data = EXCLUDED.health_data, updated_at = EXCLUDED.updated_at`,
		uid, data, now,
	)
	if err != nil {
		return unavailable(err, "postgres: set health record %s", uid)
	}
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) (*model.AnalysisRecord, error) {
	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Ingredients == nil {
		rec.Ingredients = model.IngredientList{}
	}
	ingredients, err := json.Marshal(rec.Ingredients)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal ingredients")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (id, user_id, ingredients, analysis, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, ingredients, rec.Analysis, rec.CreatedAt,
	)
	if err != nil {
		return nil, unavailable(err, "postgres: insert analysis")
	}
	return &rec, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, ingredients, analysis, created_at FROM analyses
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		uid, clampLimit(limit),
	)
	if err != nil {
		return nil, unavailable(err, "postgres: list analyses %s", uid)
	}
	defer rows.Close()

	out := []model.AnalysisRecord{}
	for rows.Next() {
		var (
			rec         model.AnalysisRecord
			ingredients []byte
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &ingredients, &rec.Analysis, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		if rec.Ingredients, err = decodeIngredients(ingredients); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "postgres: iterate analyses")
	}
	return out, nil
}
