package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/diet-analysis/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, unavailable(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	uid         TEXT PRIMARY KEY,
	health_data TEXT,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	ingredients TEXT NOT NULL,
	analysis    TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_analyses_user_created ON analyses(user_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return unavailable(err, "sqlite: migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetHealthRecord(ctx context.Context, uid string) (model.HealthRecord, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT health_data FROM users WHERE uid = ?`, uid,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: health record for %s", uid)
	}
	if err != nil {
		return nil, unavailable(err, "sqlite: get health record %s", uid)
	}
	return decodeRecord([]byte(data.String))
}

func (s *SQLiteStore) SetHealthRecord(ctx context.Context, uid string, rec model.HealthRecord) error {
	now := s.now().UTC()
	data, err := encodeRecord(rec, now)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (uid, health_data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(uid) DO UPDATE SET health_data = excluded.health_data, updated_at = excluded.updated_at`,
		uid, string(data), now,
	)
	if err != nil {
		return unavailable(err, "sqlite: set health record %s", uid)
	}
	return nil
}

func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) (*model.AnalysisRecord, error) {
	rec.ID = uuid.New().String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.Ingredients == nil {
		rec.Ingredients = model.IngredientList{}
	}
	ingredients, err := json.Marshal(rec.Ingredients)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal ingredients")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, user_id, ingredients, analysis, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(ingredients), rec.Analysis, rec.CreatedAt,
	)
	if err != nil {
		return nil, unavailable(err, "sqlite: insert analysis")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, ingredients, analysis, created_at FROM analyses
		 WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		uid, clampLimit(limit),
	)
	if err != nil {
		return nil, unavailable(err, "sqlite: list analyses %s", uid)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.AnalysisRecord{}
	for rows.Next() {
		var (
			rec         model.AnalysisRecord
			ingredients string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &ingredients, &rec.Analysis, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		if rec.Ingredients, err = decodeIngredients([]byte(ingredients)); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "sqlite: iterate analyses")
	}
	return out, nil
}
