// Package store persists per-user health records and analysis history.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diet-analysis/internal/model"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultListLimit caps ListAnalyses when the caller passes no limit.
const DefaultListLimit = 20

var (
	// ErrNotFound means the user has no stored health record.
	ErrNotFound = eris.New("store: record not found")

	// ErrStorageUnavailable wraps driver and connection failures.
	ErrStorageUnavailable = eris.New("store: storage unavailable")
)

// Store defines the persistence interface.
type Store interface {
	// GetHealthRecord returns the latest extracted health record for uid,
	// or ErrNotFound.
	GetHealthRecord(ctx context.Context, uid string) (model.HealthRecord, error)

	// SetHealthRecord replaces the user's health record, creating the user
	// if needed. Server timestamps are resolved to the write time.
	SetHealthRecord(ctx context.Context, uid string, rec model.HealthRecord) error

	// SaveAnalysis appends an analysis to the user's history, assigning its
	// ID and creation time.
	SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) (*model.AnalysisRecord, error)

	// ListAnalyses returns the user's most recent analyses, newest first.
	ListAnalyses(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the store named by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

func unavailable(err error, format string, args ...any) error {
	return eris.Wrapf(ErrStorageUnavailable, format+": %v", append(args, err)...)
}

func encodeRecord(rec model.HealthRecord, now time.Time) ([]byte, error) {
	b, err := json.Marshal(rec.Normalize(now))
	if err != nil {
		return nil, eris.Wrap(err, "store: encode health record")
	}
	return b, nil
}

func decodeRecord(b []byte) (model.HealthRecord, error) {
	rec := model.HealthRecord{}
	if len(b) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, eris.Wrap(err, "store: decode health record")
	}
	return rec, nil
}

func decodeIngredients(b []byte) (model.IngredientList, error) {
	list := model.IngredientList{}
	if len(b) == 0 {
		return list, nil
	}
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, eris.Wrap(err, "store: decode ingredients")
	}
	return list, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
