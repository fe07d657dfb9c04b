package model

import "time"

// HealthRecord holds a patient's structured health attributes as extracted
// from a medical report. Values are JSON-shaped (string, float64, bool, nil,
// map[string]any, []any) or one of the store sentinels below.
type HealthRecord map[string]any

// ServerTimestamp marks a field whose value is assigned by the store at write
// time.
type ServerTimestamp struct{}

// DocumentRef is a reference to another stored document.
type DocumentRef struct {
	Path string `json:"path"`
}

// String returns the reference path.
func (r DocumentRef) String() string {
	return r.Path
}

// IsEmpty reports whether the record holds no fields.
func (h HealthRecord) IsEmpty() bool {
	return len(h) == 0
}

// Normalize returns a copy of h in which every store sentinel has been
// replaced by a JSON primitive: ServerTimestamp and time.Time become RFC 3339
// strings, DocumentRef becomes its path. Nested maps and slices are walked.
// Primitive values are left untouched, so Normalize is idempotent.
func (h HealthRecord) Normalize(now time.Time) HealthRecord {
	if h == nil {
		return HealthRecord{}
	}
	out := make(HealthRecord, len(h))
	for k, v := range h {
		out[k] = normalizeValue(v, now)
	}
	return out
}

func normalizeValue(v any, now time.Time) any {
	switch val := v.(type) {
	case ServerTimestamp:
		return now.UTC().Format(time.RFC3339Nano)
	case *ServerTimestamp:
		return now.UTC().Format(time.RFC3339Nano)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case DocumentRef:
		return val.Path
	case *DocumentRef:
		if val == nil {
			return nil
		}
		return val.Path
	case HealthRecord:
		return map[string]any(val.Normalize(now))
	case map[string]any:
		return map[string]any(HealthRecord(val).Normalize(now))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item, now)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	default:
		return v
	}
}
