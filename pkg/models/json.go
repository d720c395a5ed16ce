package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JSONMap is a custom map type that implements driver.Valuer and
// sql.Scanner. This replaces gorm.io/datatypes.JSONMap to avoid pulling
// in gorm.io/driver/sqlite as a transitive dependency (which causes
// SQLite driver conflicts).
//
// It works with both PostgreSQL JSONB and SQLite JSON columns.
type JSONMap map[string]interface{}

// Value implements driver.Valuer interface for database writes.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON map: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner interface for database reads.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to unmarshal JSON map: unsupported type")
	}

	if len(bytes) == 0 {
		*m = nil
		return nil
	}

	parsed := map[string]interface{}{}
	if err := json.Unmarshal(bytes, &parsed); err != nil {
		return fmt.Errorf("invalid JSON in database: %w", err)
	}
	*m = parsed
	return nil
}

// GetString returns the string value for a key, or "" when absent or
// of a different type.
func (m JSONMap) GetString(key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Merge applies updates onto the map following the shallow-merge rule:
// scalars and lists replace, nested maps merge one level deep.
func (m JSONMap) Merge(updates map[string]interface{}) JSONMap {
	out := JSONMap{}
	for k, v := range m {
		out[k] = v
	}
	for k, v := range updates {
		newMap, newIsMap := v.(map[string]interface{})
		oldMap, oldIsMap := out[k].(map[string]interface{})
		if newIsMap && oldIsMap {
			merged := map[string]interface{}{}
			for mk, mv := range oldMap {
				merged[mk] = mv
			}
			for mk, mv := range newMap {
				merged[mk] = mv
			}
			out[k] = merged
			continue
		}
		out[k] = v
	}
	return out
}
