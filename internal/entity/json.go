package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON is a free-form document column (JSONB on PostgreSQL, TEXT on SQLite).
type JSON map[string]any

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(j))
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *JSON) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into entity.JSON", src)
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	*j = out
	return nil
}
