package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/settle/internal/canon"
)

// timeLayout is used for every timestamp column. Fixed width keeps TEXT
// ordering consistent with time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalRecord converts a record to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so identical records store identical bytes.
func marshalRecord(v any) (string, error) {
	tree, err := canon.Normalize(v)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	data, err := canon.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored JSON TEXT into dst.
func unmarshalRecord(data string, dst any) error {
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
