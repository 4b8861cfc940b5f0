package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"calsyncd/internal/model"
)

// Timestamps are stored as RFC 3339 (nanosecond precision) UTC strings.
// Zero times map to NULL so "never pushed" and "no window" stay distinct
// from any real instant.

func timeToDB(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// reqTimeToDB is for NOT NULL timestamp columns.
func reqTimeToDB(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timeFromDB(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", ns.String, err)
	}
	return t.UTC(), nil
}

// marshalPayload serializes a job payload to the JSON column value. The
// persisted shape must round-trip exactly across process restarts.
func marshalPayload(p model.Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func unmarshalPayload(raw string) (model.Payload, error) {
	var p model.Payload
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.SplitBoundary != nil {
		utc := p.SplitBoundary.UTC()
		p.SplitBoundary = &utc
	}
	return p, nil
}
