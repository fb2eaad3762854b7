package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// XES attribute keys carried by every admitted event.
const (
	KeyActivity  = "concept:name"
	KeyTimestamp = "time:timestamp"
)

// TimestampLayout is the whole-second form timestamps are compared and
// serialized in. Sub-second jitter between near-simultaneous events is dropped.
const TimestampLayout = "2006-01-02T15:04:05"

// EventRecord is one decoded process event.
//
// On the wire it is the flat XES-keyed object the orchestrator consumes:
//
//	{"concept:name": "Donor check-in", "time:timestamp": "2024-09-11T15:56:16", "perform:donor": "D001"}
//
// The timestamp is written as a zone-less UTC wall clock. An input of
// 2024-09-11T15:56:16+02:00 goes out as "2024-09-11T13:56:16", not as the
// source's local 15:56:16.
type EventRecord struct {
	Activity   string
	Timestamp  time.Time // UTC, truncated to the second
	Attributes map[string]string
}

func (r EventRecord) MarshalJSON() ([]byte, error) {
	m := make(map[string]string, len(r.Attributes)+2)
	for k, v := range r.Attributes {
		m[k] = v
	}
	m[KeyActivity] = r.Activity
	m[KeyTimestamp] = r.Timestamp.UTC().Format(TimestampLayout)
	return json.Marshal(m)
}

func (r *EventRecord) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampLayout, m[KeyTimestamp])
	if err != nil {
		return fmt.Errorf("event record %s: %w", KeyTimestamp, err)
	}
	r.Activity = m[KeyActivity]
	r.Timestamp = ts.UTC()
	delete(m, KeyActivity)
	delete(m, KeyTimestamp)
	if len(m) == 0 {
		m = nil
	}
	r.Attributes = m
	return nil
}
