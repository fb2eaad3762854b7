package types

import (
	"encoding/json"
	"time"
)

// DecisionKind names the orchestrator endpoint a decision is delivered to.
type DecisionKind string

const (
	KindUnambiguous DecisionKind = "unambiguous-event"
	KindAmbiguous   DecisionKind = "ambiguous-event"
)

// FlushDecision is the single outcome of one quiet period.
// Unambiguous decisions carry exactly one record; ambiguous decisions carry
// the whole episode (two or more records) in arrival order.
type FlushDecision struct {
	ID        string
	Kind      DecisionKind
	Records   []EventRecord
	EmittedAt time.Time
}

// Payload returns the orchestrator request body:
// {"events": {...}} for an unambiguous decision, {"events": [...]} otherwise.
func (d FlushDecision) Payload() ([]byte, error) {
	if d.Kind == KindUnambiguous && len(d.Records) == 1 {
		return json.Marshal(struct {
			Events EventRecord `json:"events"`
		}{d.Records[0]})
	}
	return json.Marshal(struct {
		Events []EventRecord `json:"events"`
	}{d.Records})
}

// DetectorStatus is the GET /v1/status response.
type DetectorStatus struct {
	State       string `json:"state"` // "idle" | "accumulating"
	Pending     int    `json:"pending"`
	QuietPeriod string `json:"quiet_period"`
	ServerTime  string `json:"server_time"`
}

// IngestResponse acknowledges an accepted event.
type IngestResponse struct {
	OK      bool `json:"ok"`
	Pending int  `json:"pending"`
}

// DecisionView is the JSON form of a journalled decision.
type DecisionView struct {
	ID        string        `json:"id"`
	Kind      DecisionKind  `json:"kind"`
	Events    []EventRecord `json:"events"`
	EmittedAt string        `json:"emitted_at"`
	Delivered bool          `json:"delivered"`
	Failure   string        `json:"failure,omitempty"`
}
