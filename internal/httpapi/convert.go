package httpapi

import (
	"encoding/json"
	"strconv"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/store"
	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
)

// ── Events ───────────────────────────────────────────────────────────────────

// structFields flattens a Struct into the string map the decoder expects.
// Nulls are dropped; nested lists and structs are kept as JSON text.
func structFields(s *structpb.Struct) map[string]string {
	out := make(map[string]string, len(s.GetFields()))
	for k, v := range s.GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_NullValue:
			continue
		case *structpb.Value_StringValue:
			out[k] = kind.StringValue
		case *structpb.Value_NumberValue:
			out[k] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		case *structpb.Value_BoolValue:
			out[k] = strconv.FormatBool(kind.BoolValue)
		default:
			b, err := json.Marshal(v.AsInterface())
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

func ingestResponseToProto(r types.IngestResponse) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":      structpb.NewBoolValue(r.OK),
		"pending": structpb.NewNumberValue(float64(r.Pending)),
	}}
}

// ── Decisions ────────────────────────────────────────────────────────────────

func decisionView(rec store.DecisionRecord) types.DecisionView {
	return types.DecisionView{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Events:    rec.Records,
		EmittedAt: rec.EmittedAt.UTC().Format(time.RFC3339Nano),
		Delivered: rec.Delivered,
		Failure:   rec.Failure,
	}
}
