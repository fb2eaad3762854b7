// Package decode turns raw bus payloads into EventRecords.
//
// Two encodings are accepted, distinguished by their first significant byte:
//
//   - an XES <event> element whose children carry key/value attributes
//     (<string key="concept:name" value="Donor check-in"/>), and
//   - a flat JSON object keyed the same way.
//
// Structured payloads that are already a field map (protobuf Struct bodies)
// go through FromFields. Every path enforces the same rules: concept:name and
// time:timestamp are required, the timestamp is truncated to whole seconds,
// and every other key is carried as an opaque attribute.
package decode

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BrandonDHaskell/ambiguity-detection/internal/ambiguity/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses raw as an XES event or a JSON object.
func Decode(raw []byte) (types.EventRecord, error) {
	b := bytes.TrimSpace(bytes.TrimPrefix(raw, utf8BOM))
	if len(b) == 0 {
		return types.EventRecord{}, malformed("", errors.New("empty payload"))
	}

	var (
		fields map[string]string
		err    error
	)
	switch b[0] {
	case '<':
		fields, err = xesFields(b)
	case '{':
		fields, err = jsonFields(b)
	default:
		return types.EventRecord{}, malformed("", fmt.Errorf("unrecognized payload starting with %q", b[0]))
	}
	if err != nil {
		return types.EventRecord{}, err
	}
	return FromFields(fields)
}

// FromFields validates a decoded key/value map and builds the record.
// The input map is not retained.
func FromFields(fields map[string]string) (types.EventRecord, error) {
	activity := strings.TrimSpace(fields[types.KeyActivity])
	if activity == "" {
		return types.EventRecord{}, missing(types.KeyActivity)
	}

	rawTS := strings.TrimSpace(fields[types.KeyTimestamp])
	if rawTS == "" {
		return types.EventRecord{}, missing(types.KeyTimestamp)
	}
	ts, err := ParseTimestamp(rawTS)
	if err != nil {
		return types.EventRecord{}, malformed(types.KeyTimestamp, err)
	}

	var attrs map[string]string
	for k, v := range fields {
		if k == types.KeyActivity || k == types.KeyTimestamp {
			continue
		}
		if attrs == nil {
			attrs = make(map[string]string, len(fields))
		}
		attrs[k] = v
	}

	return types.EventRecord{
		Activity:   activity,
		Timestamp:  ts,
		Attributes: attrs,
	}, nil
}

// Accepted timestamp layouts, tried in order. time.Parse tolerates a
// fractional-seconds field after the seconds even when the layout omits it.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601-like timestamp and truncates it to the
// second in UTC. Zone-less values are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid isoformat string: %q", s)
}

// ── XES ──────────────────────────────────────────────────────────────────────

type xesElement struct {
	XMLName  xml.Name
	Children []xesAttribute `xml:",any"`
}

type xesAttribute struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

func (a xesAttribute) lookup(name string) (string, bool) {
	for _, at := range a.Attrs {
		if at.Name.Local == name {
			return at.Value, true
		}
	}
	return "", false
}

func xesFields(b []byte) (map[string]string, error) {
	var ev xesElement
	if err := xml.Unmarshal(b, &ev); err != nil {
		return nil, malformed("", fmt.Errorf("xml: %w", err))
	}

	fields := make(map[string]string, len(ev.Children))
	for _, child := range ev.Children {
		key, okKey := child.lookup("key")
		value, okValue := child.lookup("value")
		// Children without both attributes carry nothing we can map.
		if !okKey || !okValue {
			continue
		}
		fields[key] = value
	}
	return fields, nil
}

// ── JSON ─────────────────────────────────────────────────────────────────────

func jsonFields(b []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, malformed("", fmt.Errorf("json: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("", errors.New("json: trailing data after event object"))
	}

	fields := make(map[string]string, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case nil:
			continue
		case string:
			fields[k] = x
		case json.Number:
			fields[k] = x.String()
		case bool:
			if x {
				fields[k] = "true"
			} else {
				fields[k] = "false"
			}
		default:
			nested, err := json.Marshal(x)
			if err != nil {
				return nil, malformed(k, err)
			}
			fields[k] = string(nested)
		}
	}
	return fields, nil
}
