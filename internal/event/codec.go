package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Encode serializes an envelope into the flat wire object.
func Encode(e Envelope) ([]byte, error) {
	if e.Type == "" {
		return nil, ErrMissingType
	}

	obj := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj[fieldType] = e.Type

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	obj[fieldTimestamp] = ts.UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses a wire message holding exactly one JSON object. Numbers are
// kept as json.Number, so an int payload value comes back as json.Number
// and callers convert with Int64 or Float64. A missing or unparsable timestamp
// is replaced with the receipt time.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, &MalformedMessageError{Raw: data, Err: ErrNotObject}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return Envelope{}, &MalformedMessageError{Raw: data, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return Envelope{}, &MalformedMessageError{Raw: data, Err: ErrTrailingData}
	}

	eventType, _ := obj[fieldType].(string)
	if eventType == "" {
		return Envelope{}, &MalformedMessageError{Raw: data, Err: ErrMissingType}
	}

	env := Envelope{
		Type:      eventType,
		Timestamp: parseTimestamp(obj[fieldTimestamp]),
		Payload:   make(map[string]any, len(obj)),
	}
	for k, v := range obj {
		if k == fieldType || k == fieldTimestamp {
			continue
		}
		env.Payload[k] = v
	}

	return env, nil
}

// parseTimestamp accepts RFC 3339 strings or unix milliseconds.
func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UTC()
		}
	case json.Number:
		if ms, err := ts.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Now().UTC()
}
