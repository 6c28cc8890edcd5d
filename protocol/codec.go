package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encodeTagged renders a struct value as {"tag":{...fields...}}, or a bare
// "tag" string when the value has no fields to serialize.
func encodeTagged(tag string, v any) (string, error) {
	fields, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("protocol: encode %s: %w", tag, err)
	}

	if string(fields) == "{}" {
		bare, err := json.Marshal(tag)
		if err != nil {
			return "", fmt.Errorf("protocol: encode %s: %w", tag, err)
		}
		return string(bare), nil
	}

	out, err := json.Marshal(map[string]json.RawMessage{tag: fields})
	if err != nil {
		return "", fmt.Errorf("protocol: encode %s: %w", tag, err)
	}
	return string(out), nil
}

// splitTagged extracts the tag name and raw field bytes from either a bare
// string ("Ok") or a single-key object ({"Tag":{...}}).
func splitTagged(raw string) (tag string, fields json.RawMessage, err error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return "", nil, fmt.Errorf("empty message")
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", nil, fmt.Errorf("invalid bare tag: %w", err)
		}
		return s, json.RawMessage("{}"), nil
	}

	var m map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&m); err != nil {
		return "", nil, fmt.Errorf("invalid tagged object: %w", err)
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant key, got %d", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", nil, fmt.Errorf("unreachable")
}

// decodeStrict unmarshals body into v, rejecting unknown fields.
func decodeStrict(body json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// EncodeTagged is encodeTagged exported for other packages whose own wire
// types follow this module's tagged-union convention (e.g. backtest's
// Definition) rather than reimplementing it.
func EncodeTagged(tag string, v any) (string, error) {
	return encodeTagged(tag, v)
}

// SplitTagged is splitTagged exported for the same reason as EncodeTagged.
func SplitTagged(raw string) (tag string, fields json.RawMessage, err error) {
	return splitTagged(raw)
}

// DecodeStrict is decodeStrict exported for the same reason as EncodeTagged.
func DecodeStrict(body json.RawMessage, v any) error {
	return decodeStrict(body, v)
}
