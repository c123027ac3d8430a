package postgres

import (
	json "github.com/goccy/go-json"
)

// encodeJSON returns payload unchanged, since it is already encoded JSON; it
// is not re-marshalled or validated. A nil payload encodes to a JSON null
// rather than erroring, since not every outbox event carries a body.
func encodeJSON(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return []byte("null"), nil
	}
	return payload, nil
}

func decodeJSON(raw []byte) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}
