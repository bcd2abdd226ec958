package condoapi

import (
	"bytes"
	"encoding/json"
)

// decodeEnvelope unwraps the backend's optional {"values": ...} wrapper.
func decodeEnvelope(data []byte, out any) error {
	return json.Unmarshal(unwrapValues(data), out)
}

func unwrapValues(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var env struct {
		Values json.RawMessage `json:"values"`
	}
	if json.Unmarshal(trimmed, &env) != nil {
		return trimmed
	}
	if v := bytes.TrimSpace(env.Values); len(v) > 0 && !bytes.Equal(v, []byte("null")) {
		return v
	}
	return trimmed
}

// decodeList accepts a bare array or a page object carrying results or items.
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []T
		err := json.Unmarshal(trimmed, &items)
		return items, err
	}
	var page struct {
		Results []T `json:"results"`
		Items   []T `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return nil, err
	}
	if page.Results != nil {
		return page.Results, nil
	}
	return page.Items, nil
}
