package condoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
)

var (
	ErrUnauthorized = &sentinel{"unauthorized"}
	ErrForbidden    = &sentinel{"forbidden"}
	ErrNotFound     = &sentinel{"not found"}
	// ErrRejected matches backend validation failures (400, 409, 422).
	ErrRejected = &sentinel{"rejected"}
)

type sentinel struct{ msg string }

func (s *sentinel) Error() string { return "condoapi: " + s.msg }

// APIError is a non-2xx backend response. Detail is the backend's human message, if any.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("condoapi: backend returned %d", e.Status)
	}
	return fmt.Sprintf("condoapi: backend returned %d: %s", e.Status, e.Detail)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrRejected:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusConflict || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

// detailFrom extracts a message from {"detail": ...}-style bodies, or flattens DRF
// field errors ({"field": ["msg"]}) into "field: msg" pairs.
func detailFrom(body []byte) string {
	var obj map[string]json.RawMessage
	if json.Unmarshal(body, &obj) != nil {
		return ""
	}
	if raw, ok := obj["values"]; ok {
		if d := detailFrom(raw); d != "" {
			return d
		}
	}
	for _, k := range []string{"detail", "error", "message"} {
		var s string
		if raw, ok := obj[k]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var parts []string
	for _, k := range keys {
		var msgs []string
		if json.Unmarshal(obj[k], &msgs) != nil || len(msgs) == 0 {
			continue
		}
		if k == "non_field_errors" {
			parts = append(parts, msgs[0])
			continue
		}
		parts = append(parts, k+": "+msgs[0])
	}
	return strings.Join(parts, "; ")
}
