package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoObject is returned when a response does not contain a JSON object
var ErrNoObject = errors.New("no JSON object in response")

// Object decoded top-level JSON object of a model response
type Object map[string]json.RawMessage

// DecodeObject extracts the JSON object from a model response.
// Markdown code fences and surrounding prose are ignored.
func DecodeObject(text string) (Object, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i != -1 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j != -1 {
			rest = rest[:j]
		}
		text = strings.TrimSpace(rest)
	}

	if strings.HasPrefix(text, "[") {
		return nil, ErrNoObject
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, ErrNoObject
	}

	var obj Object
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoObject, err)
	}
	if obj == nil {
		return nil, ErrNoObject
	}
	return obj, nil
}

// present returns the raw value of key unless it is absent or null
func (o Object) present(key string) (json.RawMessage, bool) {
	raw, ok := o[key]
	if !ok {
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// GetString returns a trimmed string field. Empty strings count as unset.
func (o Object) GetString(key string) (*string, error) {
	raw, ok := o.present(key)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("field %q: expected string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// GetFloat returns a numeric field. Numeric strings are accepted.
func (o Object) GetFloat(key string) (*float64, error) {
	raw, ok := o.present(key)
	if !ok {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f, nil
		}
	}
	return nil, fmt.Errorf("field %q: expected number", key)
}

// GetInt returns an integral numeric field. Fractional values are rejected.
func (o Object) GetInt(key string) (*int, error) {
	f, err := o.GetFloat(key)
	if err != nil || f == nil {
		return nil, err
	}
	if math.IsNaN(*f) || math.IsInf(*f, 0) || *f != math.Trunc(*f) {
		return nil, fmt.Errorf("field %q: expected integer", key)
	}
	n := int(*f)
	return &n, nil
}

// GetStrings returns a list of non-empty strings. A single string is accepted as a one-item list.
func (o Object) GetStrings(key string) ([]string, error) {
	raw, ok := o.present(key)
	if !ok {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("field %q: expected list of strings", key)
		}
		list = []string{s}
	}

	var out []string
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, nil
}

// GetObject returns a nested object field
func (o Object) GetObject(key string) (Object, error) {
	raw, ok := o.present(key)
	if !ok {
		return nil, nil
	}
	var nested Object
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("field %q: expected object", key)
	}
	return nested, nil
}
