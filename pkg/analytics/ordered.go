package analytics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Counts is an ordered name→count mapping. It decodes from a JSON object, keeping
// the service's key order, or from the array form it marshals to.
type Counts []Count

// Rates is an ordered name→rate mapping, decoded like Counts.
type Rates []Rate

func (c *Counts) UnmarshalJSON(data []byte) error {
	if isArray(data) {
		var list []Count
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	names, values, err := decodeOrdered[*float64](data)
	if err != nil {
		return err
	}
	out := make(Counts, 0, len(names))
	for i, name := range names {
		v := 0.0
		if values[i] != nil {
			v = *values[i]
		}
		if v < 0 || v != math.Trunc(v) {
			return fmt.Errorf("count for %q must be a non-negative integer, got %v", name, v)
		}
		out = append(out, Count{Name: name, Count: int(v)})
	}
	*c = out
	return nil
}

func (r *Rates) UnmarshalJSON(data []byte) error {
	if isArray(data) {
		var list []Rate
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*r = list
		return nil
	}
	names, values, err := decodeOrdered[*float64](data)
	if err != nil {
		return err
	}
	out := make(Rates, 0, len(names))
	for i, name := range names {
		v := 0.0
		if values[i] != nil {
			v = *values[i]
		}
		out = append(out, Rate{Name: name, Value: v})
	}
	*r = out
	return nil
}

// Get returns the count for name.
func (c Counts) Get(name string) (int, bool) {
	for _, e := range c {
		if e.Name == name {
			return e.Count, true
		}
	}
	return 0, false
}

// Get returns the rate for name.
func (r Rates) Get(name string) (float64, bool) {
	for _, e := range r {
		if e.Name == name {
			return e.Value, true
		}
	}
	return 0, false
}

func isArray(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// decodeOrdered decodes a JSON object into its keys and values in document order.
// A repeated key keeps its first position and its last value. null decodes as empty.
func decodeOrdered[V any](data []byte) ([]string, []V, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if tok == nil {
		return nil, nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected a JSON object, got %v", tok)
	}

	var names []string
	var values []V
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, errors.New("object key is not a string")
		}
		var v V
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("value for %q: %w", name, err)
		}
		if i, seen := index[name]; seen {
			values[i] = v
			continue
		}
		index[name] = len(names)
		names = append(names, name)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return names, values, nil
}
