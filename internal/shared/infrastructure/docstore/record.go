package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// IDField is the unique identifier field of every record.
const IDField = "id"

// Record is one schemaless document in a collection.
type Record map[string]any

// ID returns the record's identifier, or "" when it is missing or not a string.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]any(r)).(map[string]any)
}

// Matches reports whether every filter field equals the record's value.
// Values are compared after JSON normalization, so 3 and 3.0 are equal.
func (r Record) Matches(filter Record) bool {
	for k, want := range filter {
		got, ok := r[k]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(normalizeValue(got), normalizeValue(want)) {
			return false
		}
	}
	return true
}

// Merge returns a copy of the record with patch applied on top.
// The id of the record is never overwritten.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range patch {
		if k == IDField {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Encode converts a typed value into a Record through its JSON form.
func Encode(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return rec, nil
}

// Decode converts a Record into a typed value through its JSON form.
func Decode(rec Record, v any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}

func validateRecords(records []Record) error {
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		id := r.ID()
		if id == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidRecord, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %q appears twice", ErrInvalidRecord, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Record:
		return Record(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
