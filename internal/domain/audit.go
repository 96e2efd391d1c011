package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FieldChange records one tracked field moving from one value to another.
// Absent values (an unassigned handler, no feedback) are stored as the empty string
// and rendered as JSON null.
type FieldChange struct {
	Field string
	From  string
	To    string
}

// Changes is the ordered set of field changes made by one update. Order is the order
// fields were detected changed.
type Changes []FieldChange

// Get returns the change recorded for field, if any.
func (c Changes) Get(field string) (FieldChange, bool) {
	for _, change := range c {
		if change.Field == field {
			return change, true
		}
	}
	return FieldChange{}, false
}

// Fields returns the changed field names in order.
func (c Changes) Fields() []string {
	names := make([]string, len(c))
	for i, change := range c {
		names[i] = change.Field
	}
	return names
}

type changeValue struct {
	From *string `json:"from"`
	To   *string `json:"to"`
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// MarshalJSON renders the changes as an object keyed by field name, preserving order.
func (c Changes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, change := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(change.Field)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(changeValue{From: nullable(change.From), To: nullable(change.To)})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the object form produced by MarshalJSON, keeping key order.
func (c *Changes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("changes: expected object, got %v", tok)
	}
	result := Changes{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		field, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("changes: expected field name, got %v", keyTok)
		}
		var val changeValue
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("changes: field %s: %w", field, err)
		}
		result = append(result, FieldChange{Field: field, From: deref(val.From), To: deref(val.To)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = result
	return nil
}

// AuditEntry is an immutable record of what one accepted update changed and when.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Changes   Changes   `json:"changes"`
}
