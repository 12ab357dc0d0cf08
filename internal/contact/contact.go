// Package contact defines the raw and canonical contact records and the
// rules that map arbitrary column labels onto the canonical schema.
package contact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical field names.
const (
	FieldName        = "name"
	FieldEmail       = "email"
	FieldDesignation = "designation"
	FieldLinkedIn    = "linkedin"
)

// CanonicalFields lists the canonical fields in substitution order.
var CanonicalFields = []string{FieldName, FieldEmail, FieldDesignation, FieldLinkedIn}

// Field is a single key/value pair of a record.
type Field struct {
	Key   string
	Value string
}

// Record is one raw row as read from a contact file. Keys keep the order in
// which they appeared in the source and may repeat.
type Record []Field

// Get returns the value of the last field named key.
func (r Record) Get(key string) (string, bool) {
	for i := len(r) - 1; i >= 0; i-- {
		if r[i].Key == key {
			return r[i].Value, true
		}
	}
	return "", false
}

// Contact is a normalized recipient. Extra holds every source field that did
// not match a canonical field, in source order.
type Contact struct {
	Name        string
	Email       string
	Designation string
	LinkedIn    string
	Extra       []Field
}

// Fields returns the canonical field values keyed by canonical name.
func (c Contact) Fields() map[string]string {
	return map[string]string{
		FieldName:        c.Name,
		FieldEmail:       c.Email,
		FieldDesignation: c.Designation,
		FieldLinkedIn:    c.LinkedIn,
	}
}

// Address returns the recipient address with surrounding whitespace removed.
func (c Contact) Address() string {
	return strings.TrimSpace(c.Email)
}

// Valid reports whether the contact carries something that looks like an
// email address.
func (c Contact) Valid() bool {
	addr := c.Address()
	return addr != "" && strings.Contains(addr, "@")
}

// ExtraValue returns the value of the unmatched field named key.
func (c Contact) ExtraValue(key string) (string, bool) {
	return Record(c.Extra).Get(key)
}

func (c *Contact) set(field, value string) {
	switch field {
	case FieldName:
		c.Name = value
	case FieldEmail:
		c.Email = value
	case FieldDesignation:
		c.Designation = value
	case FieldLinkedIn:
		c.LinkedIn = value
	default:
		c.Extra = append(c.Extra, Field{Key: field, Value: value})
	}
}

// MarshalJSON writes the contact as a flat object: canonical fields first,
// then extras in source order. Empty canonical fields other than email are
// omitted. A repeated extra key is written as "key.1", "key.2" and so on.
func (c Contact) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	used := make(map[string]bool)
	write := func(key, value string) error {
		if len(used) > 0 {
			buf.WriteByte(',')
		}
		used[key] = true
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	for _, f := range []Field{
		{FieldName, c.Name},
		{FieldEmail, c.Email},
		{FieldDesignation, c.Designation},
		{FieldLinkedIn, c.LinkedIn},
	} {
		if f.Value == "" && f.Key != FieldEmail {
			continue
		}
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	for _, f := range c.Extra {
		if err := write(uniqueKey(f.Key, used), f.Value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func uniqueKey(key string, used map[string]bool) string {
	if !used[key] {
		return key
	}
	for i := 1; ; i++ {
		if k := fmt.Sprintf("%s.%d", key, i); !used[k] {
			return k
		}
	}
}

// UnmarshalJSON reads a flat contact object. Keys equal to a canonical field
// name fill that field; every other key is kept as an extra.
func (c *Contact) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	rec, err := ReadRecord(dec)
	if err != nil {
		return err
	}

	*c = Contact{}
	for _, f := range rec {
		switch f.Key {
		case FieldName, FieldEmail, FieldDesignation, FieldLinkedIn:
			c.set(f.Key, f.Value)
		default:
			c.Extra = append(c.Extra, f)
		}
	}
	return nil
}

// ReadRecord consumes one JSON object from dec, preserving key order.
// Scalar values are stringified: strings as is, numbers in their literal
// form, booleans as true/false and null as the empty string. Nested arrays
// and objects are kept as compact JSON.
func ReadRecord(dec *json.Decoder) (Record, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	rec := Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		value, err := stringify(raw)
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		rec = append(rec, Field{Key: key, Value: value})
	}

	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return rec, nil
}

func stringify(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case 'n':
		return "", nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return string(trimmed), nil
	}
}
