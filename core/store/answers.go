package store

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Answers maps a step message to the user's answer and remembers the order in which
// steps were first answered. Re-answering a step overwrites the value in place.
type Answers struct {
	keys   []string
	values map[string]string
}

// Set records value under key.
func (a *Answers) Set(key, value string) {
	if a.values == nil {
		a.values = make(map[string]string)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = value
}

// Get returns the answer stored under key.
func (a Answers) Get(key string) (string, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Len returns the number of answered steps.
func (a Answers) Len() int { return len(a.keys) }

// Keys returns step messages in answer order.
func (a Answers) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	out := Answers{keys: append([]string(nil), a.keys...)}
	if a.values != nil {
		out.values = make(map[string]string, len(a.values))
		for k, v := range a.values {
			out.values[k] = v
		}
	}
	return out
}

// MarshalJSON writes a JSON object keeping answer order.
func (a Answers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(a.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Non-string values are kept as raw JSON text.
func (a *Answers) UnmarshalJSON(data []byte) error {
	*a = Answers{}
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("answers: expected JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.New("answers: expected string key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		a.Set(key, s)
	}
	_, err = dec.Token()
	return err
}

// Value implements driver.Valuer.
func (a Answers) Value() (driver.Value, error) {
	b, err := a.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Answers) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Answers{}
		return nil
	case []byte:
		return a.UnmarshalJSON(v)
	case string:
		return a.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("answers: cannot scan %T", src)
	}
}
