package session

import (
	"encoding/json"
	"errors"
)

// Codec turns payload objects into the string stored in Session.Payload and back.
type Codec interface {
	Serialize(v any) (string, error)
	Deserialize(data string, dst any) error
}

// JSONCodec is the default Codec.
type JSONCodec struct{}

// Serialize encodes v as JSON
func (JSONCodec) Serialize(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Deserialize decodes JSON data into dst
func (JSONCodec) Deserialize(data string, dst any) error {
	if data == "" {
		return errors.Join(ErrDecode, errors.New("empty payload"))
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return errors.Join(ErrDecode, err)
	}
	return nil
}

// TryDecode deserializes data into a T, returning def when decoding fails.
func TryDecode[T any](c Codec, data string, def T) T {
	var v T
	if err := c.Deserialize(data, &v); err != nil {
		return def
	}
	return v
}

// TryEncode serializes v, returning fallback when encoding fails.
func TryEncode(c Codec, v any, fallback string) string {
	s, err := c.Serialize(v)
	if err != nil {
		return fallback
	}
	return s
}
