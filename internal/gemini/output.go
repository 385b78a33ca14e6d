package gemini

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StructuredOutput is a flat mapping from field name to a typed value. It
// keeps insertion order so the serialized object lists keys in field
// declaration order, which a plain map would not.
type StructuredOutput struct {
	keys   []string
	values map[string]any
}

func NewStructuredOutput() *StructuredOutput {
	return &StructuredOutput{values: make(map[string]any)}
}

func (o *StructuredOutput) Set(key string, value any) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

func (o *StructuredOutput) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

func (o *StructuredOutput) Keys() []string {
	return o.keys
}

func (o *StructuredOutput) Len() int {
	return len(o.keys)
}

func (o *StructuredOutput) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, fmt.Errorf("error serializing output value for %q: %w", key, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *StructuredOutput) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("structured output must be a JSON object")
	}

	o.keys = nil
	o.values = make(map[string]any)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		o.Set(key, value)
	}

	// consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
