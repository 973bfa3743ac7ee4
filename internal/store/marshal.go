package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/allotment/internal/ir"
)

// marshalObject converts an object to canonical JSON TEXT for storage.
func marshalObject(obj ir.Object) (string, error) {
	if obj == nil {
		obj = ir.Object{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalObject parses JSON TEXT into an object. Numbers are kept as
// json.Number so large integers survive and canonical JSON re-encodes them
// byte-for-byte.
func unmarshalObject(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var obj ir.Object
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}

func marshalEvent(e ir.Event) (string, error) {
	data, err := ir.MarshalCanonical(e.Object())
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(data), nil
}

func unmarshalEvent(data string) (ir.Event, error) {
	var e ir.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return ir.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}
