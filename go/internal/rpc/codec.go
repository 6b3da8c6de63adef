// Package rpc holds the connect plumbing shared by every service: the JSON
// wire codec and the mapping from domain errors to connect codes.
package rpc

import (
	"bytes"
	"encoding/json"
	"errors"

	"connectrpc.com/connect"
)

const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal rejects unknown fields and trailing data. An empty body decodes as {}.
func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after message")
	}
	return nil
}

// WithJSON installs the JSON codec on a handler or client.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}

// Procedure builds a connect procedure path.
func Procedure(service, method string) string {
	return "/" + service + "/" + method
}
