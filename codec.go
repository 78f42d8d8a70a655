// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"encoding/json"
	"fmt"
)

// Codec encodes/decodes channel payloads
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
}

// JSONCodec is a JSON-based codec
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// defaultCodec is used when no codec is specified
var defaultCodec Codec = JSONCodec{}

// BinaryCodec passes bytes through unchanged (for pre-encoded data)
type BinaryCodec struct{}

func (BinaryCodec) Encode(v interface{}) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	if b, ok := v.(*[]byte); ok {
		return *b, nil
	}
	return json.Marshal(v)
}

func (BinaryCodec) Decode(data []byte, v interface{}) error {
	if b, ok := v.(*[]byte); ok {
		*b = data
		return nil
	}
	return json.Unmarshal(data, v)
}

// Binary is a codec that passes bytes through unchanged
var Binary Codec = BinaryCodec{}

func encodePayload(c Codec, v interface{}) ([]byte, error) {
	b, err := c.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// decodePayload decodes data into a fresh T. An empty payload yields the zero value.
func decodePayload[T any](c Codec, data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := c.Decode(data, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// reply is the envelope a remote function answers with.
type reply struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

func encodeReply(c Codec, data []byte, err error) ([]byte, error) {
	r := reply{Success: true, Data: data}
	if err != nil {
		r = reply{Code: CodeOf(err), Message: err.Error()}
		if r.Code == CodeUnknown {
			r.Code = CodeRemote
		}
	}
	return c.Encode(r)
}

func decodeReply(c Codec, data []byte) ([]byte, error) {
	var r reply
	if err := c.Decode(data, &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if !r.Success {
		return nil, &Error{Code: r.Code, Message: r.Message}
	}
	return r.Data, nil
}
