// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package remote

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	ErrFrameTooLarge = errors.New("remote: frame too large")
	ErrFrameInvalid  = errors.New("remote: invalid frame")
)

// frameType identifies link frames
type frameType uint8

const (
	frameAttach   frameType = 0x01
	frameEvent    frameType = 0x02
	frameRequest  frameType = 0x03
	frameResponse frameType = 0x04
	frameError    frameType = 0x05
)

func (t frameType) String() string {
	switch t {
	case frameAttach:
		return "attach"
	case frameEvent:
		return "event"
	case frameRequest:
		return "request"
	case frameResponse:
		return "response"
	case frameError:
		return "error"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

// frame is the unit exchanged on a link.
//
// Body layout: [1 type][4 id][2 nameLen][name][payload]. Stream transports
// prefix it with a 4 byte length.
type frame struct {
	Type    frameType
	ID      uint32
	Name    string
	Payload []byte
}

const frameHeaderSize = 1 + 4 + 2

func (f *frame) size() int {
	return frameHeaderSize + len(f.Name) + len(f.Payload)
}

func (f *frame) marshal() ([]byte, error) {
	if len(f.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: name %d bytes", ErrFrameInvalid, len(f.Name))
	}
	buf := make([]byte, f.size())
	f.put(buf)
	return buf, nil
}

func (f *frame) put(buf []byte) {
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(f.Name)))
	copy(buf[7:], f.Name)
	copy(buf[7+len(f.Name):], f.Payload)
}

func (f *frame) unmarshal(buf []byte) error {
	if len(buf) < frameHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameInvalid, len(buf))
	}
	nameLen := int(binary.BigEndian.Uint16(buf[5:7]))
	if len(buf) < frameHeaderSize+nameLen {
		return fmt.Errorf("%w: name overruns frame", ErrFrameInvalid)
	}
	f.Type = frameType(buf[0])
	f.ID = binary.BigEndian.Uint32(buf[1:5])
	f.Name = string(buf[7 : 7+nameLen])
	f.Payload = buf[7+nameLen:]
	return nil
}

// writeFrame writes f with its length prefix in a single Write.
func writeFrame(w io.Writer, f *frame, max uint32) error {
	n := f.size()
	if uint64(n) > uint64(max) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
	}
	if len(f.Name) > math.MaxUint16 {
		return fmt.Errorf("%w: name %d bytes", ErrFrameInvalid, len(f.Name))
	}
	buf := make([]byte, 4+n)
	binary.BigEndian.PutUint32(buf[0:4], uint32(n))
	f.put(buf[4:])
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader, max uint32) (*frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, fmt.Errorf("%w: empty", ErrFrameInvalid)
	}
	if n > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, max)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	f := &frame{}
	if err := f.unmarshal(buf); err != nil {
		return nil, err
	}
	return f, nil
}

type wireError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func encodeFrameError(err error) []byte {
	we := wireError{Code: CodeOf(err), Message: err.Error()}
	var e *Error
	if errors.As(err, &e) {
		we.Message = e.Message
	}
	b, _ := json.Marshal(we)
	return b
}

func decodeFrameError(payload []byte) error {
	var we wireError
	if err := json.Unmarshal(payload, &we); err != nil || we.Code == "" {
		return &Error{Code: CodeRemote, Message: string(payload)}
	}
	return &Error{Code: we.Code, Message: we.Message}
}
