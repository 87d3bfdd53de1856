package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidStart          = errors.New("invalid FLAP start marker")
	ErrInvalidChannel        = errors.New("invalid FLAP channel")
	ErrTruncated             = errors.New("truncated buffer")
	ErrLengthMismatch        = errors.New("declared length does not match payload")
	ErrBadChecksum           = errors.New("legacy checksum mismatch")
	ErrUnsupportedGeneration = errors.New("unsupported protocol generation")
	ErrUnknownRequest        = errors.New("unknown request")
	ErrStringTooLong         = errors.New("string too long for length prefix")
)

// DecodeError reports a malformed packet together with the bytes that failed
type DecodeError struct {
	Op     string // what was being decoded
	Offset int    // cursor position at the failure
	Bytes  []byte // the offending packet
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Dump hex-encodes the offending bytes for diagnostic logging
func (e *DecodeError) Dump() string {
	const max = 512
	if len(e.Bytes) > max {
		return hex.EncodeToString(e.Bytes[:max]) + "..."
	}
	return hex.EncodeToString(e.Bytes)
}

func decodeError(op string, offset int, b []byte, err error) *DecodeError {
	return &DecodeError{Op: op, Offset: offset, Bytes: b, Err: err}
}

// AsDecodeError unwraps err into a *DecodeError if it carries one
func AsDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
