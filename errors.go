package openh264

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUninitialized    = errors.New("codec not initialized")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrEncoder          = errors.New("encoder error")
	ErrDecoder          = errors.New("decoder error")
	ErrProviderNotFound = errors.New("provider not available")

	// ErrKeyFrameRequired is returned by a strict decoder that has not yet
	// seen a complete key frame.
	ErrKeyFrameRequired = fmt.Errorf("%w: key frame required", ErrDecoder)
)

// CodecError reports a non-zero status returned by the codec library.
type CodecError struct {
	Op   string // Library call that failed
	Code int    // Raw library status
	kind error  // ErrEncoder or ErrDecoder
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("%s: %s failed with status %d", e.kind, e.Op, e.Code)
}

func (e *CodecError) Unwrap() error {
	return e.kind
}

// IsCodecError reports whether err carries a raw library status and returns it.
func IsCodecError(err error) (*CodecError, bool) {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func encoderError(op string, code int) error {
	return &CodecError{Op: op, Code: code, kind: ErrEncoder}
}

func decoderError(op string, code int) error {
	return &CodecError{Op: op, Code: code, kind: ErrDecoder}
}

// Status is the numeric result code of a codec call.
type Status int

const (
	StatusOK            Status = 0
	StatusError         Status = -1
	StatusErrParameter  Status = -4
	StatusUninitialized Status = -7
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusErrParameter:
		return "invalid parameter"
	case StatusUninitialized:
		return "uninitialized"
	default:
		return "unknown"
	}
}

// StatusOf maps an error returned by this package to its result code.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrUninitialized):
		return StatusUninitialized
	case errors.Is(err, ErrInvalidParameter):
		return StatusErrParameter
	default:
		return StatusError
	}
}
