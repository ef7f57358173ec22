package domain

import (
	"errors"

	"neurallink/internal/pcm"
)

// ErrorKind labels a failure class for metrics and the UI.
type ErrorKind string

const (
	KindCaptureUnavailable ErrorKind = "capture_unavailable"
	KindOutputUnavailable  ErrorKind = "output_unavailable"
	KindDecode             ErrorKind = "decode"
	KindTransport          ErrorKind = "transport"
	KindConfiguration      ErrorKind = "configuration"
	KindUnknown            ErrorKind = "unknown"
)

var (
	ErrCaptureUnavailable = errors.New("microphone capture unavailable")
	ErrOutputUnavailable  = errors.New("audio output unavailable")
	ErrTransport          = errors.New("remote session failure")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrSessionActive      = errors.New("a session is already active")

	// ErrDecode is the codec's sentinel, shared so callers need one import.
	ErrDecode = pcm.ErrDecode
)

// KindOf classifies err by the sentinel it wraps.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCaptureUnavailable):
		return KindCaptureUnavailable
	case errors.Is(err, ErrOutputUnavailable):
		return KindOutputUnavailable
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindUnknown
	}
}
