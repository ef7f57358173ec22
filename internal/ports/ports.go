package ports

import (
	"context"
	"io"
	"time"

	"neurallink/internal/domain"
	"neurallink/internal/pcm"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// CaptureStream is a live microphone stream of float32 little-endian frames.
// Reads block until the device delivers data.
type CaptureStream interface {
	io.Reader
	Stop() error
}

// AudioCapture acquires microphone streams.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (CaptureStream, error)
}

// OutputConfig describes the playback device.
type OutputConfig struct {
	SampleRate int
	Channels   int
}

// BufferSource plays one decoded buffer on an output device.
type BufferSource interface {
	// Start schedules playback at the given device time. onEnded fires once
	// when the buffer finished naturally; it does not fire after Stop.
	Start(at time.Duration, onEnded func()) error
	Stop() error
	Duration() time.Duration
}

// AnalyserTap receives every block of samples rendered by an output device.
type AnalyserTap interface {
	Write(samples []float32)
}

// FrequencySource is the read-only analyser view handed to visualizers.
type FrequencySource interface {
	FFTSize() int
	FrequencyBinCount() int
	ByteFrequencyData(dst []byte)
	ByteTimeDomainData(dst []byte)
}

// Analyser is both ends of a spectral inspection point.
type Analyser interface {
	AnalyserTap
	FrequencySource
}

// OutputDevice is an opened playback device with its own clock.
type OutputDevice interface {
	SampleRate() int
	CurrentTime() time.Duration
	NewSource(buffer *pcm.Buffer) BufferSource
	Attach(tap AnalyserTap)
	Close() error
}

// OutputFactory opens playback devices.
type OutputFactory interface {
	Open(ctx context.Context, cfg OutputConfig) (OutputDevice, error)
}

// SessionOptions configures a remote conversational session.
type SessionOptions struct {
	ModelID             string
	VoiceName           string
	SystemInstruction   string
	APIKey              string
	Endpoint            string
	InputSampleRate     int
	InputTranscription  bool
	OutputTranscription bool
}

// RemoteHandler receives callbacks from a remote session. Implementations
// must not block for long; callbacks run on the provider's receive goroutine.
type RemoteHandler interface {
	OnOpen()
	OnMessage(msg domain.ServerMessage)
	OnClose(reason string)
	OnError(err error)
}

// RemoteSession is an open bidirectional session with the remote model.
type RemoteSession interface {
	Send(chunk []byte) error
	Close() error
}

// RemoteProvider opens remote sessions.
type RemoteProvider interface {
	Open(ctx context.Context, opts SessionOptions, handler RemoteHandler) (RemoteSession, error)
}

// EventSink emits engine state and log lines to the UI.
type EventSink interface {
	StateChanged(status domain.Status)
	LogAppended(entry domain.LogEntry)
}
