package domain

import "time"

// ConnectionState models the remote session lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// Busy reports whether a session occupies the engine in this state.
func (s ConnectionState) Busy() bool {
	return s == StateConnecting || s == StateConnected
}

// Sender identifies who produced a log line.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
	SenderAI     Sender = "ai"
)

// LogEntry is an immutable line of the conversation log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
}

// Status summarizes the current engine status.
type Status struct {
	State     ConnectionState `json:"state"`
	Active    bool            `json:"active"`
	SessionID string          `json:"sessionId,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Provider names a remote conversational backend.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderCustom Provider = "custom"
)

// Profile is the caller supplied connection configuration.
type Profile struct {
	Provider          Provider `json:"provider" yaml:"provider"`
	ModelID           string   `json:"modelId" yaml:"modelId"`
	VoiceName         string   `json:"voiceName" yaml:"voiceName"`
	SystemInstruction string   `json:"systemInstruction" yaml:"systemInstruction"`
	APIKey            string   `json:"-" yaml:"apiKey"`
	RelayURL          string   `json:"relayUrl,omitempty" yaml:"relayUrl"`
}

// ServerMessage is one inbound event from the remote model.
type ServerMessage struct {
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
	Audio            [][]byte
	Interrupted      bool
}

// Diagnostics is a point-in-time view of the engine internals.
type Diagnostics struct {
	Status                  Status        `json:"status"`
	ActivePlaybackUnits     int           `json:"activePlaybackUnits"`
	NextStartTime           time.Duration `json:"nextStartTime"`
	DeviceTime              time.Duration `json:"deviceTime"`
	PendingInputTranscript  string        `json:"pendingInputTranscript,omitempty"`
	PendingOutputTranscript string        `json:"pendingOutputTranscript,omitempty"`
}
