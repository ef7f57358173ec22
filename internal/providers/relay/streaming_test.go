package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"neurallink/internal/domain"
	"neurallink/internal/ports"
)

type recordingHandler struct {
	opened   chan struct{}
	messages chan domain.ServerMessage
	closed   chan string
	errs     chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan struct{}, 1),
		messages: make(chan domain.ServerMessage, 8),
		closed:   make(chan string, 1),
		errs:     make(chan error, 1),
	}
}

func (h *recordingHandler) OnOpen()                            { h.opened <- struct{}{} }
func (h *recordingHandler) OnMessage(msg domain.ServerMessage) { h.messages <- msg }
func (h *recordingHandler) OnClose(reason string)              { h.closed <- reason }
func (h *recordingHandler) OnError(err error)                  { h.errs <- err }

func waitOn[T any](t *testing.T, what string, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

var upgrader = websocket.Upgrader{}

func TestProviderOpenStreamsAndReceives(t *testing.T) {
	t.Parallel()

	setups := make(chan setupMessage, 1)
	inputs := make(chan realtimeInputMessage, 1)
	auth := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setupMsg setupMessage
		if err := conn.ReadJSON(&setupMsg); err != nil {
			return
		}
		setups <- setupMsg
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})

		var input realtimeInputMessage
		if err := conn.ReadJSON(&input); err != nil {
			return
		}
		inputs <- input

		_ = conn.WriteJSON(serverMessage{ServerContent: &serverContent{
			ModelTurn: &content{Parts: []part{
				{InlineData: &blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 0, 2, 0}}},
				{Text: "ignored"},
			}},
			InputTranscription:  &transcription{Text: "hi"},
			OutputTranscription: &transcription{Text: "hello"},
			TurnComplete:        true,
		}})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	handler := newRecordingHandler()
	session, err := NewProvider(Config{}).Open(context.Background(), ports.SessionOptions{
		ModelID:             "model-x",
		VoiceName:           "Puck",
		SystemInstruction:   "be brief",
		APIKey:              "secret",
		Endpoint:            server.URL,
		InputSampleRate:     16000,
		InputTranscription:  true,
		OutputTranscription: true,
	}, handler)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer session.Close()

	if got := waitOn(t, "auth header", auth); got != "Bearer secret" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
	setupMsg := waitOn(t, "setup", setups)
	if setupMsg.Setup.Model != "model-x" {
		t.Fatalf("unexpected model: %q", setupMsg.Setup.Model)
	}
	if sc := setupMsg.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Puck" {
		t.Fatalf("expected voice config in setup")
	}
	if setupMsg.Setup.InputAudioTranscription == nil || setupMsg.Setup.OutputAudioTranscription == nil {
		t.Fatalf("expected transcription enabled in setup")
	}
	if got := setupMsg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
		t.Fatalf("unexpected modalities: %v", got)
	}

	waitOn(t, "open callback", handler.opened)
	if err := session.Send([]byte{9, 9}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	input := waitOn(t, "realtime input", inputs)
	chunks := input.RealtimeInput.MediaChunks
	if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" || string(chunks[0].Data) != string([]byte{9, 9}) {
		t.Fatalf("unexpected realtime input: %+v", chunks)
	}

	msg := waitOn(t, "server content", handler.messages)
	if msg.InputTranscript != "hi" || msg.OutputTranscript != "hello" || !msg.TurnComplete {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if len(msg.Audio) != 1 || len(msg.Audio[0]) != 4 {
		t.Fatalf("unexpected audio parts: %+v", msg.Audio)
	}

	if reason := waitOn(t, "close callback", handler.closed); reason != "bye" {
		t.Fatalf("unexpected close reason: %q", reason)
	}
}

func TestProviderReportsAbruptDisconnect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var setupMsg setupMessage
		_ = conn.ReadJSON(&setupMsg)
		_ = conn.Close()
	}))
	defer server.Close()

	handler := newRecordingHandler()
	session, err := NewProvider(Config{}).Open(context.Background(), ports.SessionOptions{Endpoint: server.URL}, handler)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer session.Close()

	if err := waitOn(t, "error callback", handler.errs); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestSessionCloseIsSilentAndStopsSends(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := newRecordingHandler()
	session, err := NewProvider(Config{}).Open(context.Background(), ports.SessionOptions{Endpoint: server.URL}, handler)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if err := session.Send([]byte{1, 2}); !errors.Is(err, errSessionClosed) {
		t.Fatalf("expected errSessionClosed, got %v", err)
	}

	select {
	case reason := <-handler.closed:
		t.Fatalf("local close must not report, got %q", reason)
	case err := <-handler.errs:
		t.Fatalf("local close must not report, got %v", err)
	default:
	}
}

func TestProviderOpenRejectsMissingEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{}).Open(context.Background(), ports.SessionOptions{}, newRecordingHandler())
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestBuildRelayURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://relay.example.com/live": "wss://relay.example.com/live",
		"http://localhost:9000":          "ws://localhost:9000",
		"wss://relay.example.com":        "wss://relay.example.com",
	}
	for in, want := range cases {
		got, err := buildRelayURL(in)
		if err != nil {
			t.Fatalf("buildRelayURL(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("buildRelayURL(%q) = %q, want %q", in, got, want)
		}
	}

	if _, err := buildRelayURL("ftp://relay"); err == nil || !strings.Contains(err.Error(), "ws or wss") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestServerContentSkipsNonAudioParts(t *testing.T) {
	t.Parallel()

	c := serverContent{
		Interrupted: true,
		ModelTurn: &content{Parts: []part{
			{InlineData: &blob{MIMEType: "image/png", Data: []byte{1}}},
			{InlineData: &blob{MIMEType: "audio/pcm", Data: nil}},
			{InlineData: &blob{MIMEType: "audio/pcm", Data: []byte{1, 2}}},
		}},
	}
	msg := c.toDomain()
	if !msg.Interrupted || len(msg.Audio) != 1 {
		t.Fatalf("unexpected mapping: %+v", msg)
	}
}

func TestStreamingSessionSendBlocksOnFullQueue(t *testing.T) {
	t.Parallel()

	session := &streamingSession{
		audio:   make(chan []byte, 1),
		closing: make(chan struct{}),
	}
	if err := session.Send([]byte{0x01, 0x00}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- session.Send([]byte{0x02, 0x00}) }()
	select {
	case err := <-result:
		t.Fatalf("send returned on a full queue: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(session.closing)
	select {
	case err := <-result:
		if !errors.Is(err, errSessionClosed) {
			t.Fatalf("expected errSessionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("send stayed blocked after close")
	}
	if queued := <-session.audio; queued[0] != 0x01 {
		t.Fatalf("unexpected queued chunk: %v", queued)
	}
}
