// Package relay talks to a self-hosted websocket relay that speaks the
// Live API's JSON framing (setup, realtimeInput, serverContent).
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"neurallink/internal/domain"
	"neurallink/internal/pcm"
	"neurallink/internal/ports"
)

var errSessionClosed = errors.New("relay session closed")

// Config controls relay websocket settings.
type Config struct {
	HandshakeTimeout time.Duration
	SendBuffer       int
}

// Provider implements ports.RemoteProvider over a websocket relay.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (p *Provider) Open(ctx context.Context, opts ports.SessionOptions, handler ports.RemoteHandler) (ports.RemoteSession, error) {
	wsURL, err := buildRelayURL(opts.Endpoint)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		headers.Set("Authorization", "Bearer "+key)
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay websocket: %w", err)
	}
	if err := conn.WriteJSON(buildSetup(opts)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send relay setup: %w", err)
	}

	session := &streamingSession{
		conn:     conn,
		handler:  handler,
		mimeType: pcm.MIMEType(inputRate(opts)),
		audio:    make(chan []byte, p.cfg.SendBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

type streamingSession struct {
	conn     *websocket.Conn
	handler  ports.RemoteHandler
	mimeType string

	audio   chan []byte
	closing chan struct{}
	done    chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Send queues one encoded chunk for the write loop. It blocks while the
// queue is full and fails once the session is closing.
func (s *streamingSession) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	copied := append([]byte(nil), chunk...)
	select {
	case <-s.closing:
		return errSessionClosed
	default:
	}
	select {
	case s.audio <- copied:
		return nil
	case <-s.closing:
		return errSessionClosed
	}
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *streamingSession) closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.closing:
			return
		case chunk := <-s.audio:
			msg := realtimeInputMessage{}
			msg.RealtimeInput.MediaChunks = []blob{{MIMEType: s.mimeType, Data: chunk}}
			if err := s.conn.WriteJSON(msg); err != nil {
				if !s.closed() {
					s.handler.OnError(fmt.Errorf("failed to send audio: %w", err))
				}
				return
			}
		}
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			s.handler.OnError(fmt.Errorf("relay error: %s", msg.Error.Message))
			return
		}
		if msg.SetupComplete != nil {
			s.handler.OnOpen()
		}
		if msg.ServerContent != nil {
			s.handler.OnMessage(msg.ServerContent.toDomain())
		}
	}
}

// finish reports how the read side ended. Local closes are silent.
func (s *streamingSession) finish(err error) {
	if s.closed() {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		s.handler.OnClose(closeErr.Text)
		return
	}
	s.handler.OnError(fmt.Errorf("failed to read relay event: %w", err))
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput struct {
		MediaChunks []blob `json:"mediaChunks"`
	} `json:"realtimeInput"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn"`
	TurnComplete        bool           `json:"turnComplete"`
	Interrupted         bool           `json:"interrupted"`
	InputTranscription  *transcription `json:"inputTranscription"`
	OutputTranscription *transcription `json:"outputTranscription"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete"`
	ServerContent *serverContent `json:"serverContent"`
	Error         *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *serverContent) toDomain() domain.ServerMessage {
	msg := domain.ServerMessage{
		TurnComplete: c.TurnComplete,
		Interrupted:  c.Interrupted,
	}
	if c.InputTranscription != nil {
		msg.InputTranscript = c.InputTranscription.Text
	}
	if c.OutputTranscription != nil {
		msg.OutputTranscript = c.OutputTranscription.Text
	}
	if c.ModelTurn != nil {
		for _, p := range c.ModelTurn.Parts {
			if p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(p.InlineData.MIMEType, "audio/") && p.InlineData.MIMEType != "" {
				continue
			}
			msg.Audio = append(msg.Audio, p.InlineData.Data)
		}
	}
	return msg
}

func buildSetup(opts ports.SessionOptions) setupMessage {
	var msg setupMessage
	msg.Setup.Model = opts.ModelID
	msg.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	if opts.VoiceName != "" {
		speech := &speechConfig{}
		speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = opts.VoiceName
		msg.Setup.GenerationConfig.SpeechConfig = speech
	}
	if opts.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: opts.SystemInstruction}}}
	}
	if opts.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if opts.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

func inputRate(opts ports.SessionOptions) int {
	if opts.InputSampleRate <= 0 {
		return 16000
	}
	return opts.InputSampleRate
}

func buildRelayURL(endpoint string) (string, error) {
	base := strings.TrimSpace(endpoint)
	if base == "" {
		return "", fmt.Errorf("%w: relay URL is not configured", domain.ErrConfiguration)
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	relayURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: invalid relay URL: %v", domain.ErrConfiguration, err)
	}
	if relayURL.Scheme != "ws" && relayURL.Scheme != "wss" {
		return "", fmt.Errorf("%w: relay URL must use ws or wss, got %q", domain.ErrConfiguration, relayURL.Scheme)
	}
	return relayURL.String(), nil
}
