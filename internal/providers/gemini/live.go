// Package gemini opens Gemini Live sessions through the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"neurallink/internal/domain"
	"neurallink/internal/logging"
	"neurallink/internal/pcm"
	"neurallink/internal/ports"
)

var errSessionClosed = errors.New("live session closed")

// liveSession is the part of *genai.Session the provider drives.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, opts ports.SessionOptions) (liveSession, error)

// Config controls the Gemini Live client.
type Config struct {
	// BaseURL overrides the API endpoint, mostly for proxies.
	BaseURL string
	Logger  *slog.Logger
}

// Provider implements ports.RemoteProvider for Gemini Live.
type Provider struct {
	connect connectFunc
	logger  *slog.Logger
}

func NewProvider(cfg Config) *Provider {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Provider{
		connect: func(ctx context.Context, opts ports.SessionOptions) (liveSession, error) {
			return dialLive(ctx, cfg.BaseURL, opts)
		},
		logger: logger,
	}
}

func dialLive(ctx context.Context, baseURL string, opts ports.SessionOptions) (liveSession, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	session, err := client.Live.Connect(ctx, opts.ModelID, buildConnectConfig(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini Live: %w", err)
	}
	return session, nil
}

func buildConnectConfig(opts ports.SessionOptions) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if opts.VoiceName != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.VoiceName},
			},
		}
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if opts.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	if opts.OutputTranscription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cfg
}

func (p *Provider) Open(ctx context.Context, opts ports.SessionOptions, handler ports.RemoteHandler) (ports.RemoteSession, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: Gemini API key is not configured", domain.ErrConfiguration)
	}
	if strings.TrimSpace(opts.ModelID) == "" {
		return nil, fmt.Errorf("%w: Gemini model is not configured", domain.ErrConfiguration)
	}

	conn, err := p.connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	rate := opts.InputSampleRate
	if rate <= 0 {
		rate = 16000
	}
	s := &stream{
		session:  conn,
		handler:  handler,
		logger:   p.logger,
		mimeType: pcm.MIMEType(rate),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	handler.OnOpen()
	go s.receiveLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type stream struct {
	session  liveSession
	handler  ports.RemoteHandler
	logger   *slog.Logger
	mimeType string

	sendMu    sync.Mutex
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Send forwards one encoded chunk as realtime audio input.
func (s *stream) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.closed() {
		return errSessionClosed
	}
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk, MIMEType: s.mimeType},
	})
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		err = s.session.Close()
	})
	<-s.done
	return err
}

func (s *stream) closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

func (s *stream) receiveLoop() {
	defer close(s.done)

	for {
		msg, err := s.session.Receive()
		if err != nil {
			s.finish(err)
			return
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			s.logger.Warn("gemini live session going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.ServerContent != nil {
			s.handler.OnMessage(toServerMessage(msg.ServerContent))
		}
	}
}

// finish reports how the receive side ended. Local closes are silent.
func (s *stream) finish(err error) {
	if s.closed() {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			s.handler.OnClose(closeErr.Text)
			return
		}
		reason := closeErr.Text
		if reason == "" {
			reason = fmt.Sprintf("connection closed with code %d", closeErr.Code)
		}
		s.handler.OnClose(reason)
		return
	}
	if errors.Is(err, io.EOF) {
		s.handler.OnClose("")
		return
	}
	s.handler.OnError(fmt.Errorf("failed to read live event: %w", err))
}

func toServerMessage(content *genai.LiveServerContent) domain.ServerMessage {
	msg := domain.ServerMessage{
		TurnComplete: content.TurnComplete,
		Interrupted:  content.Interrupted,
	}
	if content.InputTranscription != nil {
		msg.InputTranscript = content.InputTranscription.Text
	}
	if content.OutputTranscription != nil {
		msg.OutputTranscript = content.OutputTranscription.Text
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			msg.Audio = append(msg.Audio, part.InlineData.Data)
		}
	}
	return msg
}
