package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"neurallink/internal/domain"
	"neurallink/internal/logging"
	"neurallink/internal/metrics"
	"neurallink/internal/ports"
)

var ErrControllerClosed = errors.New("session controller is closed")

// Lifecycle log lines shown in the conversation log.
const (
	msgInitializing = "Initializing James Core..."
	msgEstablished  = "Neural Link established. Systems online."
	msgTerminated   = "Uplink terminated: "
	msgFailure      = "Neural Link failure."
	msgSystemError  = "System Error: "
	msgShuttingDown = "Shutting down protocols..."
)

// Config controls the duplex audio engine.
type Config struct {
	Input         ports.AudioConfig
	Output        ports.OutputConfig
	CaptureFrames int
	LogCapacity   int

	// FlushTranscriptsOnDisconnect writes unfinished turn fragments to the
	// log on teardown instead of discarding them.
	FlushTranscriptsOnDisconnect bool
}

// Option customizes a SessionController.
type Option func(*SessionController)

func WithLogger(logger *slog.Logger) Option {
	return func(c *SessionController) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *SessionController) {
		c.metrics = m
	}
}

// WithAnalyser sets the constructor for the per-session analyser tap.
func WithAnalyser(newAnalyser func() ports.Analyser) Option {
	return func(c *SessionController) {
		c.newAnalyser = newAnalyser
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *SessionController) {
		if now != nil {
			c.now = now
		}
	}
}

// SessionController runs the duplex voice session: microphone to remote
// model, remote audio to the speaker. A single loop goroutine owns every
// session resource; device and network goroutines only post events to it.
type SessionController struct {
	capture     ports.AudioCapture
	output      ports.OutputFactory
	providers   map[domain.Provider]ports.RemoteProvider
	events      ports.EventSink
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	newAnalyser func() ports.Analyser
	now         func() time.Time
	logs        *logbook

	inbox     chan any
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Loop-owned.
	state   domain.ConnectionState
	current *activeSession

	// Published snapshots for readers outside the loop.
	snapshotMu sync.RWMutex
	status     domain.Status
	analyser   ports.Analyser
}

func NewSessionController(
	capture ports.AudioCapture,
	output ports.OutputFactory,
	providers map[domain.Provider]ports.RemoteProvider,
	events ports.EventSink,
	cfg Config,
	opts ...Option,
) *SessionController {
	if cfg.Input.SampleRate <= 0 {
		cfg.Input.SampleRate = 16000
	}
	if cfg.Input.Channels <= 0 {
		cfg.Input.Channels = 1
	}
	if cfg.Output.SampleRate <= 0 {
		cfg.Output.SampleRate = 24000
	}
	if cfg.Output.Channels <= 0 {
		cfg.Output.Channels = 1
	}
	if cfg.CaptureFrames <= 0 {
		cfg.CaptureFrames = defaultCaptureFrames
	}
	if events == nil {
		events = noopEvents{}
	}

	c := &SessionController{
		capture:   capture,
		output:    output,
		providers: providers,
		events:    events,
		cfg:       cfg,
		logger:    logging.Discard(),
		now:       time.Now,
		logs:      newLogbook(cfg.LogCapacity),
		inbox:     make(chan any),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
		state:     domain.StateDisconnected,
		status:    domain.Status{State: domain.StateDisconnected},
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.run()
	return c
}

// Connect starts a session with profile. It returns once the attempt is
// under way; progress is reported through state changes and log lines.
// ctx bounds the lifetime of the session.
func (c *SessionController) Connect(ctx context.Context, profile domain.Profile) error {
	reply := make(chan error, 1)
	if !c.post(connectCommand{ctx: ctx, profile: profile, reply: reply}) {
		return ErrControllerClosed
	}
	return <-reply
}

// Disconnect tears down the current session, if any, and waits for it.
func (c *SessionController) Disconnect() {
	reply := make(chan struct{})
	if !c.post(disconnectCommand{reply: reply}) {
		return
	}
	<-reply
}

// Close disconnects and stops the controller loop.
func (c *SessionController) Close() {
	c.Disconnect()
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.stopped
}

// Status returns the current engine status.
func (c *SessionController) Status() domain.Status {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	return c.status
}

// Analyser returns the live frequency source, or nil without a session.
func (c *SessionController) Analyser() ports.FrequencySource {
	c.snapshotMu.RLock()
	defer c.snapshotMu.RUnlock()
	if c.analyser == nil {
		return nil
	}
	return c.analyser
}

// Logs returns a copy of the conversation log.
func (c *SessionController) Logs() []domain.LogEntry {
	return c.logs.Snapshot()
}

// Diagnostics reports scheduler and transcript internals.
func (c *SessionController) Diagnostics() domain.Diagnostics {
	reply := make(chan domain.Diagnostics, 1)
	if !c.post(diagnosticsQuery{reply: reply}) {
		return domain.Diagnostics{Status: c.Status()}
	}
	return <-reply
}

func (c *SessionController) post(event any) bool {
	select {
	case c.inbox <- event:
		return true
	case <-c.quit:
		return false
	}
}

// postSession delivers an event on behalf of a session. It gives up once the
// session is torn down so device and network goroutines never block on a
// loop that is busy waiting for them.
func (c *SessionController) postSession(done <-chan struct{}, event any) bool {
	select {
	case c.inbox <- event:
		return true
	case <-done:
		return false
	case <-c.quit:
		return false
	}
}

func (c *SessionController) run() {
	defer close(c.stopped)
	for {
		select {
		case event := <-c.inbox:
			c.dispatch(event)
		case <-c.quit:
			if c.current != nil {
				c.teardown(c.current)
			}
			return
		}
	}
}

func (c *SessionController) dispatch(event any) {
	switch ev := event.(type) {
	case connectCommand:
		ev.reply <- c.handleConnect(ev.ctx, ev.profile)
	case disconnectCommand:
		c.handleDisconnect()
		close(ev.reply)
	case diagnosticsQuery:
		ev.reply <- c.diagnostics()
	case microphoneReady:
		c.handleMicrophoneReady(ev)
	case remoteReady:
		c.handleRemoteReady(ev)
	case remoteOpened:
		if s := c.sessionFor(ev.sessionID); s != nil {
			s.opened = true
			c.goLive(s)
		}
	case remoteMessage:
		if s := c.sessionFor(ev.sessionID); s != nil {
			c.handleMessage(s, ev.msg)
		}
	case remoteClosed:
		c.handleRemoteClosed(ev)
	case remoteFailed:
		if s := c.sessionFor(ev.sessionID); s != nil {
			c.fail(s, fmt.Errorf("%w: %v", domain.ErrTransport, ev.err), msgFailure)
		}
	case captureFailed:
		if s := c.sessionFor(ev.sessionID); s != nil {
			c.fail(s, ev.err, msgSystemError+ev.err.Error())
		}
	case unitEnded:
		if s := c.sessionFor(ev.sessionID); s != nil && s.scheduler != nil {
			s.scheduler.Ended(ev.unit)
			c.metrics.SetActiveUnits(s.scheduler.ActiveCount())
		}
	default:
		c.logger.Warn("unknown controller event", "type", fmt.Sprintf("%T", event))
	}
}

func (c *SessionController) sessionFor(id string) *activeSession {
	if c.current == nil || c.current.id != id {
		return nil
	}
	return c.current
}

func (c *SessionController) handleConnect(ctx context.Context, profile domain.Profile) error {
	if c.state.Busy() {
		return domain.ErrSessionActive
	}
	if ctx == nil {
		ctx = context.Background()
	}

	provider, err := c.resolveProvider(profile)
	if err != nil {
		c.logger.Error("connect rejected", "error", err)
		c.appendLog(domain.SenderSystem, msgSystemError+err.Error())
		c.metrics.SessionFailed(string(domain.KindOf(err)))
		c.setState(domain.StateError, "", err.Error())
		return err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &activeSession{
		id:          uuid.NewString(),
		ctx:         sessionCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		profile:     profile,
		provider:    provider,
		transcripts: newTranscriptBuffers(),
	}
	c.current = s
	c.setState(domain.StateConnecting, s.id, "")
	c.appendLog(domain.SenderSystem, msgInitializing)
	c.logger.Info("connecting", "session_id", s.id, "provider", profile.Provider, "model", profile.ModelID)

	device, err := c.output.Open(sessionCtx, c.cfg.Output)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrOutputUnavailable, err)
		c.fail(s, err, msgSystemError+err.Error())
		return err
	}
	s.output = device
	if c.newAnalyser != nil {
		s.analyser = c.newAnalyser()
		device.Attach(s.analyser)
		c.publishAnalyser(s.analyser)
	}
	s.scheduler = newPlaybackScheduler(device, c.cfg.Output.Channels, func(unit *playbackUnit) {
		c.postSession(s.done, unitEnded{sessionID: s.id, unit: unit})
	})

	go c.acquireMicrophone(s)
	return nil
}

func (c *SessionController) resolveProvider(profile domain.Profile) (ports.RemoteProvider, error) {
	provider, ok := c.providers[profile.Provider]
	if !ok || provider == nil {
		return nil, fmt.Errorf("%w: unsupported provider %q", domain.ErrConfiguration, profile.Provider)
	}
	if strings.TrimSpace(profile.ModelID) == "" {
		return nil, fmt.Errorf("%w: model id is required", domain.ErrConfiguration)
	}
	switch profile.Provider {
	case domain.ProviderGemini:
		if strings.TrimSpace(profile.APIKey) == "" {
			return nil, fmt.Errorf("%w: API key is required for provider %q", domain.ErrConfiguration, profile.Provider)
		}
	case domain.ProviderCustom:
		if strings.TrimSpace(profile.RelayURL) == "" {
			return nil, fmt.Errorf("%w: relay URL is required for provider %q", domain.ErrConfiguration, profile.Provider)
		}
	}
	return provider, nil
}

func (c *SessionController) acquireMicrophone(s *activeSession) {
	stream, err := c.capture.Start(s.ctx, c.cfg.Input)
	if !c.postSession(s.done, microphoneReady{sessionID: s.id, stream: stream, err: err}) && stream != nil {
		_ = stream.Stop()
	}
}

func (c *SessionController) handleMicrophoneReady(ev microphoneReady) {
	s := c.sessionFor(ev.sessionID)
	if s == nil {
		if ev.stream != nil {
			_ = ev.stream.Stop()
		}
		return
	}
	if ev.err != nil {
		err := fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, ev.err)
		c.fail(s, err, msgSystemError+err.Error())
		return
	}
	s.stream = ev.stream

	opts := ports.SessionOptions{
		ModelID:             s.profile.ModelID,
		VoiceName:           s.profile.VoiceName,
		SystemInstruction:   s.profile.SystemInstruction,
		APIKey:              s.profile.APIKey,
		Endpoint:            s.profile.RelayURL,
		InputSampleRate:     c.cfg.Input.SampleRate,
		InputTranscription:  true,
		OutputTranscription: true,
	}
	handler := remoteCallbacks{
		sessionID: s.id,
		post:      func(event any) bool { return c.postSession(s.done, event) },
	}
	go c.openRemote(s, opts, handler)
}

func (c *SessionController) openRemote(s *activeSession, opts ports.SessionOptions, handler ports.RemoteHandler) {
	remote, err := s.provider.Open(s.ctx, opts, handler)
	if !c.postSession(s.done, remoteReady{sessionID: s.id, remote: remote, err: err}) && remote != nil {
		_ = remote.Close()
	}
}

func (c *SessionController) handleRemoteReady(ev remoteReady) {
	s := c.sessionFor(ev.sessionID)
	if s == nil {
		if ev.remote != nil {
			_ = ev.remote.Close()
		}
		return
	}
	if ev.err != nil {
		err := ev.err
		if !errors.Is(err, domain.ErrConfiguration) {
			err = fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		c.fail(s, err, msgSystemError+err.Error())
		return
	}
	s.remote = ev.remote
	c.goLive(s)
}

// goLive runs once both the open callback and the session handle arrived.
func (c *SessionController) goLive(s *activeSession) {
	if s.remote == nil || !s.opened || s.live() {
		return
	}

	remote := s.remote
	sink := func(chunk []byte) error {
		if err := remote.Send(chunk); err != nil {
			return err
		}
		c.metrics.ChunkSent(len(chunk))
		return nil
	}
	s.capture = startCapture(s.stream, c.cfg.CaptureFrames, sink, func(err error) {
		c.postSession(s.done, captureFailed{sessionID: s.id, err: err})
	})

	c.setState(domain.StateConnected, s.id, "")
	c.appendLog(domain.SenderSystem, msgEstablished)
	c.metrics.SessionStarted()
	c.logger.Info("session connected", "session_id", s.id)
}

func (c *SessionController) handleMessage(s *activeSession, msg domain.ServerMessage) {
	s.transcripts.Append(msg.InputTranscript, msg.OutputTranscript)
	if msg.TurnComplete {
		for _, line := range s.transcripts.Flush() {
			c.appendLog(line.sender, line.text)
		}
	}

	for _, chunk := range msg.Audio {
		unit, err := s.scheduler.Schedule(chunk)
		if err != nil {
			if errors.Is(err, domain.ErrDecode) {
				c.metrics.DecodeError()
			}
			c.logger.Warn("dropping inbound audio chunk", "session_id", s.id, "bytes", len(chunk), "error", err)
			continue
		}
		c.metrics.ChunkScheduled(unit.startAt - s.output.CurrentTime())
	}

	if msg.Interrupted {
		s.scheduler.Interrupt()
		c.metrics.Interrupted()
		c.logger.Debug("playback interrupted", "session_id", s.id)
	}
	c.metrics.SetActiveUnits(s.scheduler.ActiveCount())
}

func (c *SessionController) handleRemoteClosed(ev remoteClosed) {
	s := c.sessionFor(ev.sessionID)
	if s == nil {
		return
	}
	c.logger.Info("remote session closed", "session_id", s.id, "reason", ev.reason)
	if ev.reason != "" {
		c.appendLog(domain.SenderSystem, msgTerminated+ev.reason)
	}
	c.teardown(s)
	c.setState(domain.StateDisconnected, "", "")
}

func (c *SessionController) handleDisconnect() {
	if c.current == nil && c.state == domain.StateDisconnected {
		return
	}
	c.appendLog(domain.SenderSystem, msgShuttingDown)
	if c.current != nil {
		c.teardown(c.current)
	}
	c.setState(domain.StateDisconnected, "", "")
}

func (c *SessionController) fail(s *activeSession, err error, line string) {
	kind := domain.KindOf(err)
	c.logger.Error("session failed", "session_id", s.id, "kind", kind, "error", err)
	c.appendLog(domain.SenderSystem, line)
	c.metrics.SessionFailed(string(kind))
	c.teardown(s)
	c.setState(domain.StateError, "", err.Error())
}

// teardown releases every resource of s. The remote session closes before
// the capture pump is awaited so a send blocked on the network returns.
func (c *SessionController) teardown(s *activeSession) {
	close(s.done)
	s.cancel()

	if s.scheduler != nil {
		s.scheduler.TeardownAll()
		c.metrics.SetActiveUnits(0)
	}
	if s.capture != nil {
		s.capture.halt()
	} else if s.stream != nil {
		_ = s.stream.Stop()
	}
	if s.output != nil {
		s.output.Attach(nil)
		if err := s.output.Close(); err != nil {
			c.logger.Warn("output device close failed", "session_id", s.id, "error", err)
		}
	}
	if s.remote != nil {
		if err := s.remote.Close(); err != nil {
			c.logger.Warn("remote session close failed", "session_id", s.id, "error", err)
		}
	}
	if s.capture != nil {
		s.capture.wait()
	}

	if c.cfg.FlushTranscriptsOnDisconnect {
		for _, line := range s.transcripts.Flush() {
			c.appendLog(line.sender, line.text)
		}
	}

	c.current = nil
	c.publishAnalyser(nil)
}

func (c *SessionController) diagnostics() domain.Diagnostics {
	d := domain.Diagnostics{Status: c.Status()}
	s := c.current
	if s == nil {
		return d
	}
	if s.scheduler != nil {
		d.ActivePlaybackUnits = s.scheduler.ActiveCount()
		d.NextStartTime = s.scheduler.NextStartTime()
	}
	if s.output != nil {
		d.DeviceTime = s.output.CurrentTime()
	}
	d.PendingInputTranscript, d.PendingOutputTranscript = s.transcripts.Pending()
	return d
}

func (c *SessionController) setState(state domain.ConnectionState, sessionID string, message string) {
	c.state = state
	status := domain.Status{
		State:     state,
		Active:    state == domain.StateConnected,
		SessionID: sessionID,
		Message:   message,
	}

	c.snapshotMu.Lock()
	c.status = status
	c.snapshotMu.Unlock()

	c.metrics.StateChanged(string(state))
	c.events.StateChanged(status)
}

func (c *SessionController) publishAnalyser(analyser ports.Analyser) {
	c.snapshotMu.Lock()
	defer c.snapshotMu.Unlock()
	c.analyser = analyser
}

func (c *SessionController) appendLog(sender domain.Sender, message string) {
	entry := domain.LogEntry{Timestamp: c.now(), Sender: sender, Message: message}
	c.logs.Append(entry)
	c.metrics.LogAppended(string(sender))
	c.events.LogAppended(entry)
}

type noopEvents struct{}

func (noopEvents) StateChanged(domain.Status)  {}
func (noopEvents) LogAppended(domain.LogEntry) {}
