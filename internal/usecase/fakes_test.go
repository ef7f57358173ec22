package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"neurallink/internal/audio"
	"neurallink/internal/domain"
	"neurallink/internal/ports"
)

var errStreamStopped = errors.New("stream stopped")

type fakeStream struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu    sync.Mutex
	stops int
}

func newFakeStream() *fakeStream {
	r, w := io.Pipe()
	return &fakeStream{r: r, w: w}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	_ = s.r.CloseWithError(errStreamStopped)
	return nil
}

func (s *fakeStream) stopCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeAudioCapture struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	calls   int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.CaptureStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return nil, errors.New("no fake stream")
	}
	stream := f.streams[0]
	f.streams = f.streams[1:]
	return stream, nil
}

func (f *fakeAudioCapture) startCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeOutput hands out real mixers so tests drive the device clock.
type fakeOutput struct {
	mu      sync.Mutex
	mixers  []*audio.Mixer
	err     error
	configs []ports.OutputConfig
}

func (f *fakeOutput) Open(_ context.Context, cfg ports.OutputConfig) (ports.OutputDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	mixer := audio.NewMixer(cfg.SampleRate, cfg.Channels, nil)
	f.mixers = append(f.mixers, mixer)
	return mixer, nil
}

func (f *fakeOutput) mixer(i int) *audio.Mixer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mixers[i]
}

type fakeRemote struct {
	mu      sync.Mutex
	sent    [][]byte
	closes  int
	sendErr error
}

func (r *fakeRemote) Send(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, append([]byte(nil), chunk...))
	return nil
}

func (r *fakeRemote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *fakeRemote) sentChunks() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.sent...)
}

func (r *fakeRemote) closeCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

type fakeProvider struct {
	mu       sync.Mutex
	remotes  []*fakeRemote
	err      error
	opts     []ports.SessionOptions
	handlers []ports.RemoteHandler

	// gate, when set, blocks Open until closed. entered is closed on entry.
	gate    chan struct{}
	entered chan struct{}
	silent  bool
}

func (p *fakeProvider) Open(_ context.Context, opts ports.SessionOptions, handler ports.RemoteHandler) (ports.RemoteSession, error) {
	if p.entered != nil {
		close(p.entered)
	}
	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	p.opts = append(p.opts, opts)
	p.handlers = append(p.handlers, handler)
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	remote := p.remotes[0]
	p.remotes = p.remotes[1:]
	p.mu.Unlock()

	if !p.silent {
		handler.OnOpen()
	}
	return remote, nil
}

func (p *fakeProvider) openCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opts)
}

func (p *fakeProvider) handler(i int) ports.RemoteHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handlers[i]
}

type fakeEventSink struct {
	mu     sync.Mutex
	states []domain.Status
	logs   []domain.LogEntry
}

func (s *fakeEventSink) StateChanged(status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, status)
}

func (s *fakeEventSink) LogAppended(entry domain.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
}

func (s *fakeEventSink) snapshotStates() []domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionState, 0, len(s.states))
	for _, status := range s.states {
		out = append(out, status.State)
	}
	return out
}

func (s *fakeEventSink) snapshotLogs() []domain.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.LogEntry(nil), s.logs...)
}

func (s *fakeEventSink) countMessage(message string) int {
	n := 0
	for _, entry := range s.snapshotLogs() {
		if entry.Message == message {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func floatFrames(n int, value float32) []byte {
	out := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(value))
	}
	return out
}

// pcmChunk is n frames of mono s16le audio.
func pcmChunk(n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(1000)))
	}
	return out
}
