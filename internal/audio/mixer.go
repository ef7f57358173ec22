package audio

import (
	"errors"
	"io"
	"sync"
	"time"

	"neurallink/internal/pcm"
	"neurallink/internal/ports"
)

var (
	errSourceStarted = errors.New("buffer source already started")
	errMixerClosed   = errors.New("output device is closed")
)

// Mixer renders scheduled buffer sources onto a frame clock. The clock only
// advances through Render, so tests drive it deterministically and the
// realtime device drives it from a ticker.
type Mixer struct {
	sampleRate int
	channels   int
	sink       io.Writer

	mu       sync.Mutex
	rendered int64
	sources  map[*mixerSource]struct{}
	tap      ports.AnalyserTap
	closed   bool
}

// NewMixer creates a mixer whose rendered blocks go to sink as s16le PCM.
// A nil sink discards audio but keeps the clock and analyser running.
func NewMixer(sampleRate int, channels int, sink io.Writer) *Mixer {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	if channels <= 0 {
		channels = 1
	}
	return &Mixer{
		sampleRate: sampleRate,
		channels:   channels,
		sink:       sink,
		sources:    make(map[*mixerSource]struct{}),
	}
}

func (m *Mixer) SampleRate() int { return m.sampleRate }

// CurrentTime is the device clock: the amount of audio rendered so far.
func (m *Mixer) CurrentTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pcm.FramesToDuration(int(m.rendered), m.sampleRate)
}

// Attach routes every rendered block into tap. A nil tap detaches.
func (m *Mixer) Attach(tap ports.AnalyserTap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tap = tap
}

func (m *Mixer) NewSource(buffer *pcm.Buffer) ports.BufferSource {
	return &mixerSource{mixer: m, buffer: buffer}
}

// Pending returns the number of sources scheduled or playing.
func (m *Mixer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Render mixes the next frames of audio, advances the clock and fires the
// completion callbacks of sources that finished inside the block.
func (m *Mixer) Render(frames int) error {
	if frames <= 0 {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMixerClosed
	}

	blockStart := m.rendered
	blockEnd := blockStart + int64(frames)
	interleaved := make([]float32, frames*m.channels)
	mono := make([]float32, frames)

	var ended []*mixerSource
	for src := range m.sources {
		srcEnd := src.start + int64(src.buffer.Frames())
		from := max(src.start, blockStart)
		to := min(srcEnd, blockEnd)
		for f := from; f < to; f++ {
			offset := int(f - src.start)
			out := int(f - blockStart)
			var sum float32
			for ch := 0; ch < m.channels; ch++ {
				plane := ch
				if plane >= src.buffer.Channels() {
					plane = src.buffer.Channels() - 1
				}
				sample := src.buffer.Channel(plane)[offset]
				interleaved[out*m.channels+ch] += sample
				sum += sample
			}
			mono[out] += sum / float32(m.channels)
		}
		if srcEnd <= blockEnd {
			delete(m.sources, src)
			ended = append(ended, src)
		}
	}
	m.rendered = blockEnd
	tap := m.tap
	sink := m.sink
	m.mu.Unlock()

	if tap != nil {
		tap.Write(mono)
	}

	var writeErr error
	if sink != nil {
		_, writeErr = sink.Write(pcm.Encode(interleaved))
	}

	for _, src := range ended {
		if src.onEnded != nil {
			src.onEnded()
		}
	}
	return writeErr
}

// Close drops every source without firing callbacks. Further renders fail.
func (m *Mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.sources = make(map[*mixerSource]struct{})
	m.tap = nil
	return nil
}

type mixerSource struct {
	mixer  *Mixer
	buffer *pcm.Buffer

	start   int64
	started bool
	stopped bool
	onEnded func()
}

func (s *mixerSource) Duration() time.Duration {
	return s.buffer.Duration()
}

func (s *mixerSource) Start(at time.Duration, onEnded func()) error {
	m := s.mixer
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errMixerClosed
	}
	if s.started {
		return errSourceStarted
	}
	s.started = true
	if s.stopped {
		return nil
	}

	start := int64(pcm.DurationToFrames(at, m.sampleRate))
	if start < m.rendered {
		start = m.rendered
	}
	s.start = start
	s.onEnded = onEnded
	m.sources[s] = struct{}{}
	return nil
}

func (s *mixerSource) Stop() error {
	m := s.mixer
	m.mu.Lock()
	defer m.mu.Unlock()

	s.stopped = true
	delete(m.sources, s)
	return nil
}

func (m *Mixer) renderedFrames() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rendered
}
