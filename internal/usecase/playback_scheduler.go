package usecase

import (
	"fmt"
	"time"

	"neurallink/internal/domain"
	"neurallink/internal/pcm"
	"neurallink/internal/ports"
)

// playbackUnit is one scheduled chunk of model audio.
type playbackUnit struct {
	source   ports.BufferSource
	startAt  time.Duration
	duration time.Duration
}

// playbackScheduler lays inbound chunks end to end on the device clock.
// The cursor counts device frames so long runs of chunks never drift.
// It is not safe for concurrent use; the controller loop owns it.
type playbackScheduler struct {
	device   ports.OutputDevice
	channels int
	onEnded  func(*playbackUnit)

	active    map[*playbackUnit]struct{}
	nextFrame int
}

func newPlaybackScheduler(device ports.OutputDevice, channels int, onEnded func(*playbackUnit)) *playbackScheduler {
	if channels <= 0 {
		channels = 1
	}
	return &playbackScheduler{
		device:   device,
		channels: channels,
		onEnded:  onEnded,
		active:   make(map[*playbackUnit]struct{}),
	}
}

// Schedule decodes chunk and starts it at max(nextStart, now). A chunk that
// fails to decode leaves the schedule untouched.
func (s *playbackScheduler) Schedule(chunk []byte) (*playbackUnit, error) {
	buffer, err := pcm.DecodePlayable(chunk, s.device.SampleRate(), s.channels)
	if err != nil {
		return nil, err
	}

	rate := s.device.SampleRate()
	startFrame := max(s.nextFrame, pcm.DurationToFrames(s.device.CurrentTime(), rate))
	startAt := pcm.FramesToDuration(startFrame, rate)
	unit := &playbackUnit{
		source:   s.device.NewSource(buffer),
		startAt:  startAt,
		duration: buffer.Duration(),
	}
	if err := unit.source.Start(startAt, func() { s.onEnded(unit) }); err != nil {
		return nil, fmt.Errorf("%w: start playback: %v", domain.ErrOutputUnavailable, err)
	}

	s.active[unit] = struct{}{}
	s.nextFrame = startFrame + buffer.Frames()
	return unit, nil
}

// Ended drops a unit that finished naturally. Units no longer in the active
// set are ignored.
func (s *playbackScheduler) Ended(unit *playbackUnit) {
	delete(s.active, unit)
}

// Interrupt stops everything scheduled or playing and resets the cursor so
// the next chunk plays immediately.
func (s *playbackScheduler) Interrupt() {
	for unit := range s.active {
		_ = unit.source.Stop()
	}
	clear(s.active)
	s.nextFrame = 0
}

// TeardownAll is Interrupt for session shutdown.
func (s *playbackScheduler) TeardownAll() {
	s.Interrupt()
}

func (s *playbackScheduler) ActiveCount() int {
	return len(s.active)
}

func (s *playbackScheduler) NextStartTime() time.Duration {
	return pcm.FramesToDuration(s.nextFrame, s.device.SampleRate())
}
