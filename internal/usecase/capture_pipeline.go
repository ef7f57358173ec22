package usecase

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"neurallink/internal/domain"
	"neurallink/internal/pcm"
	"neurallink/internal/ports"
)

const (
	defaultCaptureFrames = 4096
	floatFrameBytes      = 4
)

// captureHandle owns the goroutine pumping microphone frames to the sink.
type captureHandle struct {
	stream   ports.CaptureStream
	halted   atomic.Bool
	haltOnce sync.Once
	done     chan struct{}
}

// startCapture reads fixed ticks of mono float frames from stream, encodes
// each tick and hands it to sink. The first read or send failure ends the
// pipeline and is reported through onFailure unless the pipeline was halted.
func startCapture(stream ports.CaptureStream, frames int, sink func([]byte) error, onFailure func(error)) *captureHandle {
	if frames <= 0 {
		frames = defaultCaptureFrames
	}
	h := &captureHandle{stream: stream, done: make(chan struct{})}
	go h.pump(frames, sink, onFailure)
	return h
}

func (h *captureHandle) pump(frames int, sink func([]byte) error, onFailure func(error)) {
	defer close(h.done)

	raw := make([]byte, frames*floatFrameBytes)
	for {
		if _, err := io.ReadFull(h.stream, raw); err != nil {
			h.report(onFailure, fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, err))
			return
		}
		samples, err := pcm.Float32FromLE(raw)
		if err != nil {
			h.report(onFailure, err)
			return
		}
		if err := sink(pcm.Encode(samples)); err != nil {
			h.report(onFailure, fmt.Errorf("%w: send audio: %v", domain.ErrTransport, err))
			return
		}
	}
}

func (h *captureHandle) report(onFailure func(error), err error) {
	if h.halted.Load() || onFailure == nil {
		return
	}
	onFailure(err)
}

// halt stops the microphone stream, which unblocks the pump. Failures after
// a halt are not reported.
func (h *captureHandle) halt() {
	h.haltOnce.Do(func() {
		h.halted.Store(true)
		_ = h.stream.Stop()
	})
}

func (h *captureHandle) wait() {
	<-h.done
}

// Stop halts the pipeline and waits for the pump to exit.
func (h *captureHandle) Stop() {
	if h == nil {
		return
	}
	h.halt()
	h.wait()
}
