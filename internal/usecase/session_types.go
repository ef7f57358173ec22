package usecase

import (
	"context"

	"neurallink/internal/domain"
	"neurallink/internal/ports"
)

// activeSession is owned by the controller loop. No field is touched from
// any other goroutine except done, which only ever gets closed.
type activeSession struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	profile  domain.Profile
	provider ports.RemoteProvider

	output   ports.OutputDevice
	analyser ports.Analyser
	stream   ports.CaptureStream
	remote   ports.RemoteSession
	opened   bool

	capture     *captureHandle
	scheduler   *playbackScheduler
	transcripts *transcriptBuffers
}

func (s *activeSession) live() bool {
	return s.capture != nil
}
