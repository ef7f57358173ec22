package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"neurallink/internal/logging"
	"neurallink/internal/pcm"
	"neurallink/internal/ports"
)

// SpeakerConfig controls the realtime output device.
type SpeakerConfig struct {
	Command  string
	LogLevel string
	Volume   int
	// Disabled keeps the clock and analyser running without audible output.
	Disabled bool
	Tick     time.Duration
}

// SpeakerOutput opens realtime output devices backed by a Mixer.
type SpeakerOutput struct {
	cfg    SpeakerConfig
	logger *slog.Logger
}

func NewSpeakerOutput(cfg SpeakerConfig, logger *slog.Logger) *SpeakerOutput {
	if cfg.Tick <= 0 {
		cfg.Tick = 20 * time.Millisecond
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &SpeakerOutput{cfg: cfg, logger: logger}
}

func (o *SpeakerOutput) Open(ctx context.Context, cfg ports.OutputConfig) (ports.OutputDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	var speaker *ffplaySpeaker
	var sink io.Writer
	if !o.cfg.Disabled {
		speaker = newFFPlaySpeaker(o.cfg.Command, cfg.SampleRate, cfg.Channels, o.cfg.LogLevel, o.cfg.Volume)
		if err := speaker.Start(); err != nil {
			return nil, err
		}
		sink = speaker
	}

	runCtx, cancel := context.WithCancel(context.Background())
	device := &realtimeDevice{
		Mixer:   NewMixer(cfg.SampleRate, cfg.Channels, sink),
		speaker: speaker,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  o.logger,
	}
	go device.run(runCtx, o.cfg.Tick)
	return device, nil
}

type realtimeDevice struct {
	*Mixer

	speaker *ffplaySpeaker
	cancel  context.CancelFunc
	done    chan struct{}
	logger  *slog.Logger

	closeOnce sync.Once
}

func (d *realtimeDevice) run(ctx context.Context, tick time.Duration) {
	defer close(d.done)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	started := time.Now()
	warned := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		due := int64(pcm.DurationToFrames(time.Since(started), d.SampleRate())) - d.renderedFrames()
		if due <= 0 {
			continue
		}
		if err := d.Render(int(due)); err != nil && !warned {
			warned = true
			d.logger.Warn("audio output write failed", "error", err)
		}
	}
}

func (d *realtimeDevice) Close() error {
	d.closeOnce.Do(func() {
		d.cancel()
		// Closing the speaker unblocks a render stuck writing to ffplay.
		if d.speaker != nil {
			_ = d.speaker.Close()
		}
		<-d.done
		_ = d.Mixer.Close()
	})
	return nil
}
