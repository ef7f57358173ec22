package bootstrap

import (
	"fmt"
	"log/slog"
	"os"

	"neurallink/internal/audio"
	"neurallink/internal/config"
	"neurallink/internal/domain"
	"neurallink/internal/logging"
	"neurallink/internal/metrics"
	"neurallink/internal/ports"
	"neurallink/internal/providers/gemini"
	"neurallink/internal/providers/relay"
	"neurallink/internal/server"
	"neurallink/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Config     config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// Diagnostics is nil unless NEURALLINK_DIAG_ADDR is set.
	Diagnostics *server.Server
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	engineMetrics := metrics.New(nil)

	providers := map[domain.Provider]ports.RemoteProvider{
		domain.ProviderGemini: gemini.NewProvider(gemini.Config{Logger: logger.With("provider", "gemini")}),
		domain.ProviderCustom: relay.NewProvider(relay.Config{}),
	}

	fftSize := cfg.Session.AnalyserFFTSize
	smoothing := cfg.Session.AnalyserSmoothing
	controller := usecase.NewSessionController(
		audio.NewMicrophone(cfg.Audio.RecorderCommand),
		audio.NewSpeakerOutput(audio.SpeakerConfig{
			Command:  cfg.Speaker.Command,
			LogLevel: cfg.Speaker.LogLevel,
			Volume:   cfg.Speaker.Volume,
			Disabled: cfg.Speaker.Disabled,
		}, logger.With("device", "speaker")),
		providers,
		eventSink,
		usecase.Config{
			Input: ports.AudioConfig{
				SampleRate:  cfg.Audio.InputSampleRate,
				Channels:    1,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Output: ports.OutputConfig{
				SampleRate: cfg.Audio.OutputSampleRate,
				Channels:   cfg.Audio.OutputChannels,
			},
			CaptureFrames:                cfg.Session.CaptureFrames,
			LogCapacity:                  cfg.Session.LogCapacity,
			FlushTranscriptsOnDisconnect: cfg.Session.FlushTranscriptsOnDisconnect,
		},
		usecase.WithLogger(logger),
		usecase.WithMetrics(engineMetrics),
		usecase.WithAnalyser(func() ports.Analyser {
			return audio.NewAnalyser(fftSize, smoothing)
		}),
	)

	services := Services{
		Controller: controller,
		Config:     cfg,
		Logger:     logger,
		Metrics:    engineMetrics,
	}

	if cfg.Diagnostics.Addr != "" {
		srv := server.New(cfg.Diagnostics.Addr, server.NewRouter(controller, engineMetrics.Registry()), logger)
		if err := srv.Start(); err != nil {
			controller.Close()
			return Services{}, fmt.Errorf("failed to start diagnostics server: %w", err)
		}
		services.Diagnostics = srv
	}

	return services, nil
}
