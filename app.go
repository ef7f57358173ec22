package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"neurallink/internal/bootstrap"
	"neurallink/internal/config"
	"neurallink/internal/domain"
	"neurallink/internal/ports"
	"neurallink/internal/server"
	"neurallink/internal/usecase"
)

const (
	eventState = "neurallink:state"
	eventLog   = "neurallink:log"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller  *usecase.SessionController
	diagnostics *server.Server
	cfg         config.Config
	bootErr     error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.StateChanged(domain.Status{State: domain.StateError, Message: err.Error()})
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.diagnostics = services.Diagnostics
	a.StateChanged(a.controller.Status())
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller != nil {
		a.controller.Close()
	}
	if a.diagnostics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		_ = a.diagnostics.Shutdown(shutdownCtx)
	}
}

// Connect starts a session. Non-empty fields of overrides replace the
// configured profile; the API key always comes from configuration.
func (a *App) Connect(overrides domain.Profile) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	profile := mergeProfile(a.cfg.Profile, overrides)
	if err := a.controller.Connect(a.ctx, profile); err != nil {
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// Disconnect ends the current session. It is safe to call at any time.
func (a *App) Disconnect() domain.Status {
	if a.controller == nil {
		return a.GetStatus()
	}
	a.controller.Disconnect()
	return a.controller.Status()
}

// GetStatus returns the current engine status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.StateError, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.StateDisconnected}
	}
	return a.controller.Status()
}

// GetLogs returns the conversation log, oldest first.
func (a *App) GetLogs() []domain.LogEntry {
	if a.controller == nil {
		return []domain.LogEntry{}
	}
	return a.controller.Logs()
}

// FrequencyFrame is one visualizer snapshot. Bins are ints because Wails
// would encode a byte slice as base64.
type FrequencyFrame struct {
	Active   bool  `json:"active"`
	Bins     []int `json:"bins"`
	Waveform []int `json:"waveform"`
}

// GetFrequencyData samples the analyser tap for the visualizer.
func (a *App) GetFrequencyData() FrequencyFrame {
	if a.controller == nil {
		return FrequencyFrame{}
	}
	return sampleFrequencies(a.controller)
}

type analyserSource interface {
	Status() domain.Status
	Analyser() ports.FrequencySource
}

func sampleFrequencies(c analyserSource) FrequencyFrame {
	frame := FrequencyFrame{Active: c.Status().Active}
	analyser := c.Analyser()
	if analyser == nil {
		return frame
	}

	bins := make([]byte, analyser.FrequencyBinCount())
	analyser.ByteFrequencyData(bins)
	wave := make([]byte, analyser.FFTSize())
	analyser.ByteTimeDomainData(wave)

	frame.Bins = toInts(bins)
	frame.Waveform = toInts(wave)
	return frame
}

func toInts(data []byte) []int {
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(b)
	}
	return out
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	info := map[string]string{
		"provider":         string(a.cfg.Profile.Provider),
		"model":            a.cfg.Profile.ModelID,
		"voice":            a.cfg.Profile.VoiceName,
		"apiKeyConfigured": strconv.FormatBool(strings.TrimSpace(a.cfg.Profile.APIKey) != ""),
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"inputSampleRate":  strconv.Itoa(a.cfg.Audio.InputSampleRate),
		"outputSampleRate": strconv.Itoa(a.cfg.Audio.OutputSampleRate),
	}
	if a.cfg.Profile.RelayURL != "" {
		info["relayUrl"] = a.cfg.Profile.RelayURL
	}
	if a.diagnostics != nil {
		info["diagnostics"] = a.diagnostics.Addr()
	}
	return info
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// StateChanged emits connection state updates to the frontend.
func (a *App) StateChanged(status domain.Status) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventState, status)
}

// LogAppended emits new conversation log entries to the frontend.
func (a *App) LogAppended(entry domain.LogEntry) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventLog, entry)
}

func mergeProfile(base domain.Profile, overrides domain.Profile) domain.Profile {
	merged := base
	if p := strings.TrimSpace(string(overrides.Provider)); p != "" {
		merged.Provider = domain.Provider(strings.ToLower(p))
	}
	if v := strings.TrimSpace(overrides.ModelID); v != "" {
		merged.ModelID = v
	}
	if v := strings.TrimSpace(overrides.VoiceName); v != "" {
		merged.VoiceName = v
	}
	if v := strings.TrimSpace(overrides.SystemInstruction); v != "" {
		merged.SystemInstruction = v
	}
	if v := strings.TrimSpace(overrides.RelayURL); v != "" {
		merged.RelayURL = v
	}
	return merged
}
