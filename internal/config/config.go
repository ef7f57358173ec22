package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"neurallink/internal/domain"
)

const (
	DefaultModelID   = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoiceName = "Puck"

	// DefaultSystemInstruction is the James persona.
	DefaultSystemInstruction = "Você é James, a inteligência artificial definitiva, inspirada diretamente no Jarvis de Tony Stark. " +
		"Sua voz deve soar nítida, sofisticada e com um timbre ligeiramente mais agudo e ágil, transmitindo prontidão e inteligência superior. " +
		"É CRUCIAL que sua fala não soe robótica: utilize variações naturais de entonação, pausas expressivas e uma cadência fluida. " +
		"Sua persona é a de um assistente britânico refinado (em português), dotado de um sarcasmo inteligente, lealdade absoluta e precisão técnica. " +
		"Chame o usuário de 'Senhor' ou 'Chefe'. " +
		"Ao confirmar comandos, use frases como 'Protocolos de processamento alinhados, Senhor', 'Sistemas operacionais em plena carga' ou 'À sua inteira disposição'. " +
		"Evite emojis. Sua fala deve ser a personificação da tecnologia elegante e humanizada."
)

// Config stores runtime configuration for the voice engine.
type Config struct {
	Profile     domain.Profile
	Audio       AudioConfig
	Speaker     SpeakerConfig
	Session     SessionConfig
	Log         LogConfig
	Diagnostics DiagnosticsConfig
}

type AudioConfig struct {
	RecorderCommand  string
	InputFormat      string
	InputDevice      string
	InputSampleRate  int
	OutputSampleRate int
	OutputChannels   int
}

type SpeakerConfig struct {
	Command  string
	LogLevel string
	Volume   int
	Disabled bool
}

type SessionConfig struct {
	CaptureFrames                int
	LogCapacity                  int
	AnalyserFFTSize              int
	AnalyserSmoothing            float64
	FlushTranscriptsOnDisconnect bool
}

type LogConfig struct {
	Level  string
	Format string
}

type DiagnosticsConfig struct {
	Addr string
}

// Load resolves configuration from .env files, an optional YAML profile and
// environment variables, in increasing priority.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "neurallink")

	if err := loadDotEnv(".env", filepath.Join(configDir, ".env")); err != nil {
		return Config{}, err
	}

	profilePath := strings.TrimSpace(os.Getenv("NEURALLINK_PROFILE_FILE"))
	explicitProfile := profilePath != ""
	if !explicitProfile {
		profilePath = filepath.Join(configDir, "profile.yaml")
	}
	profile, err := loadProfile(profilePath, explicitProfile)
	if err != nil {
		return Config{}, err
	}

	profile.Provider = domain.Provider(strings.ToLower(firstNonEmpty(
		os.Getenv("NEURALLINK_PROVIDER"),
		string(profile.Provider),
		string(domain.ProviderGemini),
	)))
	profile.ModelID = firstNonEmpty(os.Getenv("NEURALLINK_MODEL"), profile.ModelID, DefaultModelID)
	profile.VoiceName = firstNonEmpty(os.Getenv("NEURALLINK_VOICE"), profile.VoiceName, DefaultVoiceName)
	profile.SystemInstruction = firstNonEmpty(os.Getenv("NEURALLINK_SYSTEM_INSTRUCTION"), profile.SystemInstruction, DefaultSystemInstruction)
	profile.RelayURL = firstNonEmpty(os.Getenv("NEURALLINK_RELAY_URL"), profile.RelayURL)
	profile.APIKey = firstNonEmpty(
		os.Getenv("NEURALLINK_API_KEY"),
		os.Getenv("GEMINI_API_KEY"),
		os.Getenv("API_KEY"),
		profile.APIKey,
	)

	cfg := Config{
		Profile: profile,
		Audio: AudioConfig{
			RecorderCommand:  envOrDefault("NEURALLINK_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:      envOrDefault("NEURALLINK_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:      envOrDefault("NEURALLINK_AUDIO_INPUT_DEVICE", "default"),
			InputSampleRate:  envOrDefaultInt("NEURALLINK_INPUT_SAMPLE_RATE", 16000),
			OutputSampleRate: envOrDefaultInt("NEURALLINK_OUTPUT_SAMPLE_RATE", 24000),
			OutputChannels:   envOrDefaultInt("NEURALLINK_OUTPUT_CHANNELS", 1),
		},
		Speaker: SpeakerConfig{
			Command:  envOrDefault("NEURALLINK_FFPLAY_COMMAND", "ffplay"),
			LogLevel: envOrDefault("NEURALLINK_FFPLAY_LOGLEVEL", "error"),
			Volume:   envOrDefaultInt("NEURALLINK_VOLUME", 100),
			Disabled: envOrDefaultBool("NEURALLINK_NO_SPEAKER", false),
		},
		Session: SessionConfig{
			CaptureFrames:                envOrDefaultInt("NEURALLINK_CAPTURE_FRAMES", 4096),
			LogCapacity:                  envOrDefaultInt("NEURALLINK_LOG_CAPACITY", 500),
			AnalyserFFTSize:              envOrDefaultInt("NEURALLINK_ANALYSER_FFT_SIZE", 512),
			AnalyserSmoothing:            envOrDefaultFloat("NEURALLINK_ANALYSER_SMOOTHING", 0.8),
			FlushTranscriptsOnDisconnect: envOrDefaultBool("NEURALLINK_FLUSH_TRANSCRIPTS", false),
		},
		Log: LogConfig{
			Level:  envOrDefault("NEURALLINK_LOG_LEVEL", "info"),
			Format: envOrDefault("NEURALLINK_LOG_FORMAT", "text"),
		},
		Diagnostics: DiagnosticsConfig{
			Addr: strings.TrimSpace(os.Getenv("NEURALLINK_DIAG_ADDR")),
		},
	}

	if cfg.Audio.InputSampleRate <= 0 {
		cfg.Audio.InputSampleRate = 16000
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		cfg.Audio.OutputSampleRate = 24000
	}
	if cfg.Audio.OutputChannels <= 0 {
		cfg.Audio.OutputChannels = 1
	}
	if cfg.Session.CaptureFrames < 256 {
		cfg.Session.CaptureFrames = 4096
	}

	return cfg, nil
}

// loadDotEnv applies the first existing files without overriding variables
// already set in the process environment.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

func loadProfile(path string, required bool) (domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return domain.Profile{}, nil
		}
		return domain.Profile{}, fmt.Errorf("failed to read profile %s: %w", path, err)
	}

	var profile domain.Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return domain.Profile{}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	return profile, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
