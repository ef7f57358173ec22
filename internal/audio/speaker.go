package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

var errSpeakerStopped = errors.New("ffplay is not running")

// ffplaySpeaker pipes s16le PCM into an ffplay process.
type ffplaySpeaker struct {
	command    string
	sampleRate int
	channels   int
	logLevel   string
	volume     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFPlaySpeaker(command string, sampleRate int, channels int, logLevel string, volume int) *ffplaySpeaker {
	if command == "" {
		command = "ffplay"
	}
	if logLevel == "" {
		logLevel = "error"
	}
	if volume <= 0 {
		volume = 100
	}
	return &ffplaySpeaker{
		command:    command,
		sampleRate: sampleRate,
		channels:   channels,
		logLevel:   logLevel,
		volume:     volume,
	}
}

func (s *ffplaySpeaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil {
		return nil
	}

	// ffplay takes a channel layout instead of ffmpeg's -ac.
	layout := "mono"
	if s.channels == 2 {
		layout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", s.logLevel,
		"-nostats",
		"-nodisp",
		"-volume", strconv.Itoa(s.volume),
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(s.sampleRate),
		"-i", "-",
	}

	cmd := exec.Command(s.command, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffplay stdin pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("failed to start ffplay: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySpeaker) Write(p []byte) (int, error) {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return 0, errSpeakerStopped
	}
	return stdin.Write(p)
}

func (s *ffplaySpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}
