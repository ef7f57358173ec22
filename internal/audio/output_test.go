package audio

import (
	"context"
	"testing"
	"time"

	"neurallink/internal/ports"
)

func TestSpeakerOutputCloseWithStalledPlayer(t *testing.T) {
	t.Parallel()

	// The player never drains stdin, so the pipe fills and renders block.
	script := writeScript(t, "ffplay.sh", "#!/usr/bin/env bash\nexec sleep 30\n")
	output := NewSpeakerOutput(SpeakerConfig{Command: script, Tick: 5 * time.Millisecond}, nil)

	device, err := output.Open(context.Background(), ports.OutputConfig{SampleRate: 192000, Channels: 2})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = device.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("close blocked behind a stalled player")
	}
}

func TestSpeakerOutputHeadlessClock(t *testing.T) {
	t.Parallel()

	output := NewSpeakerOutput(SpeakerConfig{Disabled: true, Tick: 5 * time.Millisecond}, nil)
	device, err := output.Open(context.Background(), ports.OutputConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer device.Close()

	deadline := time.Now().Add(2 * time.Second)
	for device.CurrentTime() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clock never advanced")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
