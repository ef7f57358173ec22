package usecase

import (
	"testing"
	"time"

	"neurallink/internal/domain"
)

func TestTranscriptBuffersFlushOrderAndReset(t *testing.T) {
	t.Parallel()

	b := newTranscriptBuffers()
	b.Append("what ", "")
	b.Append("time is it", "It is")
	b.Append("", " noon.")

	in, out := b.Pending()
	if in != "what time is it" || out != "It is noon." {
		t.Fatalf("unexpected pending buffers: %q %q", in, out)
	}

	lines := b.Flush()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].sender != domain.SenderUser || lines[1].sender != domain.SenderAI {
		t.Fatalf("unexpected sender order: %+v", lines)
	}
	if len(b.Flush()) != 0 {
		t.Fatalf("expected buffers cleared")
	}
}

func TestTranscriptBuffersSkipBlankText(t *testing.T) {
	t.Parallel()

	b := newTranscriptBuffers()
	b.Append("  ", "reply")
	lines := b.Flush()
	if len(lines) != 1 || lines[0].sender != domain.SenderAI || lines[0].text != "reply" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestLogbookDropsOldestOverCapacity(t *testing.T) {
	t.Parallel()

	l := newLogbook(2)
	base := time.Unix(0, 0)
	for i, msg := range []string{"a", "b", "c"} {
		l.Append(domain.LogEntry{Timestamp: base.Add(time.Duration(i) * time.Second), Sender: domain.SenderSystem, Message: msg})
	}

	entries := l.Snapshot()
	if len(entries) != 2 || entries[0].Message != "b" || entries[1].Message != "c" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	entries[0].Message = "mutated"
	if l.Snapshot()[0].Message != "b" {
		t.Fatalf("snapshot must be a copy")
	}
}
