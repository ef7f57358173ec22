package usecase

import (
	"strings"

	"neurallink/internal/domain"
)

// transcriptLine is a flushed turn fragment ready for the log.
type transcriptLine struct {
	sender domain.Sender
	text   string
}

// transcriptBuffers accumulates streaming transcription fragments until the
// model marks the turn complete.
type transcriptBuffers struct {
	input  strings.Builder
	output strings.Builder
}

func newTranscriptBuffers() *transcriptBuffers {
	return &transcriptBuffers{}
}

// Append concatenates fragments verbatim; providers deliver their own spacing.
func (b *transcriptBuffers) Append(input string, output string) {
	b.input.WriteString(input)
	b.output.WriteString(output)
}

// Flush returns the non-blank buffers, user first, and clears both.
func (b *transcriptBuffers) Flush() []transcriptLine {
	var lines []transcriptLine
	if text := strings.TrimSpace(b.input.String()); text != "" {
		lines = append(lines, transcriptLine{sender: domain.SenderUser, text: text})
	}
	if text := strings.TrimSpace(b.output.String()); text != "" {
		lines = append(lines, transcriptLine{sender: domain.SenderAI, text: text})
	}
	b.input.Reset()
	b.output.Reset()
	return lines
}

func (b *transcriptBuffers) Pending() (string, string) {
	return b.input.String(), b.output.String()
}
