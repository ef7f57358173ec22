package usecase

import (
	"sync"

	"neurallink/internal/domain"
)

const defaultLogCapacity = 500

// logbook is the append-only conversation log. Entries are never edited;
// once over capacity the oldest entries are dropped.
type logbook struct {
	mu       sync.Mutex
	capacity int
	entries  []domain.LogEntry
}

func newLogbook(capacity int) *logbook {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &logbook{capacity: capacity}
}

func (l *logbook) Append(entry domain.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if overflow := len(l.entries) - l.capacity; overflow > 0 {
		l.entries = append(l.entries[:0:0], l.entries[overflow:]...)
	}
}

// Snapshot returns a copy of the log, oldest first.
func (l *logbook) Snapshot() []domain.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
