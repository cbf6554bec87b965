package mcpclient

import (
	"sync"
	"time"
)

// defaultRingSize bounds the retained stderr lines per connection.
const defaultRingSize = 50

// HistorySnapshot is a point-in-time copy of a connection's error state.
type HistorySnapshot struct {
	// StderrLines are the most recent stderr lines from a stdio child.
	StderrLines []string
	// LastError is the most recent operation error, if any.
	LastError string
	// LastErrorAt is when LastError occurred.
	LastErrorAt time.Time
	// ErrorCount is the total number of recorded errors.
	ErrorCount uint64
}

// errorRing retains the last N stderr lines and error metadata.
type errorRing struct {
	mu          sync.Mutex
	lines       []string
	max         int
	lastError   string
	lastErrorAt time.Time
	errorCount  uint64
}

func newErrorRing(max int) *errorRing {
	return &errorRing{max: max}
}

func (r *errorRing) recordLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

func (r *errorRing) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError = err.Error()
	r.lastErrorAt = time.Now()
	r.errorCount++
}

func (r *errorRing) snapshot() HistorySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.lines))
	copy(lines, r.lines)
	return HistorySnapshot{
		StderrLines: lines,
		LastError:   r.lastError,
		LastErrorAt: r.lastErrorAt,
		ErrorCount:  r.errorCount,
	}
}
