package audit

import (
	"context"
	"sync"

	"github.com/mcpambassador/server/internal/apierror"
	"github.com/mcpambassador/server/pkg/logging"
)

// Failure modes for the service.
const (
	ModeBlock  = "block"
	ModeBuffer = "buffer"
)

// Service wraps a sink with the configured failure policy.
//
// In block mode a sink failure propagates to the caller, which fails the
// request closed. In buffer mode the event is queued in a bounded in-memory
// buffer and retried on the next emit or flush; when the buffer is full the
// oldest event is dropped and counted, so the most recent security events
// survive.
type Service struct {
	sink Sink
	mode string

	mu      sync.Mutex
	buffer  []*Event
	maxSize int
	dropped uint64
}

// NewService wraps sink with the given failure mode. bufferSize bounds the
// fail-open queue and is only consulted in buffer mode.
func NewService(sink Sink, mode string, bufferSize int) *Service {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Service{sink: sink, mode: mode, maxSize: bufferSize}
}

// Emit records one event under the failure policy.
func (s *Service) Emit(ctx context.Context, event *Event) error {
	// Drain any earlier buffered events first so ordering is preserved.
	if err := s.drain(ctx); err == nil {
		err = s.sink.Emit(ctx, event)
		if err == nil {
			return nil
		}
		return s.handleFailure(event, err)
	}
	return s.handleFailure(event, nil)
}

// EmitBatch records several events under the failure policy.
func (s *Service) EmitBatch(ctx context.Context, events []*Event) error {
	for _, e := range events {
		if err := s.Emit(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleFailure(event *Event, cause error) error {
	if s.mode == ModeBlock {
		return apierror.Wrap(apierror.KindServiceUnavailable, cause, "audit sink unavailable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) >= s.maxSize {
		s.buffer = s.buffer[1:]
		s.dropped++
		logging.Warn("Audit", "Audit buffer full, dropped oldest event (total dropped: %d)", s.dropped)
	}
	s.buffer = append(s.buffer, event)
	if cause != nil {
		logging.Warn("Audit", "Audit sink failed, buffered event %s: %v", event.EventID, cause)
	}
	return nil
}

// drain attempts to flush buffered events to the sink. Returns an error if
// events remain buffered.
func (s *Service) drain(ctx context.Context) error {
	s.mu.Lock()
	pending := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if err := s.sink.EmitBatch(ctx, pending); err != nil {
		s.mu.Lock()
		// Put them back in front of anything buffered meanwhile.
		s.buffer = append(pending, s.buffer...)
		if over := len(s.buffer) - s.maxSize; over > 0 {
			s.buffer = s.buffer[over:]
			s.dropped += uint64(over)
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Flush drains the buffer and the sink. Called on shutdown before the
// process exits.
func (s *Service) Flush(ctx context.Context) error {
	if err := s.drain(ctx); err != nil {
		return err
	}
	return s.sink.Flush()
}

// Dropped reports how many events buffer mode has discarded.
func (s *Service) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Sink exposes the wrapped sink (for query access).
func (s *Service) Sink() Sink {
	return s.sink
}
