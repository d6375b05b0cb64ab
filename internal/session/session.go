// Package session tracks the lifecycle of client sessions.
//
// A session exists while its event stream is open. Each session owns a FIFO
// inbound queue drained by a single worker, so messages from one client are
// always processed in arrival order, and an EventSink through which every
// outbound event for that client is pushed.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the protocol position of a session.
type State int

const (
	// StateAwaitingHandshake means no initialize request has been seen yet.
	StateAwaitingHandshake State = iota
	// StateReady means the handshake completed and tools may be invoked.
	StateReady
	// StateClosed means the session is finished and accepts nothing.
	StateClosed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionClosed is returned when a message is enqueued on a closed
	// session.
	ErrSessionClosed = errors.New("session is closed")

	// ErrQueueFull is returned when the inbound queue is saturated.
	ErrQueueFull = errors.New("session queue is full")
)

// EventSink receives outbound events for one session. Implementations must
// be safe for use from the session's worker goroutine.
type EventSink interface {
	// Send pushes one named event with a JSON-serialisable payload.
	Send(event string, payload interface{}) error
}

// inboundQueueSize bounds how far a client can run ahead of processing.
const inboundQueueSize = 64

// Session is one client connection's protocol state.
type Session struct {
	ID        string
	CreatedAt time.Time

	sink    EventSink
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu        sync.Mutex
	state     State
	projectID string
}

func newSession(id string, sink EventSink) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		sink:      sink,
		inbound:   make(chan []byte, inboundQueueSize),
		closed:    make(chan struct{}),
		state:     StateAwaitingHandshake,
	}
}

// Enqueue appends a raw inbound message to the session's FIFO queue.
func (s *Session) Enqueue(msg []byte) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbound <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Inbound returns the channel the session worker drains.
func (s *Session) Inbound() <-chan []byte {
	return s.inbound
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Send pushes an outbound event to the session's stream.
func (s *Session) Send(event string, payload interface{}) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	return s.sink.Send(event, payload)
}

// State returns the session's current protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CompleteHandshake transitions the session from awaiting-handshake to
// ready. A second initialize on the same session is a protocol error.
func (s *Session) CompleteHandshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingHandshake {
		return fmt.Errorf("cannot initialize a session in state %s", s.state)
	}
	s.state = StateReady
	return nil
}

// Ready reports whether the handshake has completed.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// SelectProject records the session's active project.
func (s *Session) SelectProject(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = projectID
}

// ProjectID returns the session's active project, empty when none is
// selected.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Close transitions the session to closed and wakes its worker. Safe to
// call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.closed)
	})
}
