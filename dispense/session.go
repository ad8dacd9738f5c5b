package dispense

import "sync"

// Session is the shared control state for one transmission run. The
// controlling side flips the flags; the engine's worker polls them.
type Session struct {
	mx      sync.Mutex
	sending bool
	paused  bool
}

func NewSession() *Session { return &Session{} }

func (s *Session) Sending() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.sending
}

func (s *Session) Paused() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.paused
}

// Pause suspends the run after the in-flight line completes.
func (s *Session) Pause() {
	s.mx.Lock()
	s.paused = true
	s.mx.Unlock()
}

func (s *Session) Resume() {
	s.mx.Lock()
	s.paused = false
	s.mx.Unlock()
}

// Stop requests a full stop. The worker unwinds at its next check without
// completing outstanding lines.
func (s *Session) Stop() {
	s.mx.Lock()
	s.sending = false
	s.paused = false
	s.mx.Unlock()
}

func (s *Session) begin() {
	s.mx.Lock()
	s.sending = true
	s.paused = false
	s.mx.Unlock()
}

func (s *Session) end() {
	s.mx.Lock()
	s.sending = false
	s.mx.Unlock()
}
