package auth

import (
	"sync"
)

// Session holds the authentication state for one relay client and notifies
// subscribers when it changes. Consumers receive it explicitly instead of
// reading process-wide storage.
type Session struct {
	mu          sync.RWMutex
	state       State
	nextID      int
	subscribers map[int]func(State)
}

// NewSession creates a session with an initial state
func NewSession(initial State) *Session {
	return &Session{
		state:       initial,
		subscribers: make(map[int]func(State)),
	}
}

// Get returns the current state
func (s *Session) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Set replaces the state and publishes it
func (s *Session) Set(state State) {
	s.update(func(st *State) { *st = state })
}

// SetUserID records the user id reported by the dispatcher
func (s *Session) SetUserID(userID string) {
	s.update(func(st *State) { st.UserID = userID })
}

// SetToken replaces the bearer token
func (s *Session) SetToken(token string) {
	s.update(func(st *State) { st.Token = token })
}

// Clear drops all credentials and publishes the empty state
func (s *Session) Clear() {
	s.update(func(st *State) { *st = State{} })
}

// Subscribe registers fn to be called with each new state.
// The returned function removes the subscription.
func (s *Session) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
		})
	}
}

// update applies fn and publishes outside the lock if the state changed
func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	before := s.state
	fn(&s.state)
	after := s.state
	if before == after {
		s.mu.Unlock()
		return
	}
	subs := make([]func(State), 0, len(s.subscribers))
	for id := 0; id < s.nextID; id++ {
		if sub, ok := s.subscribers[id]; ok {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(after)
	}
}
