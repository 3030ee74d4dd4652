package usecases

import (
	"sync"
	"time"
)

// ResolverSessions hands out one LocationResolver per client session so that
// repeated resolve requests from the same client supersede each other.
// Sessions idle for longer than ttl are dropped on the next access.
type ResolverSessions struct {
	newResolver func() *LocationResolver
	ttl         time.Duration
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*resolverSession
}

type resolverSession struct {
	resolver *LocationResolver
	lastUsed time.Time
}

// NewResolverSessions creates a session registry. ttl <= 0 disables eviction.
func NewResolverSessions(newResolver func() *LocationResolver, ttl time.Duration) *ResolverSessions {
	return &ResolverSessions{
		newResolver: newResolver,
		ttl:         ttl,
		now:         time.Now,
		sessions:    make(map[string]*resolverSession),
	}
}

// Get returns the resolver for key, creating it on first use.
func (s *ResolverSessions) Get(key string) *LocationResolver {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	sess, ok := s.sessions[key]
	if !ok {
		sess = &resolverSession{resolver: s.newResolver()}
		s.sessions[key] = sess
	}
	sess.lastUsed = now
	return sess.resolver
}

// Lookup returns an existing resolver without creating one. A hit counts
// as use of the session.
func (s *ResolverSessions) Lookup(key string) (*LocationResolver, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	sess, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	sess.lastUsed = now
	return sess.resolver, true
}

// Len reports the number of live sessions.
func (s *ResolverSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *ResolverSessions) evictLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for key, sess := range s.sessions {
		if now.Sub(sess.lastUsed) > s.ttl {
			delete(s.sessions, key)
		}
	}
}
