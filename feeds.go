package spacetraveling

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eringen/spacetraveling/content"
	"github.com/eringen/spacetraveling/feed"
)

// ErrFeedSessionFull is returned by Open when the session table is at
// capacity and nothing can be evicted.
var ErrFeedSessionFull = errors.New("spacetraveling: too many feed sessions")

// FeedSessions owns one feed.Controller per visitor. Ids are random and
// travel in the cookie session. Sessions idle longer than the TTL are closed.
type FeedSessions struct {
	src content.Source
	ttl time.Duration
	max int
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*feedSession
	stop     chan struct{}
	once     sync.Once
}

type feedSession struct {
	ctrl     *feed.Controller
	lastSeen time.Time
}

// NewFeedSessions creates an empty session table whose controllers load
// further pages from src.
func NewFeedSessions(src content.Source, ttl time.Duration, max int, log *slog.Logger) *FeedSessions {
	if log == nil {
		log = slog.Default()
	}
	s := &FeedSessions{
		src:      src,
		ttl:      ttl,
		max:      max,
		log:      log.With("component", "feed-sessions"),
		sessions: make(map[string]*feedSession),
		stop:     make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Open starts a session seeded with page and returns its id. The session
// named previous, if any, is closed first.
func (s *FeedSessions) Open(page content.Page, previous string) (string, *feed.Controller, error) {
	ctrl := feed.NewController(s.src, feed.WithLogger(s.log))
	if err := ctrl.Initialize(page); err != nil {
		return "", nil, err
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sessions[previous]; ok {
		old.ctrl.Close()
		delete(s.sessions, previous)
	}
	if s.max > 0 && len(s.sessions) >= s.max {
		if !s.evictOldestLocked() {
			ctrl.Close()
			return "", nil, ErrFeedSessionFull
		}
	}
	s.sessions[id] = &feedSession{ctrl: ctrl, lastSeen: time.Now()}
	return id, ctrl, nil
}

// Get returns the controller for id and marks the session as active.
func (s *FeedSessions) Get(id string) (*feed.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Since(sess.lastSeen) > s.ttl {
		sess.ctrl.Close()
		delete(s.sessions, id)
		return nil, false
	}
	sess.lastSeen = time.Now()
	return sess.ctrl, true
}

// Drop closes and forgets the session id.
func (s *FeedSessions) Drop(id string) {
	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		sess.ctrl.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
}

// Reset closes every session. Visitors start over on their next visit.
func (s *FeedSessions) Reset() {
	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.ctrl.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
}

// Len returns the number of open sessions.
func (s *FeedSessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops the cleanup goroutine and closes every session.
func (s *FeedSessions) Close() {
	s.once.Do(func() { close(s.stop) })
	s.Reset()
}

func (s *FeedSessions) cleanup() {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		if n := s.expire(); n > 0 {
			s.log.Debug("expired feed sessions", "count", n)
		}
	}
}

func (s *FeedSessions) expire() int {
	cutoff := time.Now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			sess.ctrl.Close()
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *FeedSessions) evictOldestLocked() bool {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if sess.ctrl.Loading() {
			continue
		}
		if oldestID == "" || sess.lastSeen.Before(oldest) {
			oldestID, oldest = id, sess.lastSeen
		}
	}
	if oldestID == "" {
		return false
	}
	s.sessions[oldestID].ctrl.Close()
	delete(s.sessions, oldestID)
	return true
}
