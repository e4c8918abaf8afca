// Package session serializes work per chat session and keeps each
// session's bounded transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/storage/models"
	"github.com/audit-agent/backend/pkg/logger"
)

var (
	ErrQueueFull = errors.New("session queue is full")
	ErrClosed    = errors.New("session manager is closed")
)

type Config struct {
	HistoryLimit int
	IdleTimeout  time.Duration
	QueueSize    int
}

// Session is one conversation. Jobs submitted for it run one at a time in
// submission order.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu      sync.Mutex
	history []models.ChatMessage
	limit   int

	// guarded by Manager.mu
	lastSeen time.Time
	pending  int

	jobs chan job
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context, s *Session) error
	done chan error
}

// History returns a copy of the transcript, oldest first.
func (s *Session) History() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Append adds turns and drops the oldest beyond the history limit.
func (s *Session) Append(msgs ...models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
	if s.limit > 0 && len(s.history) > s.limit {
		s.history = append([]models.ChatMessage(nil), s.history[len(s.history)-s.limit:]...)
	}
}

type Manager struct {
	cfg    Config
	now    func() time.Time
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.Named("session"),
		sessions: make(map[string]*Session),
	}
}

func NewID() string {
	return uuid.NewString()
}

// Get returns a live session without touching its idle clock.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// getOrCreate must be called with m.mu held.
func (m *Manager) getOrCreate(id string) *Session {
	if s, ok := m.sessions[id]; ok {
		return s
	}
	now := m.now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		limit:     m.cfg.HistoryLimit,
		lastSeen:  now,
		jobs:      make(chan job, m.cfg.QueueSize),
	}
	m.sessions[id] = s
	m.wg.Add(1)
	go m.work(s)

	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Info("Session started", zap.String("session_id", id))
	return s
}

// Do queues fn on the session's worker and waits for it. An empty id starts
// a new session; the id actually used is returned.
func (m *Manager) Do(ctx context.Context, id string, fn func(ctx context.Context, s *Session) error) (string, error) {
	if id == "" {
		id = NewID()
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return id, ErrClosed
	}
	s := m.getOrCreate(id)
	select {
	case s.jobs <- j:
		s.pending++
		s.lastSeen = m.now()
	default:
		m.mu.Unlock()
		return id, ErrQueueFull
	}
	m.mu.Unlock()

	select {
	case err := <-j.done:
		return id, err
	case <-ctx.Done():
		return id, ctx.Err()
	}
}

func (m *Manager) work(s *Session) {
	defer m.wg.Done()
	for j := range s.jobs {
		err := j.ctx.Err()
		if err == nil {
			err = m.run(j, s)
		}

		m.mu.Lock()
		s.pending--
		s.lastSeen = m.now()
		m.mu.Unlock()

		j.done <- err
	}
}

func (m *Manager) run(j job, s *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Session job panicked", zap.String("session_id", s.ID), zap.Any("panic", r))
			err = fmt.Errorf("session job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx, s)
}

// Reap closes sessions idle longer than the idle timeout with nothing
// queued, and returns how many were closed.
func (m *Manager) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.IdleTimeout)
	n := 0
	for id, s := range m.sessions {
		if s.pending > 0 || s.lastSeen.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		close(s.jobs)
		n++
		m.logger.Info("Session expired", zap.String("session_id", id))
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	return n
}

// StartReaper runs Reap on a ticker until ctx is done.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Reap()
			}
		}
	}()
}

// Close stops accepting work, lets queued jobs finish and waits for every
// worker to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, s := range m.sessions {
		delete(m.sessions, id)
		close(s.jobs)
	}
	metrics.ActiveSessions.Set(0)
	m.mu.Unlock()

	m.wg.Wait()
}
