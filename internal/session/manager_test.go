package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/storage/models"
)

func pending(m *Manager, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.pending
	}
	return 0
}

// block occupies the session's worker until release is closed.
func block(t *testing.T, m *Manager, id string) chan struct{} {
	t.Helper()
	release := make(chan struct{})
	running := make(chan struct{})
	go m.Do(context.Background(), id, func(ctx context.Context, s *Session) error {
		close(running)
		<-release
		return nil
	})
	<-running
	return release
}

func TestDoRunsJobsInOrderPerSession(t *testing.T) {
	m := NewManager(Config{QueueSize: 32})
	defer m.Close()

	release := block(t, m, "s1")

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	want := make([]int, 20)
	for i := range want {
		i := i
		want[i] = i
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Do(context.Background(), "s1", func(ctx context.Context, s *Session) error {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
				return nil
			})
		}()
		require.Eventually(t, func() bool { return pending(m, "s1") == i+2 }, time.Second, time.Millisecond)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, want, got)
}

func TestSessionsRunConcurrently(t *testing.T) {
	m := NewManager(Config{})
	defer m.Close()

	release := make(chan struct{})
	started := make(chan string, 2)
	errs := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		id := id
		go func() {
			_, err := m.Do(context.Background(), id, func(ctx context.Context, s *Session) error {
				started <- s.ID
				<-release
				return nil
			})
			errs <- err
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("sessions did not run concurrently")
		}
	}
	close(release)
	assert.NoError(t, <-errs)
	assert.NoError(t, <-errs)
	assert.Len(t, seen, 2)
}

func TestDoNewSessionAndErrors(t *testing.T) {
	m := NewManager(Config{})
	defer m.Close()

	boom := errors.New("boom")
	id, err := m.Do(context.Background(), "", func(ctx context.Context, s *Session) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Len(t, id, 36)

	_, ok := m.Get(id)
	assert.True(t, ok)

	_, err = m.Do(context.Background(), id, func(ctx context.Context, s *Session) error { panic("bad handler") })
	assert.ErrorContains(t, err, "panicked")

	// the worker survives a panic
	_, err = m.Do(context.Background(), id, func(ctx context.Context, s *Session) error { return nil })
	assert.NoError(t, err)
}

func TestDoQueueFull(t *testing.T) {
	m := NewManager(Config{QueueSize: 1})
	defer m.Close()

	release := block(t, m, "s")
	defer close(release)

	go m.Do(context.Background(), "s", func(ctx context.Context, s *Session) error { return nil })
	require.Eventually(t, func() bool { return pending(m, "s") == 2 }, time.Second, time.Millisecond)

	_, err := m.Do(context.Background(), "s", func(ctx context.Context, s *Session) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDoCanceledWhileQueued(t *testing.T) {
	m := NewManager(Config{})
	defer m.Close()

	release := block(t, m, "s")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	_, err := m.Do(ctx, "s", func(ctx context.Context, s *Session) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	_, err = m.Do(context.Background(), "s", func(ctx context.Context, s *Session) error { return nil })
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewManager(Config{HistoryLimit: 4})
	defer m.Close()

	for i := 0; i < 3; i++ {
		_, err := m.Do(context.Background(), "s", func(ctx context.Context, s *Session) error {
			s.Append(
				models.ChatMessage{Role: models.RoleUser, Content: fmt.Sprintf("q%d", i)},
				models.ChatMessage{Role: models.RoleAssistant, Content: fmt.Sprintf("a%d", i)},
			)
			return nil
		})
		require.NoError(t, err)
	}

	s, ok := m.Get("s")
	require.True(t, ok)
	h := s.History()
	require.Len(t, h, 4)
	assert.Equal(t, "q1", h[0].Content)
	assert.Equal(t, "a2", h[3].Content)

	h[0].Content = "mutated"
	assert.Equal(t, "q1", s.History()[0].Content)
}

func TestReapIdleSessions(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{IdleTimeout: 10 * time.Minute})
	m.now = func() time.Time { return now }
	defer m.Close()

	noop := func(ctx context.Context, s *Session) error { return nil }
	_, err := m.Do(context.Background(), "old", noop)
	require.NoError(t, err)

	now = now.Add(8 * time.Minute)
	_, err = m.Do(context.Background(), "fresh", noop)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, m.Reap())

	_, ok := m.Get("old")
	assert.False(t, ok)
	_, ok = m.Get("fresh")
	assert.True(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestCloseRejectsWork(t *testing.T) {
	m := NewManager(Config{})
	_, err := m.Do(context.Background(), "s", func(ctx context.Context, s *Session) error { return nil })
	require.NoError(t, err)

	m.Close()
	m.Close()

	_, err = m.Do(context.Background(), "s", func(ctx context.Context, s *Session) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
