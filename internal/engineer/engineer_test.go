package engineer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-agent/backend/internal/storage/models"
)

var errMissing = errors.New("missing")

type memStore struct {
	tasks map[int64]*models.EngineerTask
	// beforeUpdate runs between the status read and the write.
	beforeUpdate func(t *models.EngineerTask)
}

func (m *memStore) GetEngineerTask(ctx context.Context, id int64) (*models.EngineerTask, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, errMissing
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListEngineerTasks(ctx context.Context, status models.TaskStatus, limit int) ([]models.EngineerTask, error) {
	var out []models.EngineerTask
	for _, t := range m.tasks {
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) UpdateEngineerTask(ctx context.Context, id int64, from models.TaskStatus, upd models.TaskUpdate) (bool, error) {
	t, ok := m.tasks[id]
	if !ok {
		return false, errMissing
	}
	if m.beforeUpdate != nil {
		m.beforeUpdate(t)
	}
	if from != "" && t.Status != from {
		return false, nil
	}
	t.Status = upd.Status
	if upd.AssignedTo != "" {
		t.AssignedTo = upd.AssignedTo
	}
	return true, nil
}

func newStore() *memStore {
	return &memStore{tasks: map[int64]*models.EngineerTask{
		1: {ID: 1, Status: models.TaskPending},
		2: {ID: 2, Status: models.TaskCompleted},
	}}
}

func TestServiceTransitions(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		to   models.TaskStatus
		ok   bool
	}{
		{"pending to in progress", 1, models.TaskInProgress, true},
		{"pending to failed", 1, models.TaskFailed, true},
		{"pending to completed", 1, models.TaskCompleted, false},
		{"completed is final", 2, models.TaskInProgress, false},
		{"unknown status", 1, "done", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(newStore())
			task, err := s.Update(context.Background(), tt.id, models.TaskUpdate{Status: tt.to, AssignedTo: "bob"})
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, task.Status)
			assert.Equal(t, "bob", task.AssignedTo)
		})
	}
}

func TestServiceUpdateLosesToConcurrentWriter(t *testing.T) {
	store := newStore()
	store.beforeUpdate = func(t *models.EngineerTask) { t.Status = models.TaskInProgress }

	_, err := NewService(store).Update(context.Background(), 1, models.TaskUpdate{Status: models.TaskFailed})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, models.TaskInProgress, store.tasks[1].Status)
}

func TestServiceUpdateMissingTask(t *testing.T) {
	_, err := NewService(newStore()).Update(context.Background(), 9, models.TaskUpdate{Status: models.TaskInProgress})
	assert.ErrorIs(t, err, errMissing)
}

func TestServiceList(t *testing.T) {
	s := NewService(newStore())

	pending, err := s.List(context.Background(), models.TaskPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = s.List(context.Background(), "bogus", 10)
	assert.Error(t, err)
}

type fakePublisher struct {
	got []models.EngineerTask
	err error
}

func (f *fakePublisher) PublishEngineerTask(ctx context.Context, task models.EngineerTask) error {
	f.got = append(f.got, task)
	return f.err
}

func TestRedisNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewRedisNotifier(pub)
	require.NoError(t, n.NotifyEngineerTask(context.Background(), models.EngineerTask{ID: 5}))
	require.Len(t, pub.got, 1)
	assert.Equal(t, int64(5), pub.got[0].ID)

	pub.err = errors.New("publish failed")
	assert.Error(t, n.NotifyEngineerTask(context.Background(), models.EngineerTask{ID: 6}))
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier().NotifyEngineerTask(context.Background(), models.EngineerTask{ID: 1}))
}
