package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/discbound/recovery/internal/db"
	mock_database "github.com/discbound/recovery/internal/db/mocks"
	"github.com/discbound/recovery/internal/repository"
)

type sentMessage struct {
	topic string
	key   []byte
	value []byte
}

type recordingProducer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (p *recordingProducer) SendMessage(_ context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, value: value})
	return nil
}

func (p *recordingProducer) Close() error { return nil }

type statusUpdate struct {
	id        uuid.UUID
	status    repository.TaskStatus
	attempts  int
	lastError *string
	completed *time.Time
}

type recordingTaskRepo struct {
	mu      sync.Mutex
	tasks   []*repository.OutboxTask
	updates []statusUpdate

	selectTx db.Tx
	markTxs  []db.Tx
}

func (r *recordingTaskRepo) GetProcessableTasks(_ context.Context, tx db.Tx, _ int) ([]*repository.OutboxTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selectTx = tx
	return r.tasks, nil
}

func (r *recordingTaskRepo) UpdateTaskStatusTx(_ context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	r.mu.Lock()
	r.markTxs = append(r.markTxs, tx)
	r.mu.Unlock()
	return r.UpdateTaskStatus(context.Background(), nil, id, status, attempts, lastError, completedAt)
}

func (r *recordingTaskRepo) UpdateTaskStatus(_ context.Context, _ db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, statusUpdate{id: id, status: status, attempts: attempts, lastError: lastError, completed: completedAt})
	return nil
}

func changeTask(t *testing.T, eventID uuid.UUID) *repository.OutboxTask {
	t.Helper()
	payload, err := json.Marshal(repository.RecoveryChanged{RecoveryEventID: eventID})
	require.NoError(t, err)
	return &repository.OutboxTask{
		ID:      uuid.New(),
		Status:  repository.TaskStatusProcessing,
		Topic:   "recovery-changes",
		Payload: payload,
	}
}

func TestMessageKey(t *testing.T) {
	t.Parallel()

	t.Run("keyed by recovery id", func(t *testing.T) {
		eventID := uuid.New()
		task := changeTask(t, eventID)
		assert.Equal(t, []byte(eventID.String()), messageKey(task))
	})

	t.Run("falls back to task id", func(t *testing.T) {
		task := &repository.OutboxTask{ID: uuid.New(), Payload: json.RawMessage(`{"something": "else"}`)}
		assert.Equal(t, []byte(task.ID.String()), messageKey(task))
	})
}

func TestProcessBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	mockDB := mock_database.NewMockDB(ctrl)
	mockTx := mock_database.NewMockTx(ctrl)
	mockDB.EXPECT().BeginTx(gomock.Any()).Return(mockTx, nil)
	mockTx.EXPECT().Commit(gomock.Any()).Return(nil)
	mockTx.EXPECT().Rollback(gomock.Any()).Return(nil).AnyTimes()

	eventID := uuid.New()
	producer := &recordingProducer{}
	repo := &recordingTaskRepo{tasks: []*repository.OutboxTask{changeTask(t, eventID)}}
	p := NewPublisher(mockDB, repo, producer, PublisherConfig{BatchSize: 10, MaxAttempts: 3}, zap.NewNop())

	require.NoError(t, p.processBatch(ctx))

	// The select and the PROCESSING mark share the transaction, so the row
	// locks from the select survive until the mark commits.
	require.Len(t, repo.markTxs, 1)
	assert.Same(t, mockTx, repo.selectTx)
	assert.Same(t, mockTx, repo.markTxs[0])

	require.Len(t, producer.sent, 1)
	assert.Equal(t, []byte(eventID.String()), producer.sent[0].key)

	// One PROCESSING mark, then DONE after the publish.
	require.Len(t, repo.updates, 2)
	assert.Equal(t, repository.TaskStatusProcessing, repo.updates[0].status)
	assert.Equal(t, repository.TaskStatusDone, repo.updates[1].status)
}

func TestProcessSingleTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success marks done", func(t *testing.T) {
		producer := &recordingProducer{}
		repo := &recordingTaskRepo{}
		p := NewPublisher(nil, repo, producer, PublisherConfig{MaxAttempts: 3}, zap.NewNop())

		eventID := uuid.New()
		task := changeTask(t, eventID)
		require.NoError(t, p.processSingleTask(ctx, task))

		require.Len(t, producer.sent, 1)
		assert.Equal(t, "recovery-changes", producer.sent[0].topic)
		assert.Equal(t, []byte(eventID.String()), producer.sent[0].key)

		require.Len(t, repo.updates, 1)
		assert.Equal(t, repository.TaskStatusDone, repo.updates[0].status)
		assert.NotNil(t, repo.updates[0].completed)
	})

	t.Run("send failure marks failed with attempt count", func(t *testing.T) {
		producer := &recordingProducer{err: errors.New("broker unreachable")}
		repo := &recordingTaskRepo{}
		p := NewPublisher(nil, repo, producer, PublisherConfig{MaxAttempts: 3}, zap.NewNop())

		task := changeTask(t, uuid.New())
		task.Attempts = 1
		require.Error(t, p.processSingleTask(ctx, task))

		require.Len(t, repo.updates, 1)
		assert.Equal(t, repository.TaskStatusFailed, repo.updates[0].status)
		assert.Equal(t, 2, repo.updates[0].attempts)
		require.NotNil(t, repo.updates[0].lastError)
		assert.Equal(t, "broker unreachable", *repo.updates[0].lastError)
		assert.Nil(t, repo.updates[0].completed)
	})
}
