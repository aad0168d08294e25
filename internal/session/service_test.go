package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
	"github.com/docsession/uploader/pkg/queue"
	"github.com/docsession/uploader/pkg/storage"
	"github.com/docsession/uploader/pkg/storage/local"
)

type fakeQueue struct {
	mu         sync.Mutex
	tasks      []*queue.Task
	statuses   map[string]*queue.TaskStatus
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{statuses: make(map[string]*queue.TaskStatus)}
}

func (f *fakeQueue) Enqueue(_ context.Context, task *queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) GetTaskStatus(_ context.Context, taskID string) (*queue.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[taskID]
	if !ok {
		return nil, errors.New("task not found")
	}
	return st, nil
}

func (f *fakeQueue) CancelTask(context.Context, string) error { return nil }

func (f *fakeQueue) SaveFinalStatus(_ context.Context, status *queue.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[status.TaskID] = status
	return nil
}

func (f *fakeQueue) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func newTestService(t *testing.T) (*Service, *fakeQueue, storage.Storage, *ChunkSpool) {
	t.Helper()
	log := logger.NewTestLogger()
	blobs, err := local.NewLocalStorage(log, t.TempDir())
	require.NoError(t, err)
	spool, err := NewChunkSpool(log, t.TempDir())
	require.NoError(t, err)
	q := newFakeQueue()
	svc := NewService(NewMemoryStore(), spool, blobs, q, log, nil)
	return svc, q, blobs, spool
}

func readBlob(t *testing.T, blobs storage.Storage, key string) []byte {
	t.Helper()
	rc, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestReceiveStandardStoresBothFilesAndEnqueues(t *testing.T) {
	svc, q, blobs, _ := newTestService(t)
	ctx := context.Background()

	carContent := []byte("car document body")
	receiptContent := []byte("receipt document body")

	result, err := svc.ReceiveStandard(ctx, "sess-1",
		IncomingFile{Name: "My CAR file.pdf", Size: int64(len(carContent)), Reader: bytes.NewReader(carContent)},
		IncomingFile{Name: "receipt.pdf", Size: int64(len(receiptContent)), Reader: bytes.NewReader(receiptContent)},
		models.DefaultProcessingOptions(),
	)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, "pending", result.Status)
	assert.NotEmpty(t, result.TaskID)
	assert.NotEqual(t, result.CarFileID, result.ReceiptFileID)

	assert.Equal(t, carContent, readBlob(t, blobs, result.CarFileID+".pdf"))
	assert.Equal(t, receiptContent, readBlob(t, blobs, result.ReceiptFileID+".pdf"))

	recent, err := svc.RecentFiles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "My_CAR_file.pdf", recent[0].FileName)
	assert.Equal(t, models.RoleCAR, recent[0].Role)
	assert.Equal(t, "receipt.pdf", recent[1].FileName)

	require.Equal(t, 1, q.taskCount())
	task := q.tasks[0]
	assert.Equal(t, queue.TaskTypeSessionProcess, task.Type)
	assert.Equal(t, "normal", task.Priority)
	assert.Equal(t, "sess-1", task.Payload["sessionId"])

	st, err := q.GetTaskStatus(ctx, result.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "pending", st.Status)
}

type flakyStorage struct {
	storage.Storage
	mu     sync.Mutex
	stores int
	failOn int
}

func (f *flakyStorage) Store(ctx context.Context, reader io.Reader, key string) (string, error) {
	f.mu.Lock()
	f.stores++
	n := f.stores
	f.mu.Unlock()
	if n == f.failOn {
		return "", errors.New("disk full")
	}
	return f.Storage.Store(ctx, reader, key)
}

func TestReceiveStandardCleansUpOrphanOnFailure(t *testing.T) {
	log := logger.NewTestLogger()
	inner, err := local.NewLocalStorage(log, t.TempDir())
	require.NoError(t, err)
	blobs := &flakyStorage{Storage: inner, failOn: 2}
	spool, err := NewChunkSpool(log, t.TempDir())
	require.NoError(t, err)
	svc := NewService(NewMemoryStore(), spool, blobs, newFakeQueue(), log, nil)

	result, err := svc.ReceiveStandard(context.Background(), "sess-1",
		IncomingFile{Name: "car.pdf", Size: 3, Reader: bytes.NewReader([]byte("car"))},
		IncomingFile{Name: "receipt.pdf", Size: 4, Reader: bytes.NewReader([]byte("rcpt"))},
		models.DefaultProcessingOptions(),
	)
	require.Error(t, err)
	assert.Nil(t, result)

	// the already-stored car blob must not linger
	recent, err := svc.RecentFiles(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestFinalizeAssemblesSpooledFiles(t *testing.T) {
	svc, q, blobs, spool := newTestService(t)
	ctx := context.Background()

	carChunks := []string{"car-part-0|", "car-part-1|", "car-part-2"}
	for i, data := range carChunks {
		meta := ChunkMeta{
			FileID:           "car-id",
			ChunkIndex:       i,
			TotalChunks:      len(carChunks),
			Role:             models.RoleCAR,
			OriginalFilename: "car.pdf",
			TotalSize:        33,
		}
		if i == 0 {
			meta.FileHash = "deadbeef"
			meta.ValidationMeta = &validate.Result{Valid: true, SanitizedName: "car.pdf"}
		}
		require.NoError(t, svc.ReceiveChunk(ctx, meta, bytes.NewReader([]byte(data))))
	}
	require.NoError(t, svc.ReceiveChunk(ctx, ChunkMeta{
		FileID:           "receipt-id",
		ChunkIndex:       0,
		TotalChunks:      1,
		Role:             models.RoleReceipt,
		OriginalFilename: "receipt.pdf",
		TotalSize:        7,
		FileHash:         "cafe",
		ValidationMeta:   &validate.Result{Valid: true, SanitizedName: "receipt.pdf"},
	}, bytes.NewReader([]byte("receipt"))))

	result, err := svc.Finalize(ctx, "sess-9", models.FinalizeRequest{
		CarFileID:         "car-id",
		ReceiptFileID:     "receipt-id",
		ProcessingOptions: models.DefaultProcessingOptions(),
	})
	require.NoError(t, err)

	assert.Equal(t, "car-id", result.CarFileID)
	assert.Equal(t, "receipt-id", result.ReceiptFileID)
	assert.Equal(t, "car-part-0|car-part-1|car-part-2", string(readBlob(t, blobs, "car-id.pdf")))
	assert.Equal(t, "receipt", string(readBlob(t, blobs, "receipt-id.pdf")))

	recent, err := svc.RecentFiles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "deadbeef", recent[0].Fingerprint)
	assert.Equal(t, "car.pdf", recent[0].FileName)
	assert.EqualValues(t, 33, recent[0].Size)

	assert.Equal(t, 1, q.taskCount())

	// spool is cleared once the blobs are stored
	assert.False(t, spool.Complete("car-id"))
	assert.False(t, spool.Complete("receipt-id"))
}

func TestFinalizeIncompleteFileFails(t *testing.T) {
	svc, q, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.ReceiveChunk(ctx, ChunkMeta{
		FileID:           "car-id",
		ChunkIndex:       0,
		TotalChunks:      2,
		Role:             models.RoleCAR,
		OriginalFilename: "car.pdf",
	}, bytes.NewReader([]byte("half"))))

	_, err := svc.Finalize(ctx, "sess-1", models.FinalizeRequest{
		CarFileID:     "car-id",
		ReceiptFileID: "missing-id",
	})
	require.Error(t, err)

	recent, err := svc.RecentFiles(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Equal(t, 0, q.taskCount())
}

func TestAbortFileClearsSpool(t *testing.T) {
	svc, _, _, spool := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.ReceiveChunk(ctx, ChunkMeta{
		FileID:           "car-id",
		ChunkIndex:       0,
		TotalChunks:      5,
		Role:             models.RoleCAR,
		OriginalFilename: "car.pdf",
	}, bytes.NewReader([]byte("chunk"))))

	require.NoError(t, svc.AbortFile(ctx, "car-id"))
	_, _, ok := spool.Received("car-id")
	assert.False(t, ok)
}

func TestRecentFilesClampsLimit(t *testing.T) {
	log := logger.NewTestLogger()
	blobs, err := local.NewLocalStorage(log, t.TempDir())
	require.NoError(t, err)
	spool, err := NewChunkSpool(log, t.TempDir())
	require.NoError(t, err)
	store := NewMemoryStore()
	svc := NewService(store, spool, blobs, newFakeQueue(), log, &Config{MaxRecent: 3, Retention: time.Hour})

	var records []models.SessionFileRecord
	for i := 0; i < 5; i++ {
		records = append(records, models.SessionFileRecord{ID: string(rune('a' + i))})
	}
	require.NoError(t, store.SaveRecords(context.Background(), records...))

	got, err := svc.RecentFiles(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = svc.RecentFiles(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.RecentFiles(context.Background(), 50)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestTaskStatusMapsQueueStates(t *testing.T) {
	svc, q, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		queueStatus string
		want        models.ProcessingStatus
	}{
		{"pending", models.StatusPending},
		{"running", models.StatusRunning},
		{"completed", models.StatusCompleted},
		{"failed", models.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.queueStatus, func(t *testing.T) {
			require.NoError(t, q.SaveFinalStatus(ctx, &queue.TaskStatus{
				TaskID: "task-" + tt.queueStatus,
				Status: tt.queueStatus,
			}))
			task, err := svc.TaskStatus(ctx, "task-"+tt.queueStatus)
			require.NoError(t, err)
			assert.Equal(t, tt.want, task.Status)
		})
	}

	_, err := svc.TaskStatus(ctx, "unknown")
	assert.Error(t, err)
}
