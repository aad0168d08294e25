package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
	"github.com/docsession/uploader/pkg/queue"
	"github.com/docsession/uploader/pkg/storage"
)

// Config holds the service limits.
type Config struct {
	// MaxRecent caps how many records a recent-files query may return.
	MaxRecent int
	// Retention is how long stored blobs are kept before cleanup.
	Retention time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		MaxRecent: 100,
		Retention: 30 * 24 * time.Hour,
	}
}

// IncomingFile is one document of a standard upload.
type IncomingFile struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Service receives session documents, persists them and hands completed
// sessions to the processing queue.
type Service struct {
	store   Store
	spool   *ChunkSpool
	storage storage.Storage
	queue   queue.Queue
	logger  logger.Logger
	config  *Config
}

// NewService creates the session service. A nil config uses DefaultConfig.
func NewService(
	store Store,
	spool *ChunkSpool,
	blobs storage.Storage,
	taskQueue queue.Queue,
	log logger.Logger,
	config *Config,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		store:   store,
		spool:   spool,
		storage: blobs,
		queue:   taskQueue,
		logger:  log,
		config:  config,
	}
}

// ReceiveStandard stores a complete CAR/receipt pair arriving in one request
// and enqueues the session for processing.
func (s *Service) ReceiveStandard(ctx context.Context, sessionID string, car, receipt IncomingFile, opts models.ProcessingOptions) (*models.UploadResult, error) {
	carID := uuid.New().String()
	receiptID := uuid.New().String()

	if _, err := s.storage.Store(ctx, car.Reader, blobKey(carID)); err != nil {
		return nil, fmt.Errorf("failed to store car file: %w", err)
	}
	if _, err := s.storage.Store(ctx, receipt.Reader, blobKey(receiptID)); err != nil {
		if derr := s.storage.Delete(ctx, blobKey(carID)); derr != nil {
			s.logger.Warn("failed to remove orphaned car blob",
				logger.String("fileId", carID),
				logger.Error(derr))
		}
		return nil, fmt.Errorf("failed to store receipt file: %w", err)
	}

	now := time.Now()
	records := []models.SessionFileRecord{
		{
			ID:          carID,
			SessionID:   sessionID,
			SessionName: sessionID,
			FileName:    validate.SanitizeName(car.Name),
			Role:        models.RoleCAR,
			Size:        car.Size,
			CreatedAt:   now,
		},
		{
			ID:          receiptID,
			SessionID:   sessionID,
			SessionName: sessionID,
			FileName:    validate.SanitizeName(receipt.Name),
			Role:        models.RoleReceipt,
			Size:        receipt.Size,
			CreatedAt:   now,
		},
	}

	return s.finishUpload(ctx, sessionID, carID, receiptID, records, opts)
}

// ReceiveChunk spools one chunk of a chunked upload.
func (s *Service) ReceiveChunk(ctx context.Context, meta ChunkMeta, r io.Reader) error {
	if err := s.spool.Accept(ctx, meta, r); err != nil {
		s.logger.Error("failed to accept chunk",
			logger.String("fileId", meta.FileID),
			logger.Int("chunkIndex", meta.ChunkIndex),
			logger.Error(err))
		return err
	}
	return nil
}

// Finalize assembles both spooled files, stores them and enqueues the
// session for processing.
func (s *Service) Finalize(ctx context.Context, sessionID string, req models.FinalizeRequest) (*models.UploadResult, error) {
	ids := []string{req.CarFileID, req.ReceiptFileID}
	records := make([]models.SessionFileRecord, 0, 2)
	stored := make([]string, 0, 2)

	cleanup := func() {
		for _, key := range stored {
			if err := s.storage.Delete(ctx, key); err != nil {
				s.logger.Warn("failed to remove blob after aborted finalize",
					logger.String("key", key),
					logger.Error(err))
			}
		}
	}

	now := time.Now()
	for _, fileID := range ids {
		reader, meta, err := s.spool.Assemble(ctx, fileID)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to assemble file %s: %w", fileID, err)
		}

		key := blobKey(fileID)
		_, err = s.storage.Store(ctx, reader, key)
		reader.Close()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to store file %s: %w", fileID, err)
		}
		stored = append(stored, key)

		name := meta.OriginalFilename
		if meta.ValidationMeta != nil && meta.ValidationMeta.SanitizedName != "" {
			name = meta.ValidationMeta.SanitizedName
		}
		records = append(records, models.SessionFileRecord{
			ID:          fileID,
			SessionID:   sessionID,
			SessionName: sessionID,
			FileName:    validate.SanitizeName(name),
			Role:        meta.Role,
			Size:        meta.TotalSize,
			Fingerprint: meta.FileHash,
			CreatedAt:   now,
		})
	}

	result, err := s.finishUpload(ctx, sessionID, req.CarFileID, req.ReceiptFileID, records, req.ProcessingOptions)
	if err != nil {
		cleanup()
		return nil, err
	}

	for _, fileID := range ids {
		if err := s.spool.Remove(fileID); err != nil {
			s.logger.Warn("failed to clear spool after finalize",
				logger.String("fileId", fileID),
				logger.Error(err))
		}
	}
	return result, nil
}

// AbortFile drops a partially uploaded file from the spool.
func (s *Service) AbortFile(_ context.Context, fileID string) error {
	if err := s.spool.Remove(fileID); err != nil {
		return fmt.Errorf("failed to abort file %s: %w", fileID, err)
	}
	s.logger.Info("aborted chunked upload", logger.String("fileId", fileID))
	return nil
}

// RecentFiles lists the newest uploaded-file records.
func (s *Service) RecentFiles(ctx context.Context, limit int) ([]models.SessionFileRecord, error) {
	if limit <= 0 || limit > s.config.MaxRecent {
		limit = s.config.MaxRecent
	}
	records, err := s.store.RecentRecords(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent files: %w", err)
	}
	return records, nil
}

// TaskStatus reports the processing state for a finalized session.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (*models.ProcessingTask, error) {
	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	var taskStatus models.ProcessingStatus
	switch status.Status {
	case "pending":
		taskStatus = models.StatusPending
	case "running":
		taskStatus = models.StatusRunning
	case "completed":
		taskStatus = models.StatusCompleted
	case "failed":
		taskStatus = models.StatusFailed
	default:
		taskStatus = models.StatusPending
	}

	return &models.ProcessingTask{
		ID:        status.TaskID,
		Type:      queue.TaskTypeSessionProcess,
		Status:    taskStatus,
		Progress:  status.Progress,
		Error:     status.Error,
		Metadata:  make(map[string]string),
		CreatedAt: status.StartedAt,
		UpdatedAt: status.FinishedAt,
	}, nil
}

// Cleanup removes expired blobs and abandoned spool entries.
func (s *Service) Cleanup(ctx context.Context) error {
	threshold := time.Now().Add(-s.config.Retention)

	if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}
	s.spool.CleanupStale(time.Now().Add(-24 * time.Hour))

	s.logger.Info("completed upload cleanup", logger.Time("threshold", threshold))
	return nil
}

func (s *Service) finishUpload(ctx context.Context, sessionID, carID, receiptID string, records []models.SessionFileRecord, opts models.ProcessingOptions) (*models.UploadResult, error) {
	if err := s.store.SaveRecords(ctx, records...); err != nil {
		s.logger.Error("failed to save file records",
			logger.String("sessionId", sessionID),
			logger.Error(err))
		return nil, fmt.Errorf("failed to save file records: %w", err)
	}

	task := &queue.Task{
		ID:       uuid.New().String(),
		Type:     queue.TaskTypeSessionProcess,
		Priority: string(opts.Priority),
		Payload: map[string]interface{}{
			"sessionId":     sessionID,
			"carFileId":     carID,
			"receiptFileId": receiptID,
			"options":       opts,
		},
		Metadata: map[string]string{
			"carFile":     records[0].FileName,
			"receiptFile": records[1].FileName,
		},
		CreatedAt: time.Now(),
	}

	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("failed to enqueue processing task",
			logger.String("sessionId", sessionID),
			logger.Error(err))
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	initial := &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    "pending",
		Progress:  0,
		StartedAt: task.CreatedAt,
	}
	if err := s.queue.SaveFinalStatus(ctx, initial); err != nil {
		s.logger.Error("failed to save initial task status",
			logger.String("taskId", task.ID),
			logger.Error(err))
	}

	s.logger.Info("session upload accepted",
		logger.String("sessionId", sessionID),
		logger.String("carFileId", carID),
		logger.String("receiptFileId", receiptID),
		logger.String("taskId", task.ID))

	return &models.UploadResult{
		SessionID:     sessionID,
		CarFileID:     carID,
		ReceiptFileID: receiptID,
		TaskID:        task.ID,
		Status:        "pending",
	}, nil
}

func blobKey(fileID string) string {
	return fileID + ".pdf"
}
