package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
)

type receivedChunk struct {
	path     string
	fileID   string
	index    int
	total    int
	fileType string
	filename string
	size     int64
	hash     string
	meta     string
	data     []byte
}

// chunkService is an in-memory stand-in for the session service's chunk
// endpoints.
type chunkService struct {
	t  *testing.T
	mu sync.Mutex

	chunks    []receivedChunk
	finalized []models.FinalizeRequest

	failAfter int // fail the Nth chunk request, -1 never
}

func newChunkService(t *testing.T) *chunkService {
	return &chunkService{t: t, failAfter: -1}
}

func (s *chunkService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/upload-chunk"):
			s.handleChunk(w, r)
		case strings.HasSuffix(r.URL.Path, "/finalize-upload"):
			s.handleFinalize(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func (s *chunkService) handleChunk(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.chunks)
	fail := s.failAfter >= 0 && n == s.failAfter
	s.mu.Unlock()

	if fail {
		io.Copy(io.Discard, r.Body)
		http.Error(w, "spool full", http.StatusInsufficientStorage)
		return
	}

	require.NoError(s.t, r.ParseMultipartForm(10<<20))

	index, err := strconv.Atoi(r.FormValue(fieldChunkIndex))
	require.NoError(s.t, err)
	total, err := strconv.Atoi(r.FormValue(fieldTotalChunks))
	require.NoError(s.t, err)
	size, err := strconv.ParseInt(r.FormValue(fieldTotalSize), 10, 64)
	require.NoError(s.t, err)

	f, _, err := r.FormFile(partChunk)
	require.NoError(s.t, err)
	data, err := io.ReadAll(f)
	f.Close()
	require.NoError(s.t, err)

	s.mu.Lock()
	s.chunks = append(s.chunks, receivedChunk{
		path:     r.URL.Path,
		fileID:   r.FormValue(fieldFileID),
		index:    index,
		total:    total,
		fileType: r.FormValue(fieldFileType),
		filename: r.FormValue(fieldOriginalFilename),
		size:     size,
		hash:     r.FormValue(fieldFileHash),
		meta:     r.FormValue(fieldValidationMeta),
		data:     data,
	})
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
}

func (s *chunkService) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req models.FinalizeRequest
	require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

	s.mu.Lock()
	s.finalized = append(s.finalized, req)
	s.mu.Unlock()

	json.NewEncoder(w).Encode(models.UploadResult{
		SessionID:     "sess-1",
		CarFileID:     req.CarFileID,
		ReceiptFileID: req.ReceiptFileID,
		TaskID:        "task-42",
		Status:        "accepted",
	})
}

func (s *chunkService) chunksFor(fileID string) []receivedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []receivedChunk
	for _, c := range s.chunks {
		if c.fileID == fileID {
			out = append(out, c)
		}
	}
	return out
}

func reassemble(chunks []receivedChunk) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c.data...)
	}
	return out
}

func TestChunkedSendProtocol(t *testing.T) {
	service := newChunkService(t)
	srv := httptest.NewServer(service.handler())
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.ChunkSize = 1024

	// 2560 bytes = two full chunks plus a 512-byte tail
	carData := make([]byte, 2560)
	for i := range carData {
		carData[i] = byte(i % 7)
	}
	receiptData := []byte(strings.Repeat("r", 900))

	progress := newProgressRecorder()
	result, err := NewChunked(logger.NewTestLogger(), cfg).Send(
		context.Background(),
		makePair(t, "sess-1", carData, receiptData),
		models.DefaultProcessingOptions(),
		progress.record,
	)
	require.NoError(t, err)

	// One finalize, referencing the same IDs the chunks traveled under
	require.Len(t, service.finalized, 1)
	finalize := service.finalized[0]
	assert.Equal(t, finalize.CarFileID, result.CarFileID)
	assert.Equal(t, finalize.ReceiptFileID, result.ReceiptFileID)
	assert.Equal(t, "task-42", result.TaskID)
	assert.True(t, finalize.ProcessingOptions.EnableValidation)

	carChunks := service.chunksFor(finalize.CarFileID)
	require.Len(t, carChunks, 3)
	for i, c := range carChunks {
		assert.Equal(t, "/api/v1/sessions/sess-1/upload-chunk", c.path)
		assert.Equal(t, i, c.index)
		assert.Equal(t, 3, c.total)
		assert.Equal(t, "car", c.fileType)
		assert.Equal(t, "car.pdf", c.filename)
		assert.Equal(t, int64(2560), c.size)
	}
	assert.Len(t, carChunks[0].data, 1024)
	assert.Len(t, carChunks[1].data, 1024)
	assert.Len(t, carChunks[2].data, 512)
	assert.Equal(t, carData, reassemble(carChunks))

	// Identity material travels on the first chunk only
	assert.Equal(t, "digest-car", carChunks[0].hash)
	var meta validate.Result
	require.NoError(t, json.Unmarshal([]byte(carChunks[0].meta), &meta))
	assert.True(t, meta.Valid)
	assert.Equal(t, "car.pdf", meta.SanitizedName)
	assert.Empty(t, carChunks[1].hash)
	assert.Empty(t, carChunks[1].meta)

	receiptChunks := service.chunksFor(finalize.ReceiptFileID)
	require.Len(t, receiptChunks, 1)
	assert.Equal(t, 1, receiptChunks[0].total)
	assert.Equal(t, []byte(receiptData), receiptChunks[0].data)

	// The car finishes before the receipt starts
	assert.Equal(t, finalize.CarFileID, service.chunks[0].fileID)
	assert.Equal(t, finalize.ReceiptFileID, service.chunks[3].fileID)

	assert.Equal(t, float64(1), progress.last(models.RoleCAR))
	assert.Equal(t, float64(1), progress.last(models.RoleReceipt))
	assert.True(t, progress.nonDecreasing(models.RoleCAR))
	assert.True(t, progress.nonDecreasing(models.RoleReceipt))
}

func TestChunkedAbortsOnRejectedChunk(t *testing.T) {
	service := newChunkService(t)
	service.failAfter = 1 // second chunk request dies
	srv := httptest.NewServer(service.handler())
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.ChunkSize = 1024

	_, err := NewChunked(logger.NewTestLogger(), cfg).Send(
		context.Background(),
		makePair(t, "sess-1", make([]byte, 3000), []byte("receipt")),
		models.DefaultProcessingOptions(),
		nil,
	)

	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryUpload, e.Category)
	assert.Equal(t, 1, e.ChunkIndex)
	assert.Equal(t, "car.pdf", e.File)
	assert.Equal(t, http.StatusInsufficientStorage, e.Status)

	// Nothing after the failing chunk goes out, and nothing is finalized
	assert.Len(t, service.chunks, 1)
	assert.Empty(t, service.finalized)
}

func TestChunkedNetworkFailureCarriesChunkIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.ChunkSize = 1024

	_, err := NewChunked(logger.NewTestLogger(), cfg).Send(
		context.Background(),
		makePair(t, "sess-1", make([]byte, 3000), []byte("receipt")),
		models.DefaultProcessingOptions(),
		nil,
	)

	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryNetwork, e.Category)
	assert.Equal(t, 0, e.ChunkIndex)
	assert.Equal(t, "car.pdf", e.File)
}

func TestChunkedSingleChunkFile(t *testing.T) {
	service := newChunkService(t)
	srv := httptest.NewServer(service.handler())
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.ChunkSize = 1024

	_, err := NewChunked(logger.NewTestLogger(), cfg).Send(
		context.Background(),
		makePair(t, "sess-1", []byte("tiny car"), []byte("tiny receipt")),
		models.DefaultProcessingOptions(),
		nil,
	)
	require.NoError(t, err)

	require.Len(t, service.chunks, 2)
	for _, c := range service.chunks {
		assert.Equal(t, 0, c.index)
		assert.Equal(t, 1, c.total)
		assert.NotEmpty(t, c.hash)
	}
}
