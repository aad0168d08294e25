package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/session"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
)

// Multipart part and field names shared with the upload clients.
const (
	partCARFile     = "car_file"
	partReceiptFile = "receipt_file"
	partChunk       = "chunk"

	fieldOptions        = "processing_options"
	fieldFileID         = "file_id"
	fieldChunkIndex     = "chunk_index"
	fieldTotalChunks    = "total_chunks"
	fieldFileType       = "file_type"
	fieldOriginalName   = "original_filename"
	fieldTotalSize      = "total_size"
	fieldFileHash       = "file_hash"
	fieldValidationMeta = "validation_meta"
)

type SessionHandler struct {
	service *session.Service
	logger  logger.Logger
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
}

func NewSessionHandler(service *session.Service, logger logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: service,
		logger:  logger,
	}
}

// Upload receives a complete CAR/receipt pair in one multipart request.
func (h *SessionHandler) Upload(c *gin.Context) {
	sessionID := c.Param("sessionId")

	car, carHeader, err := c.Request.FormFile(partCARFile)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Missing car_file part", err)
		return
	}
	defer car.Close()

	receipt, receiptHeader, err := c.Request.FormFile(partReceiptFile)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Missing receipt_file part", err)
		return
	}
	defer receipt.Close()

	opts, err := parseOptions(c.PostForm(fieldOptions))
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid processing_options", err)
		return
	}

	result, err := h.service.ReceiveStandard(c.Request.Context(), sessionID,
		session.IncomingFile{Name: carHeader.Filename, Size: carHeader.Size, Reader: car},
		session.IncomingFile{Name: receiptHeader.Filename, Size: receiptHeader.Size, Reader: receipt},
		opts,
	)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to store upload", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UploadChunk spools one chunk of a chunked upload.
func (h *SessionHandler) UploadChunk(c *gin.Context) {
	chunk, _, err := c.Request.FormFile(partChunk)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Missing chunk part", err)
		return
	}
	defer chunk.Close()

	meta, err := parseChunkMeta(c)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid chunk metadata", err)
		return
	}

	if err := h.service.ReceiveChunk(c.Request.Context(), meta, chunk); err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to store chunk", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"file_id":      meta.FileID,
		"chunk_index":  meta.ChunkIndex,
		"total_chunks": meta.TotalChunks,
	})
}

// FinalizeUpload assembles both chunked files and accepts the session.
func (h *SessionHandler) FinalizeUpload(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req models.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid finalize request", err)
		return
	}
	if req.CarFileID == "" || req.ReceiptFileID == "" {
		h.handleError(c, http.StatusBadRequest, "Both file ids are required", nil)
		return
	}
	if req.ProcessingOptions.Priority == "" {
		req.ProcessingOptions.Priority = models.PriorityNormal
	}

	result, err := h.service.Finalize(c.Request.Context(), sessionID, req)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to finalize upload", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RecentFiles lists the newest uploaded-file records.
func (h *SessionHandler) RecentFiles(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.handleError(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	records, err := h.service.RecentFiles(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list recent files", err)
		return
	}

	if role := models.FileRole(c.Query("role")); role != "" {
		if !role.Valid() {
			h.handleError(c, http.StatusBadRequest, "Invalid role", nil)
			return
		}
		filtered := records[:0]
		for _, r := range records {
			if r.Role == role {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []models.SessionFileRecord{}
	}

	c.JSON(http.StatusOK, gin.H{
		"files": records,
		"count": len(records),
	})
}

// GetStatus reports the processing state of a finalized session.
func (h *SessionHandler) GetStatus(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		h.handleError(c, http.StatusBadRequest, "task_id is required", nil)
		return
	}

	task, err := h.service.TaskStatus(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"taskId":    task.ID,
		"status":    string(task.Status),
		"progress":  task.Progress,
		"error":     task.Error,
		"createdAt": task.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updatedAt": task.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func parseOptions(raw string) (models.ProcessingOptions, error) {
	opts := models.DefaultProcessingOptions()
	if raw == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return opts, err
	}
	if opts.Priority == "" {
		opts.Priority = models.PriorityNormal
	}
	return opts, nil
}

func parseChunkMeta(c *gin.Context) (session.ChunkMeta, error) {
	var meta session.ChunkMeta
	var err error

	meta.FileID = c.PostForm(fieldFileID)
	meta.ChunkIndex, err = strconv.Atoi(c.PostForm(fieldChunkIndex))
	if err != nil {
		return meta, err
	}
	meta.TotalChunks, err = strconv.Atoi(c.PostForm(fieldTotalChunks))
	if err != nil {
		return meta, err
	}
	meta.TotalSize, err = strconv.ParseInt(c.PostForm(fieldTotalSize), 10, 64)
	if err != nil {
		return meta, err
	}
	meta.Role = models.FileRole(c.PostForm(fieldFileType))
	if !meta.Role.Valid() {
		return meta, fmt.Errorf("invalid file_type: %q", c.PostForm(fieldFileType))
	}
	meta.OriginalFilename = c.PostForm(fieldOriginalName)
	meta.FileHash = c.PostForm(fieldFileHash)

	if raw := c.PostForm(fieldValidationMeta); raw != "" {
		var vm validate.Result
		if err := json.Unmarshal([]byte(raw), &vm); err != nil {
			return meta, err
		}
		meta.ValidationMeta = &vm
	}
	return meta, nil
}

// handleError logs and answers with the JSON error body.
func (h *SessionHandler) handleError(c *gin.Context, status int, message string, err error) {
	h.logger.Error(message,
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
