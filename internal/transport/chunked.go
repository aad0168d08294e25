package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/google/uuid"

	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// Form field names of the chunk protocol, fixed by the wire contract.
const (
	partChunk             = "chunk"
	fieldFileID           = "file_id"
	fieldChunkIndex       = "chunk_index"
	fieldTotalChunks      = "total_chunks"
	fieldFileType         = "file_type"
	fieldOriginalFilename = "original_filename"
	fieldTotalSize        = "total_size"
	fieldFileHash         = "file_hash"
	fieldValidationMeta   = "validation_meta"
)

// Chunked splits each file into fixed-size pieces and sends them strictly
// in order, one request per piece, then asks the service to stitch the
// pair together. Any failed piece aborts the whole operation; there is no
// resume across attempts.
type Chunked struct {
	logger logger.Logger
	config *Config
}

func NewChunked(log logger.Logger, config *Config) *Chunked {
	return &Chunked{
		logger: log,
		config: config,
	}
}

func (c *Chunked) Send(ctx context.Context, pair Pair, opts models.ProcessingOptions, progress ProgressFunc) (*models.UploadResult, error) {
	ids := make([]string, 0, 2)
	for _, u := range pair.uploads() {
		fileID := uuid.New().String()
		ids = append(ids, fileID)

		if err := c.sendFile(ctx, pair.SessionID, u, fileID, progress); err != nil {
			return nil, err
		}
	}

	return c.finalize(ctx, pair.SessionID, models.FinalizeRequest{
		CarFileID:         ids[0],
		ReceiptFileID:     ids[1],
		ProcessingOptions: opts,
	})
}

func (c *Chunked) sendFile(ctx context.Context, sessionID string, u Upload, fileID string, progress ProgressFunc) error {
	desc := u.Source.Describe()
	totalChunks := int((desc.Size + c.config.ChunkSize - 1) / c.config.ChunkSize)
	if totalChunks < 1 {
		totalChunks = 1
	}

	c.logger.Info("sending chunked upload",
		logger.String("session", sessionID),
		logger.String("file", u.SanitizedName),
		logger.String("file_id", fileID),
		logger.Int("total_chunks", totalChunks),
	)

	r, err := u.Source.Open()
	if err != nil {
		return errs.Upload("cannot open file for chunking", err).WithFile(u.SanitizedName)
	}
	defer r.Close()

	// One chunk buffer per file keeps memory flat regardless of size
	buf := make([]byte, c.config.ChunkSize)

	for index := 0; index < totalChunks; index++ {
		n, err := io.ReadFull(r, buf)
		if err == io.ErrUnexpectedEOF && n > 0 {
			err = nil
		}
		if err != nil {
			return errs.Upload("file shrank while chunking", err).
				WithFile(u.SanitizedName).WithChunk(index)
		}

		if err := c.sendChunk(ctx, sessionID, u, fileID, index, totalChunks, buf[:n], progress); err != nil {
			if e, ok := errs.As(err); ok {
				e.WithFile(u.SanitizedName).WithChunk(index)
			}
			c.logger.Error("chunk failed, aborting upload",
				logger.String("file", u.SanitizedName),
				logger.Int("chunk", index),
				logger.Error(err),
			)
			return err
		}
	}

	return nil
}

func (c *Chunked) sendChunk(parent context.Context, sessionID string, u Upload, fileID string, index, totalChunks int, data []byte, progress ProgressFunc) error {
	ctx, cancel := context.WithTimeout(parent, c.config.ChunkTimeout)
	defer cancel()

	desc := u.Source.Describe()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(c.writeChunkBody(mw, u, desc, fileID, index, totalChunks, data, progress))
	}()

	req, err := newRequest(ctx, c.config, c.config.sessionURL(sessionID, "upload-chunk"), mw.FormDataContentType(), pr)
	if err != nil {
		return err
	}

	resp, err := c.config.client().Do(req)
	if err != nil {
		return classifySendError(err, c.config.ChunkTimeout)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errs.Upload(
			fmt.Sprintf("chunk rejected: %s", bytes.TrimSpace(snippet)), nil,
		).WithStatus(resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)

	return nil
}

func (c *Chunked) writeChunkBody(mw *multipart.Writer, u Upload, desc models.FileDescriptor, fileID string, index, totalChunks int, data []byte, progress ProgressFunc) error {
	fields := []struct{ name, value string }{
		{fieldFileID, fileID},
		{fieldChunkIndex, strconv.Itoa(index)},
		{fieldTotalChunks, strconv.Itoa(totalChunks)},
		{fieldFileType, string(u.Role)},
		{fieldOriginalFilename, u.SanitizedName},
		{fieldTotalSize, strconv.FormatInt(desc.Size, 10)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	// The first chunk carries the identity material the service needs to
	// verify the assembled file later
	if index == 0 {
		if err := mw.WriteField(fieldFileHash, u.Fingerprint.Digest); err != nil {
			return fmt.Errorf("write file hash: %w", err)
		}
		meta, err := json.Marshal(u.Validation)
		if err != nil {
			return fmt.Errorf("encode validation meta: %w", err)
		}
		if err := mw.WriteField(fieldValidationMeta, string(meta)); err != nil {
			return fmt.Errorf("write validation meta: %w", err)
		}
	}

	part, err := mw.CreateFormFile(partChunk, fmt.Sprintf("%s.%06d", u.SanitizedName, index))
	if err != nil {
		return fmt.Errorf("create chunk part: %w", err)
	}

	counted := &countingReader{r: bytes.NewReader(data), onRead: func(done int64) {
		if progress != nil {
			within := fraction(done, int64(len(data)))
			progress(u.Role, (float64(index)+within)/float64(totalChunks))
		}
	}}
	if _, err := io.Copy(part, counted); err != nil {
		return fmt.Errorf("stream chunk %d: %w", index, err)
	}

	return mw.Close()
}

func (c *Chunked) finalize(parent context.Context, sessionID string, finalize models.FinalizeRequest) (*models.UploadResult, error) {
	ctx, cancel := context.WithTimeout(parent, c.config.ChunkTimeout)
	defer cancel()

	payload, err := json.Marshal(finalize)
	if err != nil {
		return nil, fmt.Errorf("encode finalize request: %w", err)
	}

	req, err := newRequest(ctx, c.config, c.config.sessionURL(sessionID, "finalize-upload"), "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.config.client().Do(req)
	if err != nil {
		return nil, classifySendError(err, c.config.ChunkTimeout)
	}
	defer resp.Body.Close()

	result, err := decodeResult(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Info("chunked upload finalized",
		logger.String("session", sessionID),
		logger.String("task", result.TaskID),
	)
	return result, nil
}
