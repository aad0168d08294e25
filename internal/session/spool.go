package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
)

// ChunkMeta describes one incoming chunk. FileHash and ValidationMeta are
// only present on a file's first chunk.
type ChunkMeta struct {
	FileID           string
	ChunkIndex       int
	TotalChunks      int
	Role             models.FileRole
	OriginalFilename string
	TotalSize        int64
	FileHash         string
	ValidationMeta   *validate.Result
}

type spoolFile struct {
	meta     ChunkMeta
	received map[int]int64 // chunk index -> bytes
	updated  time.Time
}

// ChunkSpool holds chunks on disk until a file is complete. Each file gets
// its own directory under the spool root, one chunk_%06d file per chunk.
type ChunkSpool struct {
	root   string
	logger logger.Logger

	mu    sync.Mutex
	files map[string]*spoolFile
}

func NewChunkSpool(log logger.Logger, root string) (*ChunkSpool, error) {
	if root == "" {
		return nil, fmt.Errorf("spool root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create spool root %s: %w", root, err)
	}
	return &ChunkSpool{
		root:   root,
		logger: log,
		files:  make(map[string]*spoolFile),
	}, nil
}

func (s *ChunkSpool) fileDir(fileID string) (string, error) {
	if fileID == "" || strings.ContainsAny(fileID, `/\`) || strings.Contains(fileID, "..") {
		return "", fmt.Errorf("invalid file id: %q", fileID)
	}
	return filepath.Join(s.root, fileID), nil
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}

// Accept writes one chunk. Re-sent chunks overwrite their previous content,
// so client retries are idempotent.
func (s *ChunkSpool) Accept(ctx context.Context, meta ChunkMeta, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if meta.TotalChunks <= 0 {
		return fmt.Errorf("invalid total_chunks: %d", meta.TotalChunks)
	}
	if meta.ChunkIndex < 0 || meta.ChunkIndex >= meta.TotalChunks {
		return fmt.Errorf("chunk index %d out of range [0,%d)", meta.ChunkIndex, meta.TotalChunks)
	}
	dir, err := s.fileDir(meta.FileID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create chunk temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write chunk %d: %w", meta.ChunkIndex, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chunk temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, chunkName(meta.ChunkIndex))); err != nil {
		return fmt.Errorf("finalize chunk %d: %w", meta.ChunkIndex, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[meta.FileID]
	if !ok {
		f = &spoolFile{
			meta:     meta,
			received: make(map[int]int64),
		}
		s.files[meta.FileID] = f
	}
	if f.meta.TotalChunks != meta.TotalChunks {
		return fmt.Errorf("chunk count changed mid-upload: had %d, got %d", f.meta.TotalChunks, meta.TotalChunks)
	}
	// first-chunk fields stick once seen
	if meta.FileHash != "" {
		f.meta.FileHash = meta.FileHash
	}
	if meta.ValidationMeta != nil {
		f.meta.ValidationMeta = meta.ValidationMeta
	}
	f.received[meta.ChunkIndex] = n
	f.updated = time.Now()

	s.logger.Debug("chunk spooled",
		logger.String("fileId", meta.FileID),
		logger.Int("chunkIndex", meta.ChunkIndex),
		logger.Int("totalChunks", meta.TotalChunks),
		logger.Int64("bytes", n))
	return nil
}

// Received reports how many chunks of the file have arrived.
func (s *ChunkSpool) Received(fileID string) (got, total int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, found := s.files[fileID]
	if !found {
		return 0, 0, false
	}
	return len(f.received), f.meta.TotalChunks, true
}

// Complete reports whether every chunk of the file has arrived.
func (s *ChunkSpool) Complete(fileID string) bool {
	got, total, ok := s.Received(fileID)
	return ok && got == total
}

// Meta returns the metadata gathered for the file.
func (s *ChunkSpool) Meta(fileID string) (ChunkMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return ChunkMeta{}, false
	}
	return f.meta, true
}

// Assemble opens the file's chunks in order as one reader. The caller owns
// the returned reader and must Close it.
func (s *ChunkSpool) Assemble(ctx context.Context, fileID string) (io.ReadCloser, ChunkMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, ChunkMeta{}, err
	}

	s.mu.Lock()
	f, ok := s.files[fileID]
	if !ok {
		s.mu.Unlock()
		return nil, ChunkMeta{}, fmt.Errorf("unknown file id: %s", fileID)
	}
	meta := f.meta
	got := len(f.received)
	s.mu.Unlock()

	if got != meta.TotalChunks {
		return nil, ChunkMeta{}, fmt.Errorf("file %s incomplete: %d of %d chunks", fileID, got, meta.TotalChunks)
	}

	dir, err := s.fileDir(fileID)
	if err != nil {
		return nil, ChunkMeta{}, err
	}

	files := make([]*os.File, 0, meta.TotalChunks)
	readers := make([]io.Reader, 0, meta.TotalChunks)
	for i := 0; i < meta.TotalChunks; i++ {
		cf, err := os.Open(filepath.Join(dir, chunkName(i)))
		if err != nil {
			for _, open := range files {
				open.Close()
			}
			return nil, ChunkMeta{}, fmt.Errorf("open chunk %d: %w", i, err)
		}
		files = append(files, cf)
		readers = append(readers, cf)
	}

	return &chunkReader{Reader: io.MultiReader(readers...), files: files}, meta, nil
}

type chunkReader struct {
	io.Reader
	files []*os.File
}

func (c *chunkReader) Close() error {
	var firstErr error
	for _, f := range c.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Remove drops the file's chunks and bookkeeping. Removing an unknown file
// is not an error, abort retries hit this path.
func (s *ChunkSpool) Remove(fileID string) error {
	dir, err := s.fileDir(fileID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.files, fileID)
	s.mu.Unlock()

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove spool dir: %w", err)
	}
	return nil
}

// CleanupStale removes spooled files that have not seen a chunk since the
// threshold. Abandoned uploads land here.
func (s *ChunkSpool) CleanupStale(threshold time.Time) {
	s.mu.Lock()
	var stale []string
	for id, f := range s.files {
		if f.updated.Before(threshold) {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(stale)
	for _, id := range stale {
		if err := s.Remove(id); err != nil {
			s.logger.Warn("failed to remove stale spool entry",
				logger.String("fileId", id),
				logger.Error(err))
			continue
		}
		s.logger.Info("removed stale spooled upload", logger.String("fileId", id))
	}
}
