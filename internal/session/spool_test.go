package session

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
)

func newTestSpool(t *testing.T) *ChunkSpool {
	t.Helper()
	s, err := NewChunkSpool(logger.NewTestLogger(), t.TempDir())
	require.NoError(t, err)
	return s
}

func carMeta(fileID string, index, total int) ChunkMeta {
	meta := ChunkMeta{
		FileID:           fileID,
		ChunkIndex:       index,
		TotalChunks:      total,
		Role:             models.RoleCAR,
		OriginalFilename: "car.pdf",
		TotalSize:        15,
	}
	if index == 0 {
		meta.FileHash = "abc123"
		meta.ValidationMeta = &validate.Result{Valid: true, SanitizedName: "car.pdf"}
	}
	return meta
}

func TestSpoolAssemblesChunksInOrder(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	// arrival order differs from chunk order
	for _, step := range []struct {
		index int
		data  string
	}{
		{2, "gamma"},
		{0, "alpha"},
		{1, "beta!"},
	} {
		require.NoError(t, s.Accept(ctx, carMeta("file-1", step.index, 3), bytes.NewReader([]byte(step.data))))
	}

	assert.True(t, s.Complete("file-1"))
	got, total, ok := s.Received("file-1")
	require.True(t, ok)
	assert.Equal(t, 3, got)
	assert.Equal(t, 3, total)

	reader, meta, err := s.Assemble(ctx, "file-1")
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "alphabeta!gamma", string(content))

	// first-chunk metadata survives out-of-order arrival
	assert.Equal(t, "abc123", meta.FileHash)
	require.NotNil(t, meta.ValidationMeta)
	assert.Equal(t, "car.pdf", meta.ValidationMeta.SanitizedName)
	assert.Equal(t, models.RoleCAR, meta.Role)
}

func TestSpoolResentChunkOverwrites(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, carMeta("file-1", 0, 2), bytes.NewReader([]byte("first"))))
	require.NoError(t, s.Accept(ctx, carMeta("file-1", 1, 2), bytes.NewReader([]byte("old"))))
	require.NoError(t, s.Accept(ctx, carMeta("file-1", 1, 2), bytes.NewReader([]byte("new"))))

	reader, _, err := s.Assemble(ctx, "file-1")
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "firstnew", string(content))
}

func TestSpoolRejectsBadChunks(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()
	data := bytes.NewReader([]byte("x"))

	tests := []struct {
		name string
		meta ChunkMeta
	}{
		{"zero total", ChunkMeta{FileID: "f", ChunkIndex: 0, TotalChunks: 0}},
		{"negative index", ChunkMeta{FileID: "f", ChunkIndex: -1, TotalChunks: 2}},
		{"index past total", ChunkMeta{FileID: "f", ChunkIndex: 2, TotalChunks: 2}},
		{"empty file id", ChunkMeta{FileID: "", ChunkIndex: 0, TotalChunks: 1}},
		{"path in file id", ChunkMeta{FileID: "../escape", ChunkIndex: 0, TotalChunks: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.Accept(ctx, tt.meta, data))
		})
	}

	require.NoError(t, s.Accept(ctx, carMeta("f", 0, 2), bytes.NewReader([]byte("x"))))
	err := s.Accept(ctx, ChunkMeta{FileID: "f", ChunkIndex: 1, TotalChunks: 3, Role: models.RoleCAR}, bytes.NewReader([]byte("y")))
	assert.ErrorContains(t, err, "chunk count changed")
}

func TestSpoolIncompleteAssembleFails(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, carMeta("file-1", 0, 2), bytes.NewReader([]byte("half"))))

	_, _, err := s.Assemble(ctx, "file-1")
	assert.ErrorContains(t, err, "incomplete")

	_, _, err = s.Assemble(ctx, "no-such-file")
	assert.ErrorContains(t, err, "unknown file id")
}

func TestSpoolRemove(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, carMeta("file-1", 0, 1), bytes.NewReader([]byte("data"))))
	require.True(t, s.Complete("file-1"))

	require.NoError(t, s.Remove("file-1"))
	assert.False(t, s.Complete("file-1"))

	// removing again is fine, abort handlers retry
	assert.NoError(t, s.Remove("file-1"))
}

func TestSpoolCleanupStale(t *testing.T) {
	s := newTestSpool(t)
	ctx := context.Background()

	require.NoError(t, s.Accept(ctx, carMeta("file-1", 0, 2), bytes.NewReader([]byte("data"))))

	s.CleanupStale(time.Now().Add(-time.Hour))
	_, _, ok := s.Received("file-1")
	assert.True(t, ok)

	s.CleanupStale(time.Now().Add(time.Second))
	_, _, ok = s.Received("file-1")
	assert.False(t, ok)
}
