package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/docsession/uploader/pkg/logger"
)

// ProgressFunc reports hashed bytes against the expected total.
type ProgressFunc func(done, total int64)

// Hasher digests a stream to a lowercase hex SHA-256. Implementations
// differ only in where the work runs; the digest is identical either way.
type Hasher interface {
	Sum(ctx context.Context, r io.Reader, total int64, progress ProgressFunc) (string, error)
}

const readChunkSize = 64 * 1024

var chunkPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, readChunkSize)
	},
}

// InlineHasher digests on the calling goroutine.
type InlineHasher struct{}

func NewInlineHasher() InlineHasher {
	return InlineHasher{}
}

func (InlineHasher) Sum(ctx context.Context, r io.Reader, total int64, progress ProgressFunc) (string, error) {
	h := sha256.New()
	buf := chunkPool.Get().([]byte)
	defer chunkPool.Put(buf)

	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// PoolHasher runs digests on a fixed set of worker goroutines so a large
// selection does not stall the goroutine driving the upload flow. When no
// worker is free, or the pool has been closed, the digest runs inline
// instead; callers cannot observe the difference in the result.
type PoolHasher struct {
	logger    logger.Logger
	inline    InlineHasher
	jobs      chan hashJob
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type hashJob struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	progress ProgressFunc
	result   chan hashResult
}

type hashResult struct {
	digest string
	err    error
}

func NewPoolHasher(log logger.Logger, workers int) *PoolHasher {
	if workers <= 0 {
		workers = 2
	}

	p := &PoolHasher{
		logger: log,
		jobs:   make(chan hashJob),
		closed: make(chan struct{}),
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *PoolHasher) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			digest, err := p.inline.Sum(job.ctx, job.r, job.total, job.progress)
			job.result <- hashResult{digest: digest, err: err}
		case <-p.closed:
			return
		}
	}
}

// Available reports whether the pool still accepts work.
func (p *PoolHasher) Available() bool {
	select {
	case <-p.closed:
		return false
	default:
		return true
	}
}

func (p *PoolHasher) Sum(ctx context.Context, r io.Reader, total int64, progress ProgressFunc) (string, error) {
	job := hashJob{
		ctx:      ctx,
		r:        r,
		total:    total,
		progress: progress,
		result:   make(chan hashResult, 1),
	}

	select {
	case p.jobs <- job:
		// The worker owns r until it answers; waiting here keeps buffer
		// reuse by the caller safe. Cancellation is honored inside Sum.
		res := <-job.result
		return res.digest, res.err
	case <-p.closed:
		return p.inline.Sum(ctx, r, total, progress)
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		// All workers busy
		return p.inline.Sum(ctx, r, total, progress)
	}
}

// Close stops the workers. Digests requested afterwards run inline.
func (p *PoolHasher) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
	p.wg.Wait()
}
