// Package fingerprint derives a stable content identity for a selected
// file. Small files are digested whole; large files are digested from a
// metadata prefix plus three sampled regions, which stays fast at any size
// while remaining sensitive to changes in the sampled ranges.
package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// Config bounds the fingerprinting strategy.
type Config struct {
	FullHashThreshold int64 // at or below: digest the whole content
	SampleSize        int64 // bytes per sampled region
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() *Config {
	return &Config{
		FullHashThreshold: 1024 * 1024,
		SampleSize:        64 * 1024,
	}
}

// Fingerprinter computes content fingerprints. It never fails: any read
// problem degrades to a metadata-derived fallback digest.
type Fingerprinter struct {
	logger logger.Logger
	config *Config
	hasher Hasher
}

// NewFingerprinter wires a fingerprinter. A nil config takes the defaults;
// a nil hasher digests inline.
func NewFingerprinter(log logger.Logger, config *Config, hasher Hasher) *Fingerprinter {
	if config == nil {
		config = DefaultConfig()
	}
	if hasher == nil {
		hasher = NewInlineHasher()
	}
	return &Fingerprinter{
		logger: log,
		config: config,
		hasher: hasher,
	}
}

var samplePool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Fingerprint digests src. The returned provenance states whether the
// digest covers the full content, sampled regions, or only metadata.
func (f *Fingerprinter) Fingerprint(ctx context.Context, src models.FileSource) models.ContentFingerprint {
	return f.fingerprint(ctx, src, nil)
}

// FingerprintWithProgress additionally reports hashed bytes as they
// accumulate.
func (f *Fingerprinter) FingerprintWithProgress(ctx context.Context, src models.FileSource, progress ProgressFunc) models.ContentFingerprint {
	return f.fingerprint(ctx, src, progress)
}

func (f *Fingerprinter) fingerprint(ctx context.Context, src models.FileSource, progress ProgressFunc) models.ContentFingerprint {
	desc := src.Describe()

	var (
		digest     string
		err        error
		provenance models.Provenance
	)

	if desc.Size <= f.config.FullHashThreshold {
		provenance = models.ProvenanceFull
		digest, err = f.fullDigest(ctx, src, desc, progress)
	} else {
		provenance = models.ProvenanceSampled
		digest, err = f.sampledDigest(ctx, src, desc, progress)
	}

	if err != nil {
		f.logger.Warn("content hashing degraded to metadata fallback",
			logger.String("file", desc.Name),
			logger.Error(err),
		)
		return f.Fallback(desc)
	}

	return models.ContentFingerprint{Digest: digest, Provenance: provenance}
}

// Fallback derives a fingerprint from metadata alone. It is deterministic
// for an unchanged file and cannot fail.
func (f *Fingerprinter) Fallback(desc models.FileDescriptor) models.ContentFingerprint {
	seed := fmt.Sprintf("%s|%d|%d|fallback", desc.Name, desc.Size, desc.LastModifiedAt.UnixMilli())
	sum := sha256.Sum256([]byte(seed))
	return models.ContentFingerprint{
		Digest:     hex.EncodeToString(sum[:]),
		Provenance: models.ProvenanceFallback,
	}
}

func (f *Fingerprinter) fullDigest(ctx context.Context, src models.FileSource, desc models.FileDescriptor, progress ProgressFunc) (string, error) {
	r, err := src.Open()
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer r.Close()

	return f.hasher.Sum(ctx, r, desc.Size, progress)
}

func (f *Fingerprinter) sampledDigest(ctx context.Context, src models.FileSource, desc models.FileDescriptor, progress ProgressFunc) (string, error) {
	buf := samplePool.Get().(*bytes.Buffer)
	buf.Reset()
	defer samplePool.Put(buf)

	buf.Write(metadataPrefix(desc))
	for _, reg := range sampleRegions(desc.Size, f.config.SampleSize) {
		section := io.NewSectionReader(src, reg.off, reg.length)
		if _, err := io.Copy(buf, section); err != nil {
			return "", fmt.Errorf("read sample at %d: %w", reg.off, err)
		}
	}

	return f.hasher.Sum(ctx, bytes.NewReader(buf.Bytes()), int64(buf.Len()), progress)
}

const metadataPrefixLen = 32

// metadataPrefix folds name, size and declared type into a fixed 32-byte
// block, truncated or zero-padded as needed.
func metadataPrefix(desc models.FileDescriptor) []byte {
	p := make([]byte, metadataPrefixLen)
	copy(p, fmt.Sprintf("%s|%d|%s", desc.Name, desc.Size, desc.MimeType))
	return p
}

type region struct {
	off    int64
	length int64
}

// sampleRegions positions one region at the head, one centered on the
// midpoint, and one at the tail. The tail start is clamped to at least
// twice the sample size so it cannot reach back into the midpoint region.
func sampleRegions(size, sample int64) []region {
	regions := make([]region, 0, 3)

	regions = append(regions, region{off: 0, length: min(sample, size)})

	midOff := max(size/2-sample/2, 0)
	if midLen := min(sample, size-midOff); midLen > 0 {
		regions = append(regions, region{off: midOff, length: midLen})
	}

	endOff := max(size-sample, 2*sample)
	if endLen := min(sample, size-endOff); endLen > 0 {
		regions = append(regions, region{off: endOff, length: endLen})
	}

	return regions
}
