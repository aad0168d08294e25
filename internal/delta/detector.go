// Package delta flags candidate uploads that look like files the user
// already uploaded, either byte-identical (by fingerprint) or close in
// size, so the surrounding flow can ask for confirmation before sending.
package delta

import (
	"sort"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// Config bounds the comparison.
type Config struct {
	HistoryWindow     int     // newest records considered
	MaxMatches        int     // matches surfaced to the user
	RelativeTolerance float64 // size delta as a fraction of the recorded size
	AbsoluteTolerance int64   // size delta in bytes
}

// DefaultConfig returns the shipped thresholds.
func DefaultConfig() *Config {
	return &Config{
		HistoryWindow:     20,
		MaxMatches:        4,
		RelativeTolerance: 0.05,
		AbsoluteTolerance: 10 * 1024,
	}
}

// Detector compares a candidate upload against registry history.
type Detector struct {
	logger logger.Logger
	config *Config
}

func NewDetector(log logger.Logger, config *Config) *Detector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Detector{
		logger: log,
		config: config,
	}
}

// Detect returns ranked matches for the candidate, best first. It never
// panics: the result of this check is advisory and any internal failure
// degrades to "no matches".
func (d *Detector) Detect(desc models.FileDescriptor, fp models.ContentFingerprint, role models.FileRole, history []models.SessionFileRecord) (matches []models.DeltaMatch) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("delta detection failed, continuing without matches",
				logger.String("file", desc.Name),
				logger.Any("cause", r),
			)
			matches = nil
		}
	}()

	if len(history) == 0 {
		return nil
	}

	recent := newestFirst(history)
	if len(recent) > d.config.HistoryWindow {
		recent = recent[:d.config.HistoryWindow]
	}

	var exact, similar []models.DeltaMatch
	for _, rec := range recent {
		if rec.Role != role {
			continue
		}

		diff := absDiff(desc.Size, rec.Size)

		if fp.Digest != "" && rec.Fingerprint == fp.Digest {
			exact = append(exact, toMatch(models.DeltaExact, rec, diff))
			continue
		}

		if rec.Size > 0 &&
			float64(diff)/float64(rec.Size) < d.config.RelativeTolerance &&
			diff < d.config.AbsoluteTolerance {
			similar = append(similar, toMatch(models.DeltaSimilar, rec, diff))
		}
	}

	// An exact hit makes size-based guesses noise
	result := similar
	if len(exact) > 0 {
		result = exact
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SizeDifference < result[j].SizeDifference
	})
	if len(result) > d.config.MaxMatches {
		result = result[:d.config.MaxMatches]
	}

	return result
}

func newestFirst(history []models.SessionFileRecord) []models.SessionFileRecord {
	recent := append([]models.SessionFileRecord(nil), history...)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].CreatedAt.After(recent[j].CreatedAt)
	})
	return recent
}

func toMatch(t models.DeltaType, rec models.SessionFileRecord, diff int64) models.DeltaMatch {
	return models.DeltaMatch{
		Type:           t,
		SessionName:    rec.SessionName,
		FileName:       rec.FileName,
		FileSize:       rec.Size,
		CreatedAt:      rec.CreatedAt,
		SizeDifference: diff,
	}
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
