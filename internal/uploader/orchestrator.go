package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docsession/uploader/internal/delta"
	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/fingerprint"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/internal/registry"
	"github.com/docsession/uploader/internal/transport"
	"github.com/docsession/uploader/internal/validate"
	"github.com/docsession/uploader/pkg/logger"
)

var (
	// ErrBusy is returned when a new selection is attempted mid-upload.
	ErrBusy = errors.New("an upload is already in progress")
	// ErrNoSelection is returned when Upload is called without a confirmed pair.
	ErrNoSelection = errors.New("no selected file pair to upload")
)

// Config tunes the orchestrator. Transport choice follows the validator's
// chunking decision, so the size threshold lives in validate.Config.
type Config struct {
	// HistoryLimit bounds how many recent records are fetched for delta checks.
	HistoryLimit int
	// ReleaseDelay is how long completed selections keep their file handles
	// open before they are released.
	ReleaseDelay time.Duration
	// DeepValidation parses PDF structure during selection. Findings are
	// surfaced as warnings and never block.
	DeepValidation bool
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() *Config {
	return &Config{
		HistoryLimit:   20,
		ReleaseDelay:   5 * time.Minute,
		DeepValidation: false,
	}
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Validator     *validate.Validator
	Fingerprinter *fingerprint.Fingerprinter
	Detector      *delta.Detector
	Registry      registry.Registry
	Standard      transport.Transport
	Chunked       transport.Transport
}

type preparedFile struct {
	role        models.FileRole
	source      models.FileSource
	desc        models.FileDescriptor
	validation  *validate.Result
	fingerprint models.ContentFingerprint
}

type selection struct {
	sessionID string
	car       *preparedFile
	receipt   *preparedFile
	matches   []models.DeltaMatch
}

// Orchestrator walks a pair of session documents through validation,
// fingerprinting, delta detection and upload. One flow at a time.
type Orchestrator struct {
	logger logger.Logger
	config *Config
	deps   Deps
	events Events

	mu      sync.Mutex
	state   State
	sel     *selection
	release *time.Timer
}

// New creates an orchestrator. A nil config uses DefaultConfig.
func New(log logger.Logger, config *Config, deps Deps, events Events) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Orchestrator{
		logger: log,
		config: config,
		deps:   deps,
		events: events,
		state:  StateIdle,
	}
}

// State reports the current flow state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// DeltaMatches returns the matches found during the last selection, newest
// confirmation candidates first.
func (o *Orchestrator) DeltaMatches() []models.DeltaMatch {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sel == nil {
		return nil
	}
	out := make([]models.DeltaMatch, len(o.sel.matches))
	copy(out, o.sel.matches)
	return out
}

// Select validates and fingerprints a CAR/receipt pair and checks it against
// recent uploads. On success the orchestrator awaits confirmation; a failed
// validation returns to idle with the selection cleared.
func (o *Orchestrator) Select(ctx context.Context, sessionID string, car, receipt models.FileSource) error {
	if err := o.begin(); err != nil {
		return err
	}
	if car == nil || receipt == nil {
		err := errs.Validation("a car file and a receipt file are both required")
		o.alert(Alert{
			Category: err.Category,
			Severity: err.Severity,
			Message:  err.Message,
		})
		o.setState(StateIdle)
		return err
	}
	o.setState(StateValidating)

	pair := []*preparedFile{
		{role: models.RoleCAR, source: car},
		{role: models.RoleReceipt, source: receipt},
	}
	for _, p := range pair {
		p.desc = p.source.Describe()
		p.validation = o.deps.Validator.Validate(p.desc, p.role)
		if !p.validation.Valid {
			o.alert(Alert{
				File:     p.desc.Name,
				Role:     p.role,
				Category: p.validation.Category,
				Severity: p.validation.Severity,
				Message:  p.validation.Message,
			})
			o.logger.Warn("selection rejected",
				logger.String("file", p.desc.Name),
				logger.String("role", string(p.role)),
				logger.String("reason", p.validation.Message))
			o.setState(StateIdle)
			return p.validation.Err(p.desc.Name)
		}
		if p.validation.Message != "" {
			o.alert(Alert{
				File:     p.desc.Name,
				Role:     p.role,
				Category: p.validation.Category,
				Severity: p.validation.Severity,
				Message:  p.validation.Message,
			})
		}
	}

	if o.config.DeepValidation {
		for _, p := range pair {
			pages, err := o.deps.Validator.DeepCheck(p.source)
			if err != nil {
				o.alert(Alert{
					File:     p.validation.SanitizedName,
					Role:     p.role,
					Category: errs.CategoryValidation,
					Severity: errs.SeverityWarning,
					Message:  fmt.Sprintf("document structure check failed: %v", err),
				})
				continue
			}
			o.logger.Debug("document structure verified",
				logger.String("file", p.validation.SanitizedName),
				logger.Int("pages", pages))
		}
	}

	o.setState(StateFingerprinting)

	history, err := o.deps.Registry.RecentFiles(ctx, o.config.HistoryLimit)
	if err != nil {
		o.logger.Warn("recent upload history unavailable", logger.Error(err))
		o.alert(Alert{
			Category: errs.CategoryProcessing,
			Severity: errs.SeverityWarning,
			Message:  "recent upload history unavailable, duplicate check skipped",
		})
		history = nil
	}

	var (
		matchMu sync.Mutex
		matches []models.DeltaMatch
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pair {
		p := p
		g.Go(func() error {
			p.fingerprint = o.deps.Fingerprinter.Fingerprint(gctx, p.source)
			if p.fingerprint.Provenance == models.ProvenanceFallback {
				o.alert(Alert{
					File:     p.validation.SanitizedName,
					Role:     p.role,
					Category: errs.CategoryProcessing,
					Severity: errs.SeverityWarning,
					Message:  "content could not be read for fingerprinting, using metadata fallback",
				})
			}
			found := o.deps.Detector.Detect(p.desc, p.fingerprint, p.role, history)
			if len(found) > 0 {
				matchMu.Lock()
				matches = append(matches, found...)
				matchMu.Unlock()
				o.alert(Alert{
					File:     p.validation.SanitizedName,
					Role:     p.role,
					Category: errs.CategoryValidation,
					Severity: errs.SeverityWarning,
					Message:  fmt.Sprintf("%s resembles %d recently uploaded file(s)", p.validation.SanitizedName, len(found)),
					Matches:  found,
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.setState(StateIdle)
		return err
	}

	o.mu.Lock()
	o.sel = &selection{
		sessionID: sessionID,
		car:       pair[0],
		receipt:   pair[1],
		matches:   matches,
	}
	o.mu.Unlock()
	o.setState(StateAwaitingConfirmation)

	o.logger.Info("file pair selected",
		logger.String("sessionId", sessionID),
		logger.String("carFile", pair[0].validation.SanitizedName),
		logger.String("receiptFile", pair[1].validation.SanitizedName),
		logger.Int("deltaMatches", len(matches)))
	return nil
}

// Upload sends the confirmed pair. Chunked transfer is used when either file
// was flagged for it during validation. On failure the selection is preserved
// so the caller can retry.
func (o *Orchestrator) Upload(ctx context.Context, opts models.ProcessingOptions) (*models.UploadResult, error) {
	o.mu.Lock()
	if o.state != StateAwaitingConfirmation && o.state != StateFailed {
		o.mu.Unlock()
		return nil, ErrNoSelection
	}
	sel := o.sel
	o.mu.Unlock()
	if sel == nil {
		return nil, ErrNoSelection
	}

	o.setState(StateUploading)

	pair := transport.Pair{
		SessionID: sel.sessionID,
		CAR:       uploadFor(sel.car),
		Receipt:   uploadFor(sel.receipt),
	}
	t := o.deps.Standard
	mode := "standard"
	if sel.car.validation.RequiresChunking || sel.receipt.validation.RequiresChunking {
		t = o.deps.Chunked
		mode = "chunked"
	}
	o.logger.Info("starting upload",
		logger.String("sessionId", sel.sessionID),
		logger.String("mode", mode),
		logger.Int64("carSize", sel.car.desc.Size),
		logger.Int64("receiptSize", sel.receipt.desc.Size))

	result, err := t.Send(ctx, pair, opts, o.combinedProgress())
	if err != nil {
		o.setState(StateFailed)
		e, _ := errs.As(err)
		o.alert(Alert{
			File:     fileOf(e),
			Category: errs.CategoryOf(err),
			Severity: errs.SeverityError,
			Message:  err.Error(),
		})
		o.logger.Error("upload failed",
			logger.String("sessionId", sel.sessionID),
			logger.String("mode", mode),
			logger.Error(err))
		return nil, err
	}

	if err := o.deps.Registry.RegisterUpload(ctx, o.recordsFor(sel, result)...); err != nil {
		o.logger.Warn("failed to record upload history", logger.Error(err))
		o.alert(Alert{
			Category: errs.CategoryProcessing,
			Severity: errs.SeverityWarning,
			Message:  "upload succeeded but could not be recorded for duplicate checks",
		})
	}

	o.setState(StateCompleted)
	o.scheduleRelease()

	o.logger.Info("upload completed",
		logger.String("sessionId", result.SessionID),
		logger.String("carFileId", result.CarFileID),
		logger.String("receiptFileId", result.ReceiptFileID),
		logger.String("taskId", result.TaskID))
	return result, nil
}

// Reset drops the current selection and returns to idle.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.cancelReleaseLocked()
	o.closeSelectionLocked()
	o.mu.Unlock()
	o.setState(StateIdle)
}

func uploadFor(p *preparedFile) transport.Upload {
	return transport.Upload{
		Role:          p.role,
		Source:        p.source,
		SanitizedName: p.validation.SanitizedName,
		Fingerprint:   p.fingerprint,
		Validation:    p.validation,
	}
}

func fileOf(e *errs.Error) string {
	if e == nil {
		return ""
	}
	return e.File
}

func (o *Orchestrator) recordsFor(sel *selection, result *models.UploadResult) []models.SessionFileRecord {
	now := time.Now()
	return []models.SessionFileRecord{
		{
			ID:          result.CarFileID,
			SessionID:   result.SessionID,
			SessionName: result.SessionID,
			FileName:    sel.car.validation.SanitizedName,
			Role:        models.RoleCAR,
			Size:        sel.car.desc.Size,
			Fingerprint: sel.car.fingerprint.Digest,
			CreatedAt:   now,
		},
		{
			ID:          result.ReceiptFileID,
			SessionID:   result.SessionID,
			SessionName: result.SessionID,
			FileName:    sel.receipt.validation.SanitizedName,
			Role:        models.RoleReceipt,
			Size:        sel.receipt.desc.Size,
			Fingerprint: sel.receipt.fingerprint.Digest,
			CreatedAt:   now,
		},
	}
}

// combinedProgress folds per-file fractions into one monotonic mean.
func (o *Orchestrator) combinedProgress() transport.ProgressFunc {
	var (
		mu       sync.Mutex
		byRole   = map[models.FileRole]float64{}
		lastEmit float64
	)
	return func(role models.FileRole, fraction float64) {
		mu.Lock()
		if fraction > byRole[role] {
			byRole[role] = fraction
		}
		combined := (byRole[models.RoleCAR] + byRole[models.RoleReceipt]) / 2
		emit := combined > lastEmit
		if emit {
			lastEmit = combined
		}
		mu.Unlock()
		if emit && o.events.OnProgress != nil {
			o.events.OnProgress(combined)
		}
	}
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	if o.state == StateUploading {
		o.mu.Unlock()
		return ErrBusy
	}
	o.cancelReleaseLocked()
	o.closeSelectionLocked()
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) setState(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	if from != to && o.events.OnState != nil {
		o.events.OnState(from, to)
	}
}

func (o *Orchestrator) alert(a Alert) {
	if o.events.OnAlert != nil {
		o.events.OnAlert(a)
	}
}

func (o *Orchestrator) scheduleRelease() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelReleaseLocked()
	if o.config.ReleaseDelay <= 0 {
		return
	}
	o.release = time.AfterFunc(o.config.ReleaseDelay, o.releaseHandles)
}

func (o *Orchestrator) releaseHandles() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateCompleted {
		return
	}
	o.closeSelectionLocked()
	o.logger.Debug("released file handles for completed upload")
}

func (o *Orchestrator) cancelReleaseLocked() {
	if o.release != nil {
		o.release.Stop()
		o.release = nil
	}
}

func (o *Orchestrator) closeSelectionLocked() {
	if o.sel == nil {
		return
	}
	for _, p := range []*preparedFile{o.sel.car, o.sel.receipt} {
		if p == nil {
			continue
		}
		if c, ok := p.source.(io.Closer); ok {
			if err := c.Close(); err != nil {
				o.logger.Debug("closing file source", logger.Error(err))
			}
		}
	}
	o.sel = nil
}
