package uploader

import (
	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
)

// Alert carries a validation, fingerprint or delta finding to the caller.
// Warning alerts never block the flow; error alerts accompany a returned error.
type Alert struct {
	File     string
	Role     models.FileRole
	Category errs.Category
	Severity errs.Severity
	Message  string
	// Matches is populated for delta alerts only.
	Matches []models.DeltaMatch
}

// Events are optional callbacks fired as the flow advances. Nil fields are
// skipped. Callbacks run on whichever goroutine drives the transition, so
// handlers that touch shared state must synchronize.
type Events struct {
	OnState    func(from, to State)
	OnProgress func(combined float64)
	OnAlert    func(alert Alert)
}
