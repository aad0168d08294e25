// Package registry gives the upload flow its view of session history: the
// recent uploads consulted by delta detection, and a place to record a
// finished upload so the very next check already sees it.
package registry

import (
	"context"

	"github.com/docsession/uploader/internal/models"
)

// Registry is the session-registry surface the upload flow depends on.
type Registry interface {
	// RecentFiles returns known uploads, newest first, at most limit.
	RecentFiles(ctx context.Context, limit int) ([]models.SessionFileRecord, error)

	// RegisterUpload records completed uploads.
	RegisterUpload(ctx context.Context, records ...models.SessionFileRecord) error
}
