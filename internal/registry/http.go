package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// HTTP reads session history from the session service. Uploads registered
// through it land in a local overlay: the service records them itself when
// it accepts an upload, but the overlay lets delta checks in this process
// see them without waiting for the next fetch.
type HTTP struct {
	logger  logger.Logger
	baseURL string
	client  *http.Client
	overlay *Memory
}

func NewHTTP(log logger.Logger, baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		logger:  log,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		overlay: NewMemory(),
	}
}

type recentFilesResponse struct {
	Files []models.SessionFileRecord `json:"files"`
	Count int                        `json:"count"`
}

func (h *HTTP) RecentFiles(ctx context.Context, limit int) ([]models.SessionFileRecord, error) {
	url := fmt.Sprintf("%s/api/v1/sessions/files/recent?limit=%d", h.baseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errs.Network("registry fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, errs.Upload("registry fetch rejected", nil).WithStatus(resp.StatusCode)
	}

	var body recentFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errs.Upload("unreadable registry response", err)
	}

	return h.merge(body.Files, limit), nil
}

func (h *HTTP) RegisterUpload(ctx context.Context, records ...models.SessionFileRecord) error {
	return h.overlay.RegisterUpload(ctx, records...)
}

// merge puts overlay records in front of fetched ones, dropping fetched
// duplicates once the service has caught up.
func (h *HTTP) merge(fetched []models.SessionFileRecord, limit int) []models.SessionFileRecord {
	local, _ := h.overlay.RecentFiles(context.Background(), 0)

	seen := make(map[string]struct{}, len(local))
	merged := make([]models.SessionFileRecord, 0, len(local)+len(fetched))
	for _, rec := range local {
		seen[rec.ID] = struct{}{}
		merged = append(merged, rec)
	}
	for _, rec := range fetched {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		merged = append(merged, rec)
	}

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}
