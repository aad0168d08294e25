package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

func descriptor(name string, size int64, mimeType string) models.FileDescriptor {
	return models.FileDescriptor{
		Name:           name,
		Size:           size,
		MimeType:       mimeType,
		LastModifiedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func newTestValidator() *Validator {
	return NewValidator(logger.NewTestLogger(), nil)
}

func TestValidateAcceptsWellFormedPDF(t *testing.T) {
	v := newTestValidator()

	result := v.Validate(descriptor("report.pdf", 2*1024*1024, "application/pdf"), models.RoleCAR)

	require.True(t, result.Valid)
	assert.Empty(t, result.Message)
	assert.Equal(t, "report.pdf", result.SanitizedName)
	assert.False(t, result.RequiresChunking)
	assert.False(t, result.ServerValidationRequired)
	assert.True(t, result.Checks.NameStandardized)
	assert.True(t, result.Checks.ExtensionValid)
	assert.True(t, result.Checks.MimeValid)
	assert.True(t, result.Checks.SizeInRange)
	assert.NoError(t, result.Err("report.pdf"))
}

func TestValidateSizeRules(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name         string
		size         int64
		role         models.FileRole
		wantValid    bool
		wantSeverity errs.Severity
		wantServer   bool
	}{
		{"zero size is an error", 0, models.RoleCAR, false, errs.SeverityError, false},
		{"999 bytes warns and defers to the server", 999, models.RoleCAR, true, errs.SeverityWarning, true},
		{"1000 bytes is clean", 1000, models.RoleCAR, true, "", false},
		{"car at ceiling passes", 300 * 1024 * 1024, models.RoleCAR, true, "", false},
		{"car above ceiling fails", 300*1024*1024 + 1, models.RoleCAR, false, errs.SeverityError, true},
		{"receipt above ceiling fails", 100*1024*1024 + 1, models.RoleReceipt, false, errs.SeverityError, true},
		{"same size fits the car role", 100*1024*1024 + 1, models.RoleCAR, true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(descriptor("report.pdf", tt.size, "application/pdf"), tt.role)

			assert.Equal(t, tt.wantValid, result.Valid)
			assert.Equal(t, tt.wantSeverity, result.Severity)
			assert.Equal(t, tt.wantServer, result.ServerValidationRequired)
		})
	}
}

func TestValidateChunkingThreshold(t *testing.T) {
	v := newTestValidator()

	at := v.Validate(descriptor("report.pdf", 50*1024*1024, "application/pdf"), models.RoleCAR)
	assert.False(t, at.RequiresChunking)

	over := v.Validate(descriptor("report.pdf", 50*1024*1024+1, "application/pdf"), models.RoleCAR)
	assert.True(t, over.RequiresChunking)
}

func TestValidateTypeChecks(t *testing.T) {
	v := newTestValidator()

	t.Run("wrong extension", func(t *testing.T) {
		result := v.Validate(descriptor("data.txt", 5000, "application/pdf"), models.RoleCAR)

		require.False(t, result.Valid)
		assert.Equal(t, errs.CategoryValidation, result.Category)
		assert.False(t, result.Checks.ExtensionValid)
		assert.True(t, result.Checks.MimeValid)
	})

	t.Run("wrong declared type", func(t *testing.T) {
		result := v.Validate(descriptor("report.pdf", 5000, "text/plain"), models.RoleCAR)

		require.False(t, result.Valid)
		assert.Equal(t, errs.CategoryValidation, result.Category)
		assert.True(t, result.Checks.ExtensionValid)
		assert.False(t, result.Checks.MimeValid)
	})

	t.Run("alternate pdf type accepted", func(t *testing.T) {
		result := v.Validate(descriptor("report.pdf", 5000, "application/x-pdf"), models.RoleCAR)
		assert.True(t, result.Valid)
	})
}

func TestValidateReservedNameStillValidates(t *testing.T) {
	v := newTestValidator()

	result := v.Validate(descriptor("CON.pdf", 5000, "application/pdf"), models.RoleCAR)

	require.True(t, result.Valid)
	assert.Equal(t, "file_CON.pdf", result.SanitizedName)
	assert.True(t, result.Checks.NameStandardized)
}

func TestValidateRenameIsLogged(t *testing.T) {
	log := logger.NewTestLogger()
	v := NewValidator(log, nil)

	v.Validate(descriptor("my report.pdf", 5000, "application/pdf"), models.RoleCAR)

	assert.True(t, log.HasMessage("INFO", "file name standardized"))
}

func TestResultErrCarriesTaxonomy(t *testing.T) {
	v := newTestValidator()

	result := v.Validate(descriptor("report.pdf", 0, "application/pdf"), models.RoleCAR)
	err := result.Err("report.pdf")

	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CategoryValidation, e.Category)
	assert.Equal(t, "report.pdf", e.File)
	assert.True(t, e.Blocking())
}

func TestDeepCheckRejectsGarbage(t *testing.T) {
	v := newTestValidator()
	src := models.NewMemFile("broken.pdf", []byte("%PDF-1.4 "+strings.Repeat("x", 400)))

	pages, err := v.DeepCheck(src)

	assert.Error(t, err)
	assert.Zero(t, pages)
}
