// Package validate checks a selected file against the upload policy before
// any bytes leave the machine: name hygiene, declared type, and size limits
// that depend on which slot of the session pair the file fills.
package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docsession/uploader/internal/errs"
	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// Validator applies the upload policy to file metadata.
type Validator struct {
	logger logger.Logger
	config *Config
}

// Config bounds what the validator accepts.
type Config struct {
	CARMaxSize       int64               // bytes
	ReceiptMaxSize   int64               // bytes
	MinPlausibleSize int64               // below this a file is suspect
	ChunkThreshold   int64               // above this the transfer must chunk
	MaxNameLength    int                 // bytes, including extension
	AllowedTypes     map[string][]string // extension -> declared MIME types
}

// DefaultConfig returns the shipped policy.
func DefaultConfig() *Config {
	return &Config{
		CARMaxSize:       300 * 1024 * 1024,
		ReceiptMaxSize:   100 * 1024 * 1024,
		MinPlausibleSize: 1000,
		ChunkThreshold:   50 * 1024 * 1024,
		MaxNameLength:    255,
		AllowedTypes: map[string][]string{
			".pdf": {"application/pdf", "application/x-pdf"},
		},
	}
}

// Result is the outcome of validating one file. It travels to the server
// as the validation_meta record on chunked uploads, so the field names are
// part of the wire contract.
type Result struct {
	Valid                    bool           `json:"valid"`
	Message                  string         `json:"message,omitempty"`
	Category                 errs.Category  `json:"category,omitempty"`
	Severity                 errs.Severity  `json:"severity,omitempty"`
	SanitizedName            string         `json:"sanitized_name"`
	RequiresChunking         bool           `json:"requires_chunking"`
	ServerValidationRequired bool           `json:"server_validation_required"`
	Checks                   SecurityChecks `json:"checks"`
}

// SecurityChecks records the outcome of each independent check.
type SecurityChecks struct {
	NameStandardized bool `json:"name_standardized"`
	ExtensionValid   bool `json:"extension_valid"`
	MimeValid        bool `json:"mime_valid"`
	SizeInRange      bool `json:"size_in_range"`
}

// Err converts a failed result into the taxonomy error carried through the
// pipeline. It returns nil for valid results.
func (r *Result) Err(file string) error {
	if r.Valid {
		return nil
	}
	e := &errs.Error{
		Category:   r.Category,
		Severity:   r.Severity,
		Message:    r.Message,
		ChunkIndex: -1,
	}
	return e.WithFile(file)
}

// NewValidator creates a validator with the given policy, or the shipped
// defaults when config is nil.
func NewValidator(logger logger.Logger, config *Config) *Validator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Validator{
		logger: logger,
		config: config,
	}
}

// Validate checks one file descriptor for the given role. It never touches
// file content; content checks belong to the fingerprinter and DeepCheck.
func (v *Validator) Validate(desc models.FileDescriptor, role models.FileRole) *Result {
	result := &Result{
		Valid:         true,
		SanitizedName: SanitizeName(desc.Name),
	}

	if result.SanitizedName != desc.Name {
		// Rename is informational only
		v.logger.Info("file name standardized",
			logger.String("original", desc.Name),
			logger.String("sanitized", result.SanitizedName),
		)
	}

	// The sanitized name is re-checked independently; a failure here means
	// the sanitizer was defeated and is treated as a security finding.
	result.Checks.NameStandardized = v.checkSanitizedName(result.SanitizedName)
	if !result.Checks.NameStandardized {
		v.fail(result, errs.CategorySecurity, errs.SeverityError,
			fmt.Sprintf("file name %q failed safety re-check after sanitization", result.SanitizedName))
	}

	result.Checks.ExtensionValid = v.checkExtension(desc.Name)
	if !result.Checks.ExtensionValid {
		v.fail(result, errs.CategoryValidation, errs.SeverityError,
			fmt.Sprintf("file %q does not have a PDF extension", desc.Name))
	}

	result.Checks.MimeValid = v.checkMimeType(desc.MimeType)
	if !result.Checks.MimeValid {
		v.fail(result, errs.CategoryValidation, errs.SeverityError,
			fmt.Sprintf("declared type %q is not a PDF type", desc.MimeType))
	}

	v.checkSize(result, desc, role)

	result.RequiresChunking = desc.Size > v.config.ChunkThreshold

	return result
}

// fail records the first blocking failure; later failures only flip their
// check flags.
func (v *Validator) fail(result *Result, cat errs.Category, sev errs.Severity, msg string) {
	if !result.Valid {
		return
	}
	result.Valid = false
	result.Category = cat
	result.Severity = sev
	result.Message = msg
}

// warn records a non-blocking notice unless a failure already owns the
// message slot.
func (v *Validator) warn(result *Result, msg string) {
	if !result.Valid || result.Message != "" {
		return
	}
	result.Category = errs.CategoryValidation
	result.Severity = errs.SeverityWarning
	result.Message = msg
}

func (v *Validator) checkSanitizedName(name string) bool {
	if name == "" || len(name) > v.config.MaxNameLength {
		return false
	}
	if strings.ContainsAny(name, forbiddenNameChars) {
		return false
	}
	if !strings.HasSuffix(name, ".pdf") {
		return false
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return !isReservedName(stem)
}

func (v *Validator) checkExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	_, ok := v.config.AllowedTypes[ext]
	return ok
}

func (v *Validator) checkMimeType(mimeType string) bool {
	for _, mimes := range v.config.AllowedTypes {
		for _, m := range mimes {
			if strings.EqualFold(mimeType, m) {
				return true
			}
		}
	}
	return false
}

func (v *Validator) checkSize(result *Result, desc models.FileDescriptor, role models.FileRole) {
	max := v.maxSizeFor(role)

	switch {
	case desc.Size == 0:
		result.Checks.SizeInRange = false
		v.fail(result, errs.CategoryValidation, errs.SeverityError,
			fmt.Sprintf("file %q is empty", desc.Name))
	case desc.Size > max:
		result.Checks.SizeInRange = false
		result.ServerValidationRequired = true
		v.fail(result, errs.CategoryValidation, errs.SeverityError,
			fmt.Sprintf("file %q exceeds the %d byte limit for role %s", desc.Name, max, role))
	case desc.Size < v.config.MinPlausibleSize:
		result.Checks.SizeInRange = true
		result.ServerValidationRequired = true
		v.warn(result, fmt.Sprintf("file %q is only %d bytes and may be corrupted", desc.Name, desc.Size))
	default:
		result.Checks.SizeInRange = true
	}
}

func (v *Validator) maxSizeFor(role models.FileRole) int64 {
	if role == models.RoleReceipt {
		return v.config.ReceiptMaxSize
	}
	return v.config.CARMaxSize
}
