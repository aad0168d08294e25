package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// Multipart part names fixed by the wire contract.
const (
	partCARFile           = "car_file"
	partReceiptFile       = "receipt_file"
	partProcessingOptions = "processing_options"
)

// Standard sends the whole pair in one multipart request. The body is
// streamed, so memory use does not grow with file size.
type Standard struct {
	logger logger.Logger
	config *Config
}

func NewStandard(log logger.Logger, config *Config) *Standard {
	return &Standard{
		logger: log,
		config: config,
	}
}

func (s *Standard) Send(ctx context.Context, pair Pair, opts models.ProcessingOptions, progress ProgressFunc) (*models.UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.StandardTimeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(s.writeBody(mw, pair, opts, progress))
	}()

	req, err := newRequest(ctx, s.config, s.config.sessionURL(pair.SessionID, "upload"), mw.FormDataContentType(), pr)
	if err != nil {
		return nil, err
	}

	s.logger.Info("sending standard upload",
		logger.String("session", pair.SessionID),
		logger.Int64("car_bytes", pair.CAR.Source.Describe().Size),
		logger.Int64("receipt_bytes", pair.Receipt.Source.Describe().Size),
	)

	resp, err := s.config.client().Do(req)
	if err != nil {
		return nil, classifySendError(err, s.config.StandardTimeout)
	}
	defer resp.Body.Close()

	return decodeResult(resp)
}

func (s *Standard) writeBody(mw *multipart.Writer, pair Pair, opts models.ProcessingOptions, progress ProgressFunc) error {
	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode processing options: %w", err)
	}
	if err := mw.WriteField(partProcessingOptions, string(optsJSON)); err != nil {
		return fmt.Errorf("write processing options: %w", err)
	}

	parts := []struct {
		name   string
		upload Upload
	}{
		{partCARFile, pair.CAR},
		{partReceiptFile, pair.Receipt},
	}

	for _, p := range parts {
		if err := s.writeFilePart(mw, p.name, p.upload, progress); err != nil {
			return err
		}
	}

	return mw.Close()
}

func (s *Standard) writeFilePart(mw *multipart.Writer, field string, u Upload, progress ProgressFunc) error {
	part, err := mw.CreateFormFile(field, u.SanitizedName)
	if err != nil {
		return fmt.Errorf("create part %s: %w", field, err)
	}

	r, err := u.Source.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", u.SanitizedName, err)
	}
	defer r.Close()

	size := u.Source.Describe().Size
	counted := &countingReader{r: r, onRead: func(done int64) {
		if progress != nil {
			progress(u.Role, fraction(done, size))
		}
	}}

	if _, err := io.Copy(part, counted); err != nil {
		return fmt.Errorf("stream %s: %w", u.SanitizedName, err)
	}
	if progress != nil {
		progress(u.Role, 1)
	}
	return nil
}
