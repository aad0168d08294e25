package validate

import (
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/docsession/uploader/internal/models"
	"github.com/docsession/uploader/pkg/logger"
)

// DeepCheck parses the document structure and returns the page count.
// Findings here are advisory: the caller reports them as warnings and the
// upload proceeds either way. The parser panics on some malformed inputs,
// so the whole probe runs under recover.
func (v *Validator) DeepCheck(src models.FileSource) (pages int, err error) {
	desc := src.Describe()

	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("pdf probe panicked",
				logger.String("file", desc.Name),
				logger.Any("cause", r),
			)
			pages = 0
			err = fmt.Errorf("parse %s: malformed document structure", desc.Name)
		}
	}()

	reader, err := pdf.NewReader(src, desc.Size)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", desc.Name, err)
	}

	pages = reader.NumPage()
	if pages < 1 {
		return 0, fmt.Errorf("parse %s: document has no pages", desc.Name)
	}
	if reader.Page(1).V.IsNull() {
		return pages, fmt.Errorf("parse %s: first page unreadable", desc.Name)
	}

	return pages, nil
}
