package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityError))
	assert.True(t, SeverityError.AtLeast(SeverityError))
	assert.False(t, SeverityWarning.AtLeast(SeverityError))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
}

func TestBlocking(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		blocking bool
	}{
		{"validation error blocks", Validation("bad extension"), true},
		{"validation warning passes", ValidationWarning("file is tiny"), false},
		{"security blocks", Security("name failed re-check"), true},
		{"network aborts", Network("request failed", errors.New("refused")), true},
		{"upload aborts", Upload("server said no", nil), true},
		{"processing never blocks", Processing("fingerprint degraded", nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.blocking, tt.err.Blocking())
		})
	}
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := Upload("chunk rejected", nil).
		WithFile("report.pdf").
		WithChunk(3).
		WithStatus(503)

	msg := err.Error()
	assert.Contains(t, msg, "upload:")
	assert.Contains(t, msg, `"report.pdf"`)
	assert.Contains(t, msg, "chunk 3")
	assert.Equal(t, 503, err.Status)
}

func TestUnwrapAndAs(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("sending: %w", Network("post failed", cause))

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CategoryNetwork, e.Category)
	assert.True(t, errors.Is(err, cause))
}

func TestCategoryOfPlainError(t *testing.T) {
	assert.Equal(t, CategoryProcessing, CategoryOf(errors.New("anything")))
	assert.Equal(t, CategorySecurity, CategoryOf(Security("x")))
}
