package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/crestgen/annex/internal/errors"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
	assert.Equal(t, "errors_errorstring", Classify(fmt.Errorf("plain")))
	assert.Equal(t, "errors_apperror", Classify(apperrors.NotFound("missing")))

	wrapped := fmt.Errorf("outer: %w", apperrors.Capacity("full"))
	assert.Equal(t, "errors_apperror", Classify(wrapped))
}
