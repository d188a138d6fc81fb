package whisper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
)

func TestValidateModel(t *testing.T) {
	for _, name := range ValidModels {
		assert.NoError(t, ValidateModel(name))
	}

	err := ValidateModel("gigantic")
	assert.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "tiny, base, small, medium, large")
}
