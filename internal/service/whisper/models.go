package whisper

import (
	"fmt"
	"strings"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
)

// ValidModels lists the model presets the inference helper accepts,
// smallest first
var ValidModels = []string{"tiny", "base", "small", "medium", "large"}

// ValidateModel rejects model names outside the known presets
func ValidateModel(name string) error {
	for _, m := range ValidModels {
		if name == m {
			return nil
		}
	}
	return errors.New(errors.CodeValidation,
		fmt.Sprintf("unsupported model %q (available models: %s)", name, strings.Join(ValidModels, ", ")))
}
