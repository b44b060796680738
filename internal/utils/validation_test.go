package contextutils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleSettings struct {
	BatchSize int    `validate:"min=1,max=500"`
	Mode      string `validate:"oneof=none any_error quota"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(sampleSettings{BatchSize: 10, Mode: "quota"}))

	err := ValidateStruct(sampleSettings{BatchSize: 0, Mode: "sometimes"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))
	assert.Contains(t, err.Error(), "BatchSize")
	assert.Contains(t, err.Error(), "Mode")
}
