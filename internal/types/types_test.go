package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	plain := NewAppError(ErrInvalidRange, "line range out of bounds", nil)
	assert.Equal(t, "line range out of bounds", plain.Error())

	detailed := NewAppErrorWithDetails(ErrUnsupportedVersion, "unsupported version", "2.0", nil)
	assert.Equal(t, "unsupported version: 2.0", detailed.Error())
}

func TestAppError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := fmt.Errorf("open project: %w", NewAppError(ErrProjectParse, "invalid project file", cause))

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, &AppError{Code: ErrProjectParse}))
	assert.False(t, errors.Is(err, &AppError{Code: ErrUnsupportedVersion}))
	assert.Equal(t, ErrProjectParse, CodeOf(err))
	assert.Equal(t, ErrorCode(""), CodeOf(cause))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}
