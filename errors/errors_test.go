package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/m4xw311/mcpchat/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeepsMessageAndLocation(t *testing.T) {
	err := errors.New("tool '%s' is not registered", "read_file")
	require.Error(t, err)

	assert.Equal(t, "tool 'read_file' is not registered", err.Error())
	assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go:")
	assert.NotContains(t, fmt.Sprintf("%v", err), "errors_test.go")
}

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, errors.Wrapf(nil, "context"))
	})

	t.Run("chains messages and unwraps", func(t *testing.T) {
		base := stderrors.New("permission denied")
		err := errors.Wrapf(base, "failed to read file '%s'", "a.txt")

		assert.Equal(t, "failed to read file 'a.txt': permission denied", err.Error())
		assert.True(t, errors.Is(err, base))
	})
}

func TestCodedErrors(t *testing.T) {
	base := stderrors.New("connection reset")
	err := errors.Coded(base, errors.CodeModelRequest, "completion call failed")

	require.Error(t, err)
	assert.True(t, errors.IsModelRequest(err))
	assert.Equal(t, errors.CodeModelRequest, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "completion call failed")
	assert.True(t, errors.Is(err, base))

	assert.NoError(t, errors.Coded(nil, errors.CodeModelRequest, "unused"))
}

func TestCodef(t *testing.T) {
	err := errors.Codef(errors.CodeConfiguration, "max_tokens must be greater than 0, got %d", -1)

	assert.True(t, errors.IsConfiguration(err))
	assert.False(t, errors.IsModelRequest(err))
	assert.Contains(t, err.Error(), "got -1")
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, errors.Code(""), errors.CodeOf(stderrors.New("plain")))
	assert.Equal(t, errors.Code(""), errors.CodeOf(nil))
	assert.False(t, errors.IsSessionUnavailable(errors.New("plain")))
}
