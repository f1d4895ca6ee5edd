package errors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apcerrors "github.com/aipartnerup/apcore-go/errors"
)

func TestModuleErrorFormatting(t *testing.T) {
	err := apcerrors.NewModuleNotFound("math.add")
	require.EqualError(t, err, "[MODULE_NOT_FOUND] module not found: math.add")
	assert.Equal(t, "math.add", err.ModuleID())
}

func TestModuleErrorIsCode(t *testing.T) {
	err := apcerrors.NewACLDenied(nil, "math.add")
	assert.True(t, apcerrors.Is(err, apcerrors.CodeACLDenied))
	assert.False(t, apcerrors.Is(err, apcerrors.CodeModuleNotFound))
	assert.Nil(t, err.CallerID())
	assert.Equal(t, "math.add", err.TargetID())
}

func TestModuleErrorUnwrap(t *testing.T) {
	cause := apcerrors.NewInvalidInput("bad shape")
	wrapped := apcerrors.NewModuleExecuteError("math.add", cause)
	require.ErrorIs(t, wrapped, cause)
}

func TestNilModuleErrorIsSafe(t *testing.T) {
	var err *apcerrors.ModuleError
	assert.Equal(t, "", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestCallDepthExceededDetails(t *testing.T) {
	err := apcerrors.NewCallDepthExceeded(5, 4, []string{"a", "b", "c", "d", "e"})
	assert.Equal(t, 5, err.CurrentDepth())
	assert.Equal(t, 4, err.MaxDepth())
}

func TestCircularDependencyMessage(t *testing.T) {
	err := apcerrors.NewCircularDependency([]string{"a", "b", "a"})
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Equal(t, []string{"a", "b", "a"}, err.CyclePath())
}
