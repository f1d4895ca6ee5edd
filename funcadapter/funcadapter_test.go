package funcadapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aipartnerup/apcore-go/funcadapter"
	"github.com/aipartnerup/apcore-go/invocation"
)

type addInput struct {
	A int `apcore:"a" validate:"required"`
	B int `apcore:"b" validate:"required"`
}

type addOutput struct {
	Sum int `apcore:"sum"`
}

func add(ctx context.Context, ictx *invocation.Context, in addInput) (addOutput, error) {
	return addOutput{Sum: in.A + in.B}, nil
}

func TestWrapProducesWorkingModule(t *testing.T) {
	mod := funcadapter.Wrap("math.add", funcadapter.Func[addInput, addOutput](add), funcadapter.Options{
		Name: "Add",
	})

	assert.Equal(t, "math.add", mod.ID())
	assert.Equal(t, "Add", mod.Descriptor().Name)
	assert.Equal(t, "1.0.0", mod.Descriptor().Version)

	out, err := mod.Execute(context.Background(), invocation.NewContext(nil, nil, nil), map[string]any{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.Equal(t, 5, out["sum"])
}

func TestWrapValidatesInputSchema(t *testing.T) {
	mod := funcadapter.Wrap("math.add", funcadapter.Func[addInput, addOutput](add), funcadapter.Options{})
	result := mod.InputSchema().Validate(map[string]any{"a": 1})
	assert.False(t, result.Valid)
}

func TestWrapPanicsOnNonStructIn(t *testing.T) {
	assert.Panics(t, func() {
		type notAStruct = int
		fn := func(ctx context.Context, ictx *invocation.Context, in notAStruct) (addOutput, error) {
			return addOutput{}, nil
		}
		funcadapter.Wrap("bad", funcadapter.Func[notAStruct, addOutput](fn), funcadapter.Options{})
	})
}

func TestWrapPropagatesFunctionError(t *testing.T) {
	failing := func(ctx context.Context, ictx *invocation.Context, in addInput) (addOutput, error) {
		return addOutput{}, assertErr
	}
	mod := funcadapter.Wrap("math.fail", funcadapter.Func[addInput, addOutput](failing), funcadapter.Options{})
	_, err := mod.Execute(context.Background(), invocation.NewContext(nil, nil, nil), map[string]any{"a": 1, "b": 2})
	require.ErrorIs(t, err, assertErr)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }
