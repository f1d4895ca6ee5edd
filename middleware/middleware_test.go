package middleware_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aipartnerup/apcore-go/invocation"
	"github.com/aipartnerup/apcore-go/middleware"
)

type recordingMiddleware struct {
	middleware.Base
	name         string
	order        *[]string
	failBefore   bool
	beforeResult map[string]any
}

func (r *recordingMiddleware) Before(moduleID string, inputs map[string]any, ctx *invocation.Context) (map[string]any, error) {
	*r.order = append(*r.order, "before:"+r.name)
	if r.failBefore {
		return nil, errors.New(r.name + " failed")
	}
	return r.beforeResult, nil
}

func (r *recordingMiddleware) After(moduleID string, inputs, output map[string]any, ctx *invocation.Context) (map[string]any, error) {
	*r.order = append(*r.order, "after:"+r.name)
	return nil, nil
}

func (r *recordingMiddleware) OnError(moduleID string, inputs map[string]any, cause error, ctx *invocation.Context) (map[string]any, error) {
	*r.order = append(*r.order, "on_error:"+r.name)
	return nil, nil
}

func TestExecuteBeforeForwardOrder(t *testing.T) {
	var order []string
	m := middleware.NewManager(nil)
	m.Add(&recordingMiddleware{name: "a", order: &order})
	m.Add(&recordingMiddleware{name: "b", order: &order})

	_, executed, err := m.ExecuteBefore("mod", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"before:a", "before:b"}, order)
	assert.Len(t, executed, 2)
}

func TestExecuteAfterReverseOrder(t *testing.T) {
	var order []string
	m := middleware.NewManager(nil)
	m.Add(&recordingMiddleware{name: "a", order: &order})
	m.Add(&recordingMiddleware{name: "b", order: &order})

	_, err := m.ExecuteAfter("mod", map[string]any{}, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"after:b", "after:a"}, order)
}

func TestExecuteBeforeFailurePropagatesOnlyExecuted(t *testing.T) {
	var order []string
	m := middleware.NewManager(nil)
	m.Add(&recordingMiddleware{name: "a", order: &order})
	m.Add(&recordingMiddleware{name: "b", order: &order, failBefore: true})
	m.Add(&recordingMiddleware{name: "c", order: &order})

	_, executed, err := m.ExecuteBefore("mod", map[string]any{}, nil)
	require.Error(t, err)
	var chainErr *middleware.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Len(t, executed, 2) // a and b, not c
	assert.Equal(t, []string{"before:a", "before:b"}, order)
}

func TestExecuteOnErrorReverseOverExecutedOnly(t *testing.T) {
	var order []string
	m := middleware.NewManager(nil)
	a := &recordingMiddleware{name: "a", order: &order}
	b := &recordingMiddleware{name: "b", order: &order, failBefore: true}
	c := &recordingMiddleware{name: "c", order: &order}
	m.Add(a)
	m.Add(b)
	m.Add(c)

	_, executed, err := m.ExecuteBefore("mod", map[string]any{}, nil)
	require.Error(t, err)
	order = nil // reset to observe only the on_error cascade

	m.ExecuteOnError("mod", map[string]any{}, err, nil, executed)
	assert.Equal(t, []string{"on_error:b", "on_error:a"}, order)
}

func TestExecuteBeforeThreadsModifiedInputs(t *testing.T) {
	m := middleware.NewManager(nil)
	m.Add(&recordingMiddleware{name: "a", order: &[]string{}, beforeResult: map[string]any{"x": 1}})

	out, _, err := m.ExecuteBefore("mod", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, out)
}

func TestRemoveMiddleware(t *testing.T) {
	m := middleware.NewManager(nil)
	a := &recordingMiddleware{name: "a", order: &[]string{}}
	m.Add(a)
	assert.True(t, m.Remove(a))
	assert.False(t, m.Remove(a))
}

func TestConcurrentAddAndExecute(t *testing.T) {
	m := middleware.NewManager(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Add(&recordingMiddleware{name: "x", order: &[]string{}})
		}()
		go func() {
			defer wg.Done()
			m.ExecuteBefore("mod", map[string]any{}, nil)
		}()
	}
	wg.Wait()
}
