package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandbox_Timeout(t *testing.T) {
	cfg := Config{TimeoutMs: 50}

	start := time.Now()
	err := callSandboxed(context.Background(), cfg, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSandbox_PanicRecovered(t *testing.T) {
	cfg := DefaultConfig()

	inst := &testInstance{executeFn: func(string, map[string]interface{}) (interface{}, error) {
		panic("plugin blew up")
	}}
	_, err := executeSandboxed(context.Background(), cfg, inst, "explode", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin blew up")
}

func TestSandbox_ZeroTimeoutUsesDefault(t *testing.T) {
	err := callSandboxed(context.Background(), Config{}, func(_ context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestSandbox_ResultPassthrough(t *testing.T) {
	inst := &testInstance{executeFn: func(method string, params map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"method": method, "n": params["n"]}, nil
	}}
	result, err := executeSandboxed(context.Background(), DefaultConfig(), inst, "echo",
		map[string]interface{}{"n": 7})
	require.NoError(t, err)
	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "echo", m["method"])
	assert.Equal(t, 7, m["n"])
}
