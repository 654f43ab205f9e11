package plugin

import (
	"context"
	"fmt"
	"time"
)

// Sandboxing policy: every call into plugin code runs on its own goroutine
// with a deadline taken from the plugin's configured TimeoutMs, and panics
// are converted to errors. A hung plugin leaks its goroutine until it
// returns, but the caller is released at the deadline.

type execResult struct {
	value interface{}
	err   error
}

// callSandboxed runs fn under the plugin's timeout with panic recovery.
func callSandboxed(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := runSandboxed(ctx, cfg, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// executeSandboxed invokes a plugin method under the sandbox policy.
func executeSandboxed(ctx context.Context, cfg Config, inst Instance, method string, params map[string]interface{}) (interface{}, error) {
	return runSandboxed(ctx, cfg, func(ctx context.Context) (interface{}, error) {
		return inst.Execute(ctx, method, params)
	})
}

func runSandboxed(ctx context.Context, cfg Config, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(DefaultConfig().TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execResult{err: fmt.Errorf("plugin panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- execResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("plugin call timed out after %s: %w", timeout, ctx.Err())
	}
}
