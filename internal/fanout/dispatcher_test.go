package fanout_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-service/internal/fanout"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubAdapter is a test double with a per-token behaviour and a call counter.
type stubAdapter struct {
	platform  dispatch.Platform
	available bool
	calls     atomic.Int32
	fn        func(token string) dispatch.Outcome
}

func (s *stubAdapter) Platform() dispatch.Platform { return s.platform }
func (s *stubAdapter) Available() bool             { return s.available }
func (s *stubAdapter) Attempt(_ context.Context, token string, _ *dispatch.Payload) dispatch.Outcome {
	s.calls.Add(1)
	return s.fn(token)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveAttempt(platform dispatch.Platform, outcome dispatch.Outcome) {
	m.Called(platform, outcome.Delivered())
}
func (m *MockRecorder) ObserveBatch(platform dispatch.Platform, size int, elapsed time.Duration) {
	m.Called(platform, size)
}

var testPayload = &dispatch.Payload{Title: "T", Body: "B", Priority: dispatch.PriorityNormal}

func TestDispatch_Aggregation(t *testing.T) {
	ctx := context.Background()

	t.Run("Partial Failure - One Permanent", func(t *testing.T) {
		adapter := &stubAdapter{platform: dispatch.PlatformAndroid, available: true, fn: func(token string) dispatch.Outcome {
			if token == "b" {
				return dispatch.Failed("invalid or unregistered token", true)
			}
			return dispatch.Delivered()
		}}
		d := fanout.NewDispatcher(newTestLogger())

		result, err := d.Dispatch(ctx, adapter, []string{"a", "b", "c"}, testPayload)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Success)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "b", result.Errors[0].Token)
		assert.True(t, result.Errors[0].Permanent)
		assert.Equal(t, "invalid or unregistered token", result.Errors[0].Error)
	})

	t.Run("Empty Batch - Zero Result Without Calls", func(t *testing.T) {
		adapter := &stubAdapter{platform: dispatch.PlatformWeb, available: true, fn: func(string) dispatch.Outcome {
			return dispatch.Delivered()
		}}
		d := fanout.NewDispatcher(newTestLogger())

		result, err := d.Dispatch(ctx, adapter, nil, testPayload)

		require.NoError(t, err)
		assert.Equal(t, 0, result.Success)
		assert.Equal(t, 0, result.Failed)
		assert.NotNil(t, result.Errors)
		assert.Empty(t, result.Errors)
		assert.Equal(t, int32(0), adapter.calls.Load())
	})

	t.Run("Counts Always Cover Every Recipient", func(t *testing.T) {
		adapter := &stubAdapter{platform: dispatch.PlatformIOS, available: true, fn: func(token string) dispatch.Outcome {
			var n int
			fmt.Sscanf(token, "t-%d", &n)
			switch n % 3 {
			case 0:
				return dispatch.Delivered()
			case 1:
				return dispatch.Failed("gone", true)
			default:
				return dispatch.Failed("timeout", false)
			}
		}}
		d := fanout.NewDispatcher(newTestLogger())

		for _, size := range []int{1, 2, 7, 50} {
			tokens := make([]string, size)
			for i := range tokens {
				tokens[i] = fmt.Sprintf("t-%d", i)
			}
			result, err := d.Dispatch(ctx, adapter, tokens, testPayload)
			require.NoError(t, err)
			assert.Equal(t, size, result.Success+result.Failed, "size %d", size)
			assert.Len(t, result.Errors, result.Failed)
		}
	})
}

func TestDispatch_Isolation(t *testing.T) {
	ctx := context.Background()

	t.Run("Panicking Attempt Becomes A Failure", func(t *testing.T) {
		adapter := &stubAdapter{platform: dispatch.PlatformAndroid, available: true, fn: func(token string) dispatch.Outcome {
			if token == "boom" {
				panic("sdk exploded")
			}
			return dispatch.Delivered()
		}}
		d := fanout.NewDispatcher(newTestLogger())

		result, err := d.Dispatch(ctx, adapter, []string{"ok-1", "boom", "ok-2"}, testPayload)

		require.NoError(t, err)
		assert.Equal(t, 2, result.Success)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, "boom", result.Errors[0].Token)
		assert.False(t, result.Errors[0].Permanent)
		assert.Contains(t, result.Errors[0].Error, "sdk exploded")
	})

	t.Run("Attempts Run Concurrently", func(t *testing.T) {
		const n = 5
		var started sync.WaitGroup
		started.Add(n)
		allStarted := make(chan struct{})
		go func() {
			started.Wait()
			close(allStarted)
		}()

		// Every attempt blocks until all attempts have started, which can only
		// happen if none of them waits for another to finish.
		adapter := &stubAdapter{platform: dispatch.PlatformWeb, available: true, fn: func(string) dispatch.Outcome {
			started.Done()
			select {
			case <-allStarted:
				return dispatch.Delivered()
			case <-time.After(2 * time.Second):
				return dispatch.Failed("attempts were serialized", false)
			}
		}}
		d := fanout.NewDispatcher(newTestLogger())

		result, err := d.Dispatch(ctx, adapter, []string{"1", "2", "3", "4", "5"}, testPayload)

		require.NoError(t, err)
		assert.Equal(t, n, result.Success)
	})
}

func TestDispatch_Unavailable(t *testing.T) {
	adapter := &stubAdapter{platform: dispatch.PlatformIOS, available: false, fn: func(string) dispatch.Outcome {
		return dispatch.Delivered()
	}}
	d := fanout.NewDispatcher(newTestLogger())

	result, err := d.Dispatch(context.Background(), adapter, []string{"a"}, testPayload)

	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrServiceUnavailable)
	assert.Nil(t, result)
	assert.Equal(t, int32(0), adapter.calls.Load())
}

func TestDispatch_Recorder(t *testing.T) {
	recorder := new(MockRecorder)
	recorder.On("ObserveAttempt", dispatch.PlatformAndroid, true).Return().Twice()
	recorder.On("ObserveAttempt", dispatch.PlatformAndroid, false).Return().Once()
	recorder.On("ObserveBatch", dispatch.PlatformAndroid, 3).Return().Once()

	adapter := &stubAdapter{platform: dispatch.PlatformAndroid, available: true, fn: func(token string) dispatch.Outcome {
		if token == "x" {
			return dispatch.Failed("nope", false)
		}
		return dispatch.Delivered()
	}}
	d := fanout.NewDispatcher(newTestLogger(), fanout.WithRecorder(recorder))

	_, err := d.Dispatch(context.Background(), adapter, []string{"a", "x", "c"}, testPayload)

	require.NoError(t, err)
	recorder.AssertExpectations(t)
}
