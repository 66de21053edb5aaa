package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/queenflow/internal/config"
)

func blockingCompleter() Completer {
	return CompleterFunc(func(ctx context.Context, _ string, _ ...CompleteOption) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func TestTimeout_DeadlineIsServerError(t *testing.T) {
	c := Timeout(10 * time.Millisecond)(blockingCompleter())

	_, err := c.Complete(context.Background(), "x")
	llmErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindServer, llmErr.Kind)
	assert.Equal(t, "Request timed out", llmErr.Message)
}

func TestTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	c := Timeout(time.Hour)(blockingCompleter())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := c.Complete(ctx, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimited_WaitsForToken(t *testing.T) {
	var calls int
	base := CompleterFunc(func(context.Context, string, ...CompleteOption) (string, error) {
		calls++
		return "ok", nil
	})
	c := RateLimited(1)(base)

	_, err := c.Complete(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "second")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

type recordingObserver struct {
	mu    sync.Mutex
	kinds []Kind
}

func (r *recordingObserver) ObserveCompletion(_ time.Duration, err *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		r.kinds = append(r.kinds, "")
		return
	}
	r.kinds = append(r.kinds, err.Kind)
}

func TestInstrumented(t *testing.T) {
	obs := &recordingObserver{}
	fail := true
	base := CompleterFunc(func(context.Context, string, ...CompleteOption) (string, error) {
		if fail {
			return "", Classify(429, "", errors.New("boom"))
		}
		return "ok", nil
	})
	c := Instrumented(obs)(base)

	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	fail = false
	_, err = c.Complete(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, []Kind{KindRateLimit, ""}, obs.kinds)
}

func TestNew_MockWithoutKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	cfg.LLM.MockDelayUnit = 0

	c, backend, err := New(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMock, backend)

	text, err := c.Complete(context.Background(), "You are the Queen Agent")
	require.NoError(t, err)
	assert.Equal(t, MockQueenResponse, text)
}

func TestNew_PlaceholderKeyUsesMock(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-your-api-key-here")

	_, backend, err := New(config.Default(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendMock, backend)
}

func TestNew_RealKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")

	_, backend, err := New(config.Default(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, BackendAnthropic, backend)
}
