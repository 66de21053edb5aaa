package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/queenflow/internal/llm"
)

func TestObserveCompletion(t *testing.T) {
	r := New()

	r.ObserveCompletion(time.Second, nil)
	r.ObserveCompletion(time.Second, &llm.Error{Kind: llm.KindRateLimit})
	r.ObserveCompletion(time.Second, &llm.Error{Kind: llm.KindRateLimit})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.llmCalls.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.llmCalls.WithLabelValues("rate_limit")))
}

func TestObserveTokens(t *testing.T) {
	r := New()

	r.ObserveTokens(12, 7)
	r.ObserveTokens(3, 1)

	assert.Equal(t, 15.0, testutil.ToFloat64(r.llmTokens.WithLabelValues("input")))
	assert.Equal(t, 8.0, testutil.ToFloat64(r.llmTokens.WithLabelValues("output")))
}

func TestRuns(t *testing.T) {
	r := New()

	r.RunStarted()
	r.RunStarted()
	r.RunFinished("complete")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("complete")))
}

func TestAgentStatusOneHot(t *testing.T) {
	r := New()
	all := []string{"idle", "analyzing", "complete"}

	r.AgentStatus("queen", "analyzing", all)
	r.AgentStatus("queen", "complete", all)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.agentStatus.WithLabelValues("queen", "analyzing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.agentStatus.WithLabelValues("queen", "complete")))
}

func TestHandler(t *testing.T) {
	r := New()
	r.EventEmitted("agent_status")
	r.ObserveTokens(5, 2)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `queenflow_stream_events_total{type="agent_status"} 1`))
	assert.True(t, strings.Contains(string(body), `queenflow_llm_tokens_total{direction="output"} 2`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
