package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type payload struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

func TestEmitter_FramesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := NewEmitter(rec)
	require.NoError(t, err)

	require.NoError(t, e.Send(payload{Type: "chunk", Content: "hello"}))
	require.NoError(t, e.Send(payload{Type: "complete", Content: "hello"}))
	assert.True(t, e.End())
	assert.False(t, e.End())
	assert.ErrorIs(t, e.Send(payload{Type: "late"}), ErrEnded)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"data: {\"type\":\"chunk\",\"content\":\"hello\"}\n\n"+
			"data: {\"type\":\"complete\",\"content\":\"hello\"}\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

type noFlushWriter struct{ http.ResponseWriter }

func TestNewEmitter_RequiresFlusher(t *testing.T) {
	_, err := NewEmitter(noFlushWriter{httptest.NewRecorder()})
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

// brokenWriter fails every body write after the first n.
type brokenWriter struct {
	*httptest.ResponseRecorder
	n int
}

func (b *brokenWriter) Write(p []byte) (int, error) {
	if b.n <= 0 {
		return 0, errors.New("broken pipe")
	}
	b.n--
	return b.ResponseRecorder.Write(p)
}

func TestPump_SendsAll(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := NewEmitter(rec)
	require.NoError(t, err)

	events := make(chan payload, 3)
	events <- payload{Type: "a"}
	events <- payload{Type: "b"}
	events <- payload{Type: "c"}
	close(events)

	cancelled := false
	sent, err := Pump(context.Background(), func() { cancelled = true }, e, events)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.False(t, cancelled)
	assert.True(t, e.Ended())
}

func TestPump_WriteFailureCancelsProducer(t *testing.T) {
	w := &brokenWriter{ResponseRecorder: httptest.NewRecorder(), n: 1}
	e, err := NewEmitter(w)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan payload)
	go func() {
		defer close(events)
		for i := 0; i < 10; i++ {
			select {
			case events <- payload{Type: "status"}:
			case <-ctx.Done():
				return
			}
		}
	}()

	sent, err := Pump(ctx, cancel, e, events)
	assert.Error(t, err)
	assert.Equal(t, 1, sent)
	assert.Error(t, ctx.Err())
}

func TestPump_ContextDone(t *testing.T) {
	e, err := NewEmitter(httptest.NewRecorder())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan payload)
	go func() {
		<-ctx.Done()
		close(events)
	}()
	cancel()

	sent, err := Pump(ctx, cancel, e, events)
	assert.NoError(t, err)
	assert.Zero(t, sent)
}

func TestReader_SkipsNoise(t *testing.T) {
	raw := strings.Join([]string{
		": keep-alive",
		"",
		"event: message",
		`data: {"type":"agent_status","agent":"queen","extra":true}`,
		"",
		"data: not json",
		"",
		"id: 7",
		`data: {"type":"orchestration_complete"}`,
		"",
	}, "\n")

	r := NewReader(strings.NewReader(raw))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "agent_status", ev.Type)
	var decoded struct {
		Agent string `json:"agent"`
	}
	require.NoError(t, ev.Decode(&decoded))
	assert.Equal(t, "queen", decoded.Agent)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "orchestration_complete", ev.Type)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1, r.Skipped())
}

func TestRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e, err := NewEmitter(w)
		require.NoError(t, err)
		defer e.End()
		_ = e.Send(payload{Type: "chunk", Content: "line one\nline two"})
		_ = e.Send(payload{Type: "complete"})
	}))
	defer srv.Close()

	client := srv.Client()
	defer client.CloseIdleConnections()

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	r := NewReader(resp.Body)
	var got []payload
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		var p payload
		require.NoError(t, ev.Decode(&p))
		got = append(got, p)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "line one\nline two", got[0].Content)
}
