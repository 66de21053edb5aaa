package llm

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Canned responses returned by MockResponder, keyed by the persona a prompt addresses.
const (
	MockQueenResponse          = "Based on your request, I'll coordinate with our specialized agents to provide comprehensive analysis and implementation guidance. Let me break this down into strategic components and delegate specific research tasks."
	MockResearchResponse       = "I've conducted thorough research on this topic. Here are the key findings: Current industry trends show significant developments in this area, with multiple approaches being actively explored. The most promising methodologies include evidence-based strategies and data-driven solutions."
	MockImplementationResponse = "Here's a practical implementation approach: 1. Start with foundational setup, 2. Implement core functionality incrementally, 3. Test and validate each component, 4. Deploy with monitoring and feedback loops. This ensures robust, scalable solutions."
	MockGenericResponse        = "Thank you for your query. I've analyzed your request and can provide detailed insights on this topic. The approach involves systematic analysis, strategic planning, and practical implementation steps."
)

type persona struct {
	marker   string
	response string
}

var personas = []persona{
	{"Queen Agent", MockQueenResponse},
	{"Research Agent", MockResearchResponse},
	{"Implementation Agent", MockImplementationResponse},
}

// MockResponder answers prompts with canned text after a simulated delay
// of one to three units. It is used when no usable API key is configured.
type MockResponder struct {
	unit time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMockResponder creates a responder. A zero unit responds immediately.
// A nil rnd is replaced with a time-seeded source.
func NewMockResponder(unit time.Duration, rnd *rand.Rand) *MockResponder {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MockResponder{unit: unit, rnd: rnd}
}

// Complete returns the canned response for the persona the prompt opens
// with. Stage prompts quote earlier stages, so the earliest marker wins.
func (m *MockResponder) Complete(ctx context.Context, prompt string, _ ...CompleteOption) (string, error) {
	if err := m.sleep(ctx); err != nil {
		return "", Normalize(err)
	}
	return MockResponse(prompt), nil
}

// MockResponse picks the canned response for prompt without delay.
func MockResponse(prompt string) string {
	best, bestAt := MockGenericResponse, -1
	for _, p := range personas {
		at := strings.Index(prompt, p.marker)
		if at >= 0 && (bestAt < 0 || at < bestAt) {
			best, bestAt = p.response, at
		}
	}
	return best
}

func (m *MockResponder) sleep(ctx context.Context) error {
	if m.unit <= 0 {
		return ctx.Err()
	}

	m.mu.Lock()
	d := m.unit + time.Duration(m.rnd.Float64()*float64(2*m.unit))
	m.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
