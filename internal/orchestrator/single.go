package orchestrator

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/queenflow/internal/llm"
	"github.com/ShayCichocki/queenflow/internal/prompts"
)

// DefaultSingleReply is sent when the model returns no text.
const DefaultSingleReply = "I processed your request successfully."

// SingleFailureMessage is shown when a single-agent failure has no user message.
const SingleFailureMessage = "Unable to process request with Claude API"

// SingleState is the state of one single-agent request.
type SingleState string

const (
	SinglePending SingleState = "pending"
	SingleDone    SingleState = "complete"
	SingleFailed  SingleState = "failed"
)

// SingleAgent answers a prompt with one LLM call as the queen. It keeps no
// session and does not touch the agent registry.
type SingleAgent struct {
	llm      llm.Completer
	prompts  Renderer
	logger   *zap.Logger
	callOpts []llm.CompleteOption
}

// NewSingleAgent creates a SingleAgent. renderer and logger may be nil.
// callOpts are applied to every completion, e.g. llm.WithModel.
func NewSingleAgent(completer llm.Completer, renderer Renderer, logger *zap.Logger, callOpts ...llm.CompleteOption) (*SingleAgent, error) {
	if completer == nil {
		return nil, errors.New("single agent requires an LLM completer")
	}
	if renderer == nil {
		renderer = prompts.MustDefault()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SingleAgent{llm: completer, prompts: renderer, logger: logger, callOpts: callOpts}, nil
}

// Ask streams the answer to prompt: a chunk with the full text followed by
// complete, or a single error event. The channel is unbuffered and closed
// when the request ends or ctx is done.
func (s *SingleAgent) Ask(ctx context.Context, prompt string) (<-chan SingleEvent, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	rendered, err := s.prompts.Render(prompts.KindAssistant, prompts.Data{Prompt: prompt})
	if err != nil {
		return nil, err
	}

	out := make(chan SingleEvent)
	go func() {
		defer close(out)
		state := SinglePending

		send := func(ev SingleEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		text, err := s.llm.Complete(ctx, rendered, s.callOpts...)
		if ctx.Err() != nil {
			s.logger.Debug("single-agent request cancelled")
			return
		}
		if err != nil {
			state = SingleFailed
			llmErr := llm.Normalize(err)
			msg := llmErr.UserMessage
			if msg == "" {
				msg = SingleFailureMessage
			}
			s.logger.Warn("single-agent request failed",
				zap.String("kind", string(llmErr.Kind)), zap.String("state", string(state)), zap.Error(err))
			send(SingleEvent{Kind: SingleError, Content: msg, Details: llmErr.Diagnostic()})
			return
		}

		if text == "" {
			text = DefaultSingleReply
		}
		if !send(SingleEvent{Kind: SingleChunk, Content: text}) {
			return
		}
		state = SingleDone
		send(SingleEvent{Kind: SingleComplete, Content: text})
		s.logger.Debug("single-agent request finished", zap.String("state", string(state)))
	}()
	return out, nil
}
