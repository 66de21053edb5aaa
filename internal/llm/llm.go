// Package llm wraps single-prompt completions against a hosted LLM.
//
// Every failure leaving this package is an *Error with a Kind, so callers
// can react to auth, quota or rate-limit problems without inspecting
// provider-specific error shapes.
package llm

import "context"

// Completer completes one prompt and returns the response text.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts ...CompleteOption) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string, opts ...CompleteOption) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string, opts ...CompleteOption) (string, error) {
	return f(ctx, prompt, opts...)
}

// CompleteOption adjusts a single completion request.
type CompleteOption func(*callOptions)

type callOptions struct {
	model string
}

// WithModel hints which model should serve the call.
func WithModel(model string) CompleteOption {
	return func(o *callOptions) {
		o.model = model
	}
}

// RequestedModel returns the model named by opts, or "" when none is.
func RequestedModel(opts ...CompleteOption) string {
	return applyOptions(opts).model
}

func applyOptions(opts []CompleteOption) callOptions {
	var o callOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
