package llm

import (
	"github.com/ShayCichocki/queenflow/internal/config"
	"go.uber.org/zap"
)

// Backend names which completer New selected.
type Backend string

const (
	BackendAnthropic Backend = "anthropic"
	BackendBedrock   Backend = "bedrock"
	BackendMock      Backend = "mock"
)

// New builds the completer described by cfg, wrapped with the configured
// timeout, rate limit and observer. Without a usable API key (and without
// Bedrock) it returns a MockResponder. An observer that also implements
// UsageObserver receives token counts from the real client.
func New(cfg *config.Config, observer Observer, logger *zap.Logger) (Completer, Backend, error) {
	var (
		base    Completer
		backend Backend
	)
	usage, _ := observer.(UsageObserver)

	switch {
	case cfg.Anthropic.UseBedrock:
		client, err := NewClient(ClientConfig{
			Model:         cfg.Anthropic.Model,
			MaxTokens:     cfg.Anthropic.MaxTokens,
			UseAWSBedrock: true,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
			Usage:         usage,
		})
		if err != nil {
			return nil, "", err
		}
		base, backend = client, BackendBedrock
	default:
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			base, backend = NewMockResponder(cfg.LLM.MockDelayUnit, nil), BackendMock
			break
		}
		client, err := NewClient(ClientConfig{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
			APIKey:    key,
			Usage:     usage,
		})
		if err != nil {
			return nil, "", err
		}
		base, backend = client, BackendAnthropic
	}

	if logger != nil {
		logger.Info("llm backend selected",
			zap.String("backend", string(backend)),
			zap.String("model", cfg.Anthropic.Model),
			zap.String("key_source", string(config.GetAPIKeySource(cfg))),
		)
	}

	return Chain(base,
		Instrumented(observer),
		RateLimited(cfg.LLM.RequestsPerMinute),
		Timeout(cfg.LLM.Timeout),
	), backend, nil
}
