package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fieldworkhq/fieldwork/api/schemas"
	"github.com/fieldworkhq/fieldwork/internal/config"
)

// NewClient builds the tiered LLM client from configuration: one provider
// client per tier, wrapped in a Router. Tiers naming the same model share a
// single client.
func NewClient(cfg config.AgentConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	fastCfg, err := resolveModel(cfg.LLM, cfg.LLM.DefaultFastModel)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}
	powerfulCfg, err := resolveModel(cfg.LLM, cfg.LLM.DefaultPowerfulModel)
	if err != nil {
		return nil, fmt.Errorf("powerful tier: %w", err)
	}

	fastClient, err := newProviderClient(fastCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("fast tier: %w", err)
	}

	var powerfulClient schemas.LLMClient
	if powerfulCfg == fastCfg {
		powerfulClient = fastClient
	} else {
		powerfulClient, err = newProviderClient(powerfulCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("powerful tier: %w", err)
		}
	}

	return NewRouter(logger, fastClient, powerfulClient)
}

// resolveModel finds the model's config block, falling back to a bare Gemini
// entry when the model is named but not configured.
func resolveModel(cfg config.LLMRouterConfig, model string) (config.LLMModelConfig, error) {
	if model == "" {
		return config.LLMModelConfig{}, fmt.Errorf("no model configured")
	}
	if mc, ok := cfg.Models[model]; ok {
		if mc.Model == "" {
			mc.Model = model
		}
		if mc.Provider == "" {
			mc.Provider = config.ProviderGemini
		}
		return mc, nil
	}
	return config.LLMModelConfig{Provider: config.ProviderGemini, Model: model}, nil
}

func newProviderClient(cfg config.LLMModelConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
