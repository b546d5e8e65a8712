package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/pkg/analysis"
	"github.com/datalens-dev/datalens/pkg/config"
	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/llm"
	"github.com/datalens-dev/datalens/pkg/snapshot"
	"github.com/datalens-dev/datalens/pkg/tools"
)

// buildProvider assembles the LLM provider chain: the concrete backend
// wrapped with retries and, when configured, rate limiting.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	var provider llm.Provider
	switch cfg.LLM.Provider {
	case "openai":
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	case "anthropic":
		p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
		})
		if err != nil {
			return nil, err
		}
		provider = p
	case "mock":
		provider = llm.NewMockProvider()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	provider = llm.WithRetry(provider, llm.RetryConfig{MaxAttempts: cfg.LLM.MaxRetries})
	if cfg.LLM.RequestsPerSecond > 0 {
		provider = llm.WithRateLimit(provider, cfg.LLM.RequestsPerSecond, cfg.LLM.Burst)
	}
	return provider, nil
}

// buildBackend selects the snapshot persistence backend.
func buildBackend(cfg *config.Config) (snapshot.Backend, error) {
	switch cfg.Snapshots.Backend {
	case "file":
		return snapshot.NewFileBackend(cfg.Snapshots.Path)
	case "redis":
		return snapshot.NewRedisBackend(snapshot.RedisConfig{
			Addr:     cfg.Snapshots.RedisAddr,
			Password: cfg.Snapshots.RedisPassword,
			DB:       cfg.Snapshots.RedisDB,
		})
	case "memory":
		return snapshot.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Snapshots.Backend)
	}
}

// buildManager wires the full analysis stack from configuration.
func buildManager(cfg *config.Config, logger zerolog.Logger) (*analysis.Manager, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("build provider: %w", err)
	}
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("build snapshot backend: %w", err)
	}

	agent := analysis.NewAgent(provider, tools.NewRegistry(), analysis.AgentConfig{
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
		TurnTimeout:       cfg.Agent.TurnTimeout,
	}, logger)

	return analysis.NewManager(agent, backend, analysis.ManagerConfig{
		Session: analysis.SessionConfig{
			Limits: dataset.Limits{
				MaxRows: cfg.Dataset.MaxRows,
				MaxCols: cfg.Dataset.MaxCols,
			},
			AutoSnapshot: cfg.Snapshots.AutoPerTurn,
		},
		IdleTimeout:     cfg.Sessions.IdleTimeout,
		JanitorSchedule: cfg.Sessions.JanitorSchedule,
	}, logger), nil
}
