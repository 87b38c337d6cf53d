package main

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/taskweave/internal/collab"
	"github.com/ShayCichocki/taskweave/internal/config"
)

// newCollaborator builds the collaborator selected by cfg.
func newCollaborator(ctx context.Context, cfg *config.Config) (collab.Collaborator, error) {
	switch cfg.Collaborator.Kind {
	case config.CollaboratorHTTP:
		if cfg.Collaborator.Endpoint == "" {
			return nil, fmt.Errorf("http collaborator needs an endpoint")
		}
		return collab.NewHTTP(cfg.Collaborator.Endpoint), nil

	case config.CollaboratorAnthropic:
		ac := collab.AnthropicConfig{
			Model:         cfg.Anthropic.Model,
			MaxTokens:     int64(cfg.Anthropic.MaxTokens),
			UseAWSBedrock: cfg.Anthropic.Bedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		}
		if !ac.UseAWSBedrock {
			key, source, err := config.GetAPIKey(cfg)
			if err != nil {
				return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or anthropic.api_key", err)
			}
			logger.Debug("using api key", "source", source, "key", config.MaskAPIKey(key))
			ac.APIKey = key
		}
		return collab.NewAnthropic(ctx, ac)

	default:
		return nil, fmt.Errorf("unknown collaborator %q", cfg.Collaborator.Kind)
	}
}
