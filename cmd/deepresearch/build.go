package main

import (
	"fmt"

	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/pkg/config"
	"github.com/xhad/deepresearch/pkg/gatherer"
	"github.com/xhad/deepresearch/pkg/llm"
	"github.com/xhad/deepresearch/pkg/pipeline"
	"github.com/xhad/deepresearch/pkg/planner"
	"github.com/xhad/deepresearch/pkg/reporter"
	"github.com/xhad/deepresearch/pkg/scraper"
	"github.com/xhad/deepresearch/pkg/search"
)

// buildPipeline wires the capability providers and the three stages.
func buildPipeline(cfg *config.Config, log logger.Logger) (*pipeline.Pipeline, error) {
	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	fetcher := scraper.NewWithConfig(scraper.ScraperConfig{
		RateLimit:       cfg.Scraper.RateLimit,
		Timeout:         cfg.Scraper.Timeout,
		MaxExcerptChars: cfg.Scraper.MaxExcerptChars,
	})

	searcher, err := search.New(search.Config{
		Provider:   cfg.Search.Provider,
		APIKey:     cfg.Search.APIKey,
		BaseURL:    cfg.Search.BaseURL,
		RateLimit:  cfg.Search.RateLimit,
		Timeout:    cfg.Search.Timeout,
		MaxRetries: cfg.Search.MaxRetries,
	}, fetcher, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search: %w", err)
	}

	var opts []gatherer.Option
	if cfg.Embedding.Enabled {
		embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
			Provider: cfg.LLM.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.LLM.BaseURL,
			APIKey:   cfg.LLM.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		opts = append(opts, gatherer.WithEmbedder(embedder))
	}
	if cfg.Pipeline.Notes {
		opts = append(opts, gatherer.WithNotes(chat))
	}

	stage := func(name string) logger.Logger {
		return log.With(map[string]interface{}{"stage": name})
	}

	return pipeline.New(
		planner.New(chat, stage("expanding")),
		gatherer.New(searcher, stage("gathering"), gatherer.Config{
			MaxResults:         cfg.Search.MaxResults,
			MinScore:           cfg.Pipeline.MinScore,
			Concurrency:        cfg.Pipeline.Concurrency,
			RelevanceCheck:     cfg.Pipeline.RelevanceCheck,
			RelevanceThreshold: cfg.Pipeline.RelevanceThreshold,
			MaxExcerptChars:    cfg.Scraper.MaxExcerptChars,
		}, opts...),
		reporter.New(chat, stage("synthesizing")),
		log,
	), nil
}
