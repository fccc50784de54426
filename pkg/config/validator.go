package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	llmProviders    = map[string]bool{"openai": true, "ollama": true}
	searchProviders = map[string]bool{"exa": true, "tavily": true, "duckduckgo": true}
	logLevels       = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// LLM
	if !llmProviders[c.LLM.Provider] {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unsupported provider %q", c.LLM.Provider),
		})
	}

	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.api_key",
			Message: "api key is required for the openai provider",
		})
	}

	if c.LLM.BaseURL != "" {
		if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 32768 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 32768",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	// Search
	if !searchProviders[c.Search.Provider] {
		errors = append(errors, ValidationError{
			Field:   "search.provider",
			Message: fmt.Sprintf("unsupported provider %q", c.Search.Provider),
		})
	}

	if c.Search.Provider != "duckduckgo" && c.Search.APIKey == "" {
		errors = append(errors, ValidationError{
			Field:   "search.api_key",
			Message: fmt.Sprintf("api key is required for the %s provider", c.Search.Provider),
		})
	}

	if c.Search.MaxResults < 1 || c.Search.MaxResults > 50 {
		errors = append(errors, ValidationError{
			Field:   "search.max_results",
			Message: "max_results must be between 1 and 50",
		})
	}

	if c.Search.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "search.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Search.MaxRetries < 0 || c.Search.MaxRetries > 10 {
		errors = append(errors, ValidationError{
			Field:   "search.max_retries",
			Message: "max_retries must be between 0 and 10",
		})
	}

	// Scraper
	if c.Scraper.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scraper.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Scraper.MaxExcerptChars < 100 {
		errors = append(errors, ValidationError{
			Field:   "scraper.max_excerpt_chars",
			Message: "max_excerpt_chars must be at least 100",
		})
	}

	// Pipeline
	if c.Pipeline.Mode != "web" {
		errors = append(errors, ValidationError{
			Field:   "pipeline.mode",
			Message: "only the web mode is supported",
		})
	}

	if c.Pipeline.MinScore < 0 || c.Pipeline.MinScore > 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.min_score",
			Message: "min_score must be between 0 and 1",
		})
	}

	if c.Pipeline.Concurrency < 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.concurrency",
			Message: "concurrency must be positive",
		})
	}

	if c.Pipeline.RelevanceThreshold < 0 || c.Pipeline.RelevanceThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.relevance_threshold",
			Message: "relevance_threshold must be between 0 and 1",
		})
	}

	if c.Pipeline.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "pipeline.timeout",
			Message: "timeout must be positive",
		})
	}

	// Log
	if !logLevels[c.Log.Level] {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown level %q", c.Log.Level),
		})
	}

	return errors
}
