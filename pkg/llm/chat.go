package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xeipuuv/gojsonschema"
	"github.com/xhad/deepresearch/internal/types"
)

// ErrSchemaViolation is returned when the model never produced a conforming value.
var ErrSchemaViolation = errors.New("response does not conform to schema")

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string // "openai" or "ollama"
	Model       string
	Temperature float64
	MaxTokens   int
	BaseURL     string
	APIKey      string
	// MaxAttempts bounds structured generation retries after schema violations.
	MaxAttempts int
}

// ChatEngine is a language model capability backed by langchaingo.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

var _ types.LanguageModel = (*ChatEngine)(nil)

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := withDefaults(config)
	if err != nil {
		return nil, err
	}

	var model llms.Model
	switch config.Provider {
	case "ollama":
		model, err = ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		model, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", config.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// NewWithModel wraps an already constructed langchaingo model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	config, err := withDefaults(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{config: config, llm: model}, nil
}

func withDefaults(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = "openai"
	}
	if config.Model == "" {
		if config.Provider == "ollama" {
			config.Model = "mistral"
		} else {
			config.Model = "gpt-4o-mini"
		}
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 4000
	}
	if config.BaseURL == "" && config.Provider == "ollama" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 2
	}
	return config, nil
}

// GenerateStructured asks for JSON, validates it against schema and decodes it into out.
// A violating response is fed back to the model up to MaxAttempts times.
func (ce *ChatEngine) GenerateStructured(ctx context.Context, system, prompt string, schema types.Schema, out interface{}) error {
	schemaJSON, err := json.MarshalIndent(schema.Definition, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", schema.Name, err)
	}

	system = fmt.Sprintf("%s\n\nRespond with a single JSON object (%s) that conforms to this JSON Schema. Output JSON only.\n%s",
		system, schema.Name, schemaJSON)

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	var lastErr error
	for attempt := 1; attempt <= ce.config.MaxAttempts; attempt++ {
		raw, err := ce.generate(ctx, content, llms.WithJSONMode())
		if err != nil {
			return err
		}

		raw = extractJSON(raw)
		if lastErr = validate(schema, raw); lastErr == nil {
			if err := json.Unmarshal([]byte(raw), out); err != nil {
				return fmt.Errorf("decode %s: %w", schema.Name, err)
			}
			return nil
		}

		content = append(content,
			llms.TextParts(llms.ChatMessageTypeAI, raw),
			llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(
				"That response was rejected: %v. Reply again with corrected JSON only.", lastErr)),
		)
	}

	return fmt.Errorf("%s: %w: %v", schema.Name, ErrSchemaViolation, lastErr)
}

func (ce *ChatEngine) generate(ctx context.Context, content []llms.MessageContent, options ...llms.CallOption) (string, error) {
	options = append(options,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	)

	response, err := ce.llm.GenerateContent(ctx, content, options...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	if response == nil || len(response.Choices) == 0 || response.Choices[0] == nil {
		return "", errors.New("chat error: no response from LLM")
	}

	return response.Choices[0].Content, nil
}

func validate(schema types.Schema, raw string) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema.Definition),
		gojsonschema.NewStringLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("data validation failed: %v", errs)
	}

	return nil
}

// extractJSON strips markdown fences and prose around the outermost object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
