package types

import (
	"context"

	"github.com/xhad/deepresearch/internal/models"
)

// Schema describes the JSON shape a structured generation must conform to.
type Schema struct {
	Name       string
	Definition map[string]interface{}
}

// LanguageModel is the structured generation capability used by the stages.
type LanguageModel interface {
	// GenerateStructured decodes a schema-conforming response into out or fails.
	GenerateStructured(ctx context.Context, system, prompt string, schema Schema, out interface{}) error
}

type SearchOptions struct {
	// Enrich asks the provider for text or summary fields, not just links.
	Enrich     bool
	MaxResults int
}

// Searcher is the web search capability.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string, opts SearchOptions) ([]models.SearchHit, error)
}

type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Fetcher retrieves the readable content of a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (models.Document, error)
}
