package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"llm"`

	Embedding struct {
		Enabled bool   `yaml:"enabled"`
		Model   string `yaml:"model"`
	} `yaml:"embedding"`

	Search struct {
		Provider   string        `yaml:"provider"`
		APIKey     string        `yaml:"api_key"`
		BaseURL    string        `yaml:"base_url"`
		MaxResults int           `yaml:"max_results"`
		RateLimit  float64       `yaml:"rate_limit"`
		Timeout    time.Duration `yaml:"timeout"`
		MaxRetries int           `yaml:"max_retries"`
	} `yaml:"search"`

	Scraper struct {
		RateLimit       float64       `yaml:"rate_limit"`
		Timeout         time.Duration `yaml:"timeout"`
		MaxExcerptChars int           `yaml:"max_excerpt_chars"`
	} `yaml:"scraper"`

	Pipeline struct {
		Mode               string        `yaml:"mode"`
		MinScore           float64       `yaml:"min_score"`
		Concurrency        int           `yaml:"concurrency"`
		RelevanceCheck     bool          `yaml:"relevance_check"`
		RelevanceThreshold float64       `yaml:"relevance_threshold"`
		Notes              bool          `yaml:"notes"`
		Timeout            time.Duration `yaml:"timeout"`
	} `yaml:"pipeline"`

	Server struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/deepresearch/config.yaml"),
			"/etc/deepresearch/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaultToggles()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

func getDefaultConfig() (*Config, error) {
	config := defaultToggles()
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

// defaultToggles seeds booleans that default to true; yaml only overwrites
// keys present in the file.
func defaultToggles() *Config {
	config := &Config{}
	config.Pipeline.RelevanceCheck = true
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "openai"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "ollama" {
			config.LLM.Model = "mistral"
		} else {
			config.LLM.Model = "gpt-4o-mini"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 4000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Model == "" {
		if config.LLM.Provider == "ollama" {
			config.Embedding.Model = "nomic-embed-text:latest"
		} else {
			config.Embedding.Model = "text-embedding-3-small"
		}
	}

	if config.Search.Provider == "" {
		config.Search.Provider = "exa"
	}
	if config.Search.MaxResults == 0 {
		config.Search.MaxResults = 8
	}
	if config.Search.RateLimit == 0 {
		config.Search.RateLimit = 2.0
	}
	if config.Search.Timeout == 0 {
		config.Search.Timeout = 30 * time.Second
	}
	if config.Search.MaxRetries == 0 {
		config.Search.MaxRetries = 4
	}

	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 15 * time.Second
	}
	if config.Scraper.MaxExcerptChars == 0 {
		config.Scraper.MaxExcerptChars = 1200
	}

	if config.Pipeline.Mode == "" {
		config.Pipeline.Mode = "web"
	}
	if config.Pipeline.Concurrency == 0 {
		config.Pipeline.Concurrency = 5
	}
	if config.Pipeline.RelevanceThreshold == 0 {
		config.Pipeline.RelevanceThreshold = 0.2
	}
	if config.Pipeline.Timeout == 0 {
		config.Pipeline.Timeout = 5 * time.Minute
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8000"
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = config.Pipeline.Timeout
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "console"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = baseURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = key
	}
	switch config.Search.Provider {
	case "exa", "":
		if key := os.Getenv("EXA_API_KEY"); key != "" {
			config.Search.APIKey = key
		}
	case "tavily":
		if key := os.Getenv("TAVILY_API_KEY"); key != "" {
			config.Search.APIKey = key
		}
	}
	if addr := os.Getenv("DEEP_RESEARCH_ADDR"); addr != "" {
		config.Server.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
