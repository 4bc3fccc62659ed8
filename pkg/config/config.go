package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Embedding struct {
		Provider  string `yaml:"provider"` // "openai" | "ollama" | "custom"
		Model     string `yaml:"model"`
		APIKey    string `yaml:"api_key"`
		BaseURL   string `yaml:"base_url"`
		MaxChars  int    `yaml:"max_chars"`
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"embedding"`

	Index struct {
		Provider  string `yaml:"provider"` // "memory" | "pgvector"
		VectorDim int    `yaml:"vector_dim"`
		TableName string `yaml:"table_name"`
	} `yaml:"index"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Chat struct {
		HistoryLimit   int `yaml:"history_limit"`
		PerCollectionK int `yaml:"per_collection_k"`
		FinalK         int `yaml:"final_k"`
	} `yaml:"chat"`

	Chunker struct {
		ChunkSize int `yaml:"chunk_size"`
		Overlap   int `yaml:"overlap"`
	} `yaml:"chunker"`

	Loader struct {
		RateLimit float64 `yaml:"rate_limit"`
	} `yaml:"loader"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Debug bool `yaml:"debug"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/sage/config.yaml"),
			"/etc/sage/config.yaml",
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
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.Model == "" {
		config.Embedding.Model = "nomic-embed-text:latest"
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}
	if config.Embedding.MaxChars == 0 {
		config.Embedding.MaxChars = 8000
	}

	if config.Index.Provider == "" {
		config.Index.Provider = "memory"
	}
	if config.Index.VectorDim == 0 {
		config.Index.VectorDim = 768
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "vector_records"
	}

	if config.Chat.HistoryLimit == 0 {
		config.Chat.HistoryLimit = 20
	}
	if config.Chat.PerCollectionK == 0 {
		config.Chat.PerCollectionK = 3
	}
	if config.Chat.FinalK == 0 {
		config.Chat.FinalK = 5
	}

	if config.Chunker.ChunkSize == 0 {
		config.Chunker.ChunkSize = 1000
	}
	if config.Chunker.Overlap == 0 {
		config.Chunker.Overlap = 200
	}

	if config.Loader.RateLimit == 0 {
		config.Loader.RateLimit = 2.0
	}

	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}
}

func mergeWithEnv(config *Config) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = key
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Port = port
	}
}
