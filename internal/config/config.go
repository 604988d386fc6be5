package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     Server     `mapstructure:"server"`
	OpenAI     OpenAI     `mapstructure:"openai"`
	Exa        Exa        `mapstructure:"exa"`
	Memory     Memory     `mapstructure:"memory"`
	Retrieval  Retrieval  `mapstructure:"retrieval"`
	Orthogonal Orthogonal `mapstructure:"orthogonal"`
	VectorMath VectorMath `mapstructure:"vector_math"`
	Judge      Judge      `mapstructure:"judge"`
	Logging    Logging    `mapstructure:"logging"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// OpenAI holds LLM and embedding configuration.
type OpenAI struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	EmbeddingDim   int    `mapstructure:"embedding_dim"`
}

// Exa holds web-search configuration.
type Exa struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Memory holds memory-store configuration.
type Memory struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	ContainerTag string `mapstructure:"container_tag"`
}

// Retrieval holds the cascade and scoring thresholds.
type Retrieval struct {
	MaxAnchors             int     `mapstructure:"max_anchors"`
	MinSimilarityThreshold float64 `mapstructure:"min_similarity_threshold"`
	MaxSimilarityThreshold float64 `mapstructure:"max_similarity_threshold"`
	MaxSuggestions         int     `mapstructure:"max_suggestions"`
}

// Orthogonal holds the serendipity-strategy configuration.
type Orthogonal struct {
	Enabled         bool     `mapstructure:"enabled"`
	NoiseScale      float64  `mapstructure:"noise_scale"`
	TargetDomains   []string `mapstructure:"target_domains"`
	VibeTemperature float64  `mapstructure:"vibe_temperature"`
}

// VectorMath holds the embedding-arithmetic knobs.
type VectorMath struct {
	PCALambdaSurprise float64  `mapstructure:"pca_lambda_surprise"`
	PCAMinMemories    int      `mapstructure:"pca_min_memories"`
	PCANumComponents  int      `mapstructure:"pca_num_components"`
	AntonymAlpha      float64  `mapstructure:"antonym_alpha"`
	AntonymVibes      []string `mapstructure:"antonym_target_vibes"`
	BridgeDomains     []string `mapstructure:"bridge_domains"`
	RerankPoolSize    int      `mapstructure:"rerank_pool_size"`
	RerankTopK        int      `mapstructure:"rerank_top_k"`
}

// Judge holds the context-judge configuration.
type Judge struct {
	Model   string `mapstructure:"model"`
	LogPath string `mapstructure:"log_path"`
}

// Logging holds logging configuration.
type Logging struct {
	Level string `mapstructure:"level"`
}

var globalConfig *Config

// Load reads configuration from .env, environment variables and an
// optional config file, memoizing the result for the process lifetime.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".tangent")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the memoized configuration. Test hook.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8000)

	viper.SetDefault("openai.model", "gpt-4.1")
	viper.SetDefault("openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("openai.embedding_dim", 1536)

	viper.SetDefault("exa.base_url", "https://api.exa.ai")
	viper.SetDefault("memory.base_url", "https://api.supermemory.ai")
	viper.SetDefault("memory.container_tag", "tangent")

	viper.SetDefault("retrieval.max_anchors", 5)
	viper.SetDefault("retrieval.min_similarity_threshold", 0.65)
	viper.SetDefault("retrieval.max_similarity_threshold", 0.85)
	viper.SetDefault("retrieval.max_suggestions", 3)

	viper.SetDefault("orthogonal.enabled", true)
	viper.SetDefault("orthogonal.noise_scale", 0.15)
	viper.SetDefault("orthogonal.target_domains", []string{
		"restaurants", "music", "films", "books", "travel",
		"architecture", "fashion", "experiences",
	})
	viper.SetDefault("orthogonal.vibe_temperature", 0.8)

	viper.SetDefault("vector_math.pca_lambda_surprise", 1.0)
	viper.SetDefault("vector_math.pca_min_memories", 5)
	viper.SetDefault("vector_math.pca_num_components", 2)
	viper.SetDefault("vector_math.antonym_alpha", 0.5)
	viper.SetDefault("vector_math.antonym_target_vibes", []string{
		"relaxation", "novelty", "adventure", "intimacy", "chaos",
	})
	viper.SetDefault("vector_math.bridge_domains", []string{
		"restaurant", "movie", "music", "book", "architecture",
	})
	viper.SetDefault("vector_math.rerank_pool_size", 50)
	viper.SetDefault("vector_math.rerank_top_k", 5)

	viper.SetDefault("judge.model", "gpt-4o-2024-08-06")
	viper.SetDefault("judge.log_path", "training_data/router_decisions.jsonl")

	viper.SetDefault("logging.level", "info")
}

func bindEnvironmentVariables() {
	bindings := map[string]string{
		"openai.api_key": "OPENAI_API_KEY",
		"memory.api_key": "SUPERMEMORY_API_KEY",
		"exa.api_key":    "EXA_API_KEY",
		"server.host":    "HOST",
		"server.port":    "PORT",
		"judge.log_path": "JUDGE_LOG_PATH",
		"logging.level":  "LOG_LEVEL",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			fmt.Printf("Warning: failed to bind %s: %v\n", env, err)
		}
	}
}

func validate(cfg *Config) error {
	var missing []string
	if cfg.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if cfg.Memory.APIKey == "" {
		missing = append(missing, "SUPERMEMORY_API_KEY")
	}
	if cfg.Exa.APIKey == "" {
		missing = append(missing, "EXA_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if cfg.Retrieval.MinSimilarityThreshold >= cfg.Retrieval.MaxSimilarityThreshold {
		return fmt.Errorf("min_similarity_threshold (%.2f) must be below max_similarity_threshold (%.2f)",
			cfg.Retrieval.MinSimilarityThreshold, cfg.Retrieval.MaxSimilarityThreshold)
	}
	return nil
}
