package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ontolink.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// CandidateGraph holds the graph where candidate relations accumulate.
	CandidateGraph GraphConfig `yaml:"candidate_graph" env-prefix:"CANDIDATE_GRAPH_"`

	// DataGraph holds the live entities; accepted relations materialize here.
	DataGraph GraphConfig `yaml:"data_graph" env-prefix:"DATA_GRAPH_"`

	// Redis backs the versioned heuristics store.
	Redis RedisConfig `yaml:"redis"`

	// Evaluator configures the judgment policy backend.
	Evaluator EvaluatorConfig `yaml:"evaluator"`

	// Discovery tunes the relation-discovery pipeline.
	Discovery DiscoveryConfig `yaml:"discovery"`
}

// GraphConfig holds connection settings for one Neo4j-compatible graph store.
type GraphConfig struct {
	URI            string `yaml:"uri" env:"URI" env-default:""`
	Username       string `yaml:"username" env:"USERNAME" env-default:"neo4j"`
	Password       string `yaml:"-" env:"PASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"DATABASE" env-default:""`
	MaxPoolSize    int    `yaml:"max_pool_size" env:"MAX_POOL_SIZE" env-default:"50"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TIMEOUT_SECONDS" env-default:"10"`
}

// RedisConfig holds Redis connection settings for the heuristics KV store.
type RedisConfig struct {
	Host      string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port      int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"ontolink"`
}

// EvaluatorConfig configures the candidate judgment backend.
type EvaluatorConfig struct {
	// Provider selects the backend: "openai" (any OpenAI-compatible endpoint),
	// "anthropic", or "mock" for offline runs.
	Provider string `yaml:"provider" env:"EVALUATOR_PROVIDER" env-default:"openai"`

	Endpoint string `yaml:"endpoint" env:"EVALUATOR_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model    string `yaml:"model" env:"EVALUATOR_MODEL" env-default:"gpt-4o"`
	APIKey   string `yaml:"-" env:"EVALUATOR_API_KEY"` // Secret - not in YAML

	Temperature float64 `yaml:"temperature" env:"EVALUATOR_TEMPERATURE" env-default:"0.3"`

	// MaxConcurrent bounds the number of concurrent judgment workers.
	MaxConcurrent int `yaml:"max_concurrent" env:"EVALUATOR_MAX_CONCURRENT" env-default:"4"`

	// RequestTimeoutSeconds bounds a single evaluator call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" env:"EVALUATOR_REQUEST_TIMEOUT_SECONDS" env-default:"120"`
}

// DiscoveryConfig tunes batching, search, and candidate lifecycle thresholds.
type DiscoveryConfig struct {
	// ClientID tags data-graph edges created by this instance so cleanup
	// only ever touches self-created edges.
	ClientID string `yaml:"client_id" env:"DISCOVERY_CLIENT_ID" env-default:"ontolink"`

	// BatchSize is the number of entities processed per scan batch.
	BatchSize int `yaml:"batch_size" env:"DISCOVERY_BATCH_SIZE" env-default:"500"`

	// FinalK is the number of results kept per fuzzy query after re-ranking.
	FinalK int `yaml:"final_k" env:"DISCOVERY_FINAL_K" env-default:"10"`

	// MaxPerType caps results per entity type within one query's results.
	MaxPerType int `yaml:"max_per_type" env:"DISCOVERY_MAX_PER_TYPE" env-default:"3"`

	// DiversityPenalty is the multiplicative per-repeat penalty applied to
	// scores of entity types already present in a result set.
	DiversityPenalty float64 `yaml:"diversity_penalty" env:"DISCOVERY_DIVERSITY_PENALTY" env-default:"0.85"`

	// MaxIdentityKeyArity bounds the combinatorial mapping enumeration.
	MaxIdentityKeyArity int `yaml:"max_identity_key_arity" env:"DISCOVERY_MAX_IDENTITY_KEY_ARITY" env-default:"4"`

	// TopScoreOnly keeps only the globally-maximal-quality matches per query.
	TopScoreOnly bool `yaml:"top_score_only" env:"DISCOVERY_TOP_SCORE_ONLY" env-default:"true"`

	// RejudgeRatio is the relative total-match change that forces re-judgment.
	RejudgeRatio float64 `yaml:"rejudge_ratio" env:"DISCOVERY_REJUDGE_RATIO" env-default:"0.5"`

	// QualityDelta is the quality-average movement that forces re-judgment.
	QualityDelta float64 `yaml:"quality_delta" env:"DISCOVERY_QUALITY_DELTA" env-default:"0.1"`

	// MinEvidence is the total-match floor below which candidates are
	// auto-marked UNSURE without consulting the evaluator.
	MinEvidence int64 `yaml:"min_evidence" env:"DISCOVERY_MIN_EVIDENCE" env-default:"3"`

	// ContextExamplePairs is the number of example pairs included in
	// evaluator context per candidate.
	ContextExamplePairs int `yaml:"context_example_pairs" env:"DISCOVERY_CONTEXT_EXAMPLE_PAIRS" env-default:"3"`

	// SubEntityDepth bounds the recursive sub-entity closure used for
	// evaluator context.
	SubEntityDepth int `yaml:"sub_entity_depth" env:"DISCOVERY_SUB_ENTITY_DEPTH" env-default:"3"`

	// CycleIntervalMinutes re-runs discovery on a timer. 0 means run once.
	CycleIntervalMinutes int `yaml:"cycle_interval_minutes" env:"DISCOVERY_CYCLE_INTERVAL_MINUTES" env-default:"0"`

	// Bloom filter sizing for the per-cycle value pre-filter.
	BloomExpectedItems     uint    `yaml:"bloom_expected_items" env:"DISCOVERY_BLOOM_EXPECTED_ITEMS" env-default:"1000000"`
	BloomFalsePositiveRate float64 `yaml:"bloom_false_positive_rate" env:"DISCOVERY_BLOOM_FALSE_POSITIVE_RATE" env-default:"0.01"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Discovery.BatchSize < 1 {
		return fmt.Errorf("discovery.batch_size must be positive")
	}
	if c.Discovery.FinalK < 1 {
		return fmt.Errorf("discovery.final_k must be positive")
	}
	if c.Discovery.MaxIdentityKeyArity < 1 {
		return fmt.Errorf("discovery.max_identity_key_arity must be positive")
	}
	if c.Discovery.DiversityPenalty <= 0 || c.Discovery.DiversityPenalty > 1 {
		return fmt.Errorf("discovery.diversity_penalty must be in (0, 1]")
	}
	if c.Evaluator.MaxConcurrent < 1 {
		return fmt.Errorf("evaluator.max_concurrent must be positive")
	}
	switch c.Evaluator.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("evaluator.provider must be one of openai, anthropic, mock")
	}
	return nil
}

// Addr returns the Redis address in host:port form, with the host rewritten
// for Docker when the process runs inside a container.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
