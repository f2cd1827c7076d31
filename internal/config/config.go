// Package config provides configuration loading for agentd.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Every tunable of the request core lives here: pool sizes,
// retry policies, breaker thresholds, assembly budgets, relevance weights,
// and cache sizing.
package config

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Config holds the complete agentd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
	Resource      ResourceConfig      `koanf:"resource"`
	Retry         RetryConfig         `koanf:"retry"`
	Breaker       BreakerConfig       `koanf:"breaker"`
	Assembly      AssemblyConfig      `koanf:"assembly"`
	Optimize      OptimizeConfig      `koanf:"optimize"`
	Cache         CacheConfig         `koanf:"cache"`
	Events        EventsConfig        `koanf:"events"`
	Sources       SourcesConfig       `koanf:"sources"`
	Model         ModelConfig         `koanf:"model"`
	Tools         ToolsConfig         `koanf:"tools"`
	Store         StoreConfig         `koanf:"store"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
}

// LoggingConfig holds the subset of logging settings exposed via the root
// config. The logging package derives its full config from these.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ResourceConfig sizes the bounded concurrency pools.
type ResourceConfig struct {
	RequestSlots int `koanf:"request_slots"`
	ModelSlots   int `koanf:"model_slots"`
	ToolSlots    int `koanf:"tool_slots"`
	ContextSlots int `koanf:"context_slots"`

	// ShrinkFactor is applied to pool limits while the system is under
	// load, per the health check. 0.5 halves every pool.
	ShrinkFactor float64 `koanf:"shrink_factor"`

	// IngressRate/IngressBurst bound the rate of new request admissions.
	IngressRate  float64 `koanf:"ingress_rate"`
	IngressBurst int     `koanf:"ingress_burst"`
}

// RetryConfig holds per-operation-class retry policies.
type RetryConfig struct {
	Model   RetryPolicyConfig `koanf:"model"`
	Tool    RetryPolicyConfig `koanf:"tool"`
	Storage RetryPolicyConfig `koanf:"storage"`
}

// RetryPolicyConfig configures one retry policy.
type RetryPolicyConfig struct {
	Attempts  int      `koanf:"attempts"`
	BaseDelay Duration `koanf:"base_delay"`
	MaxDelay  Duration `koanf:"max_delay"`
	Jitter    Duration `koanf:"jitter"`
}

// BreakerConfig configures circuit breakers guarding downstream dependencies.
type BreakerConfig struct {
	FailureThreshold int      `koanf:"failure_threshold"`
	Cooldown         Duration `koanf:"cooldown"`
}

// AssemblyConfig bounds context assembly.
type AssemblyConfig struct {
	// SourceTimeout is the default per-source fetch deadline.
	SourceTimeout Duration `koanf:"source_timeout"`

	// SourceTimeouts overrides the deadline for specific source kinds.
	SourceTimeouts map[string]Duration `koanf:"source_timeouts"`

	// OverallTimeout bounds the whole fan-out.
	OverallTimeout Duration `koanf:"overall_timeout"`

	// TokenBudget is the maximum aggregate token cost of a bundle.
	TokenBudget int `koanf:"token_budget"`
}

// OptimizeConfig holds relevance scoring configuration.
type OptimizeConfig struct {
	Weights             WeightsConfig `koanf:"weights"`
	RecencyHalfLife     Duration      `koanf:"recency_half_life"`
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
}

// WeightsConfig holds the four relevance factor weights. They must sum to 1.
type WeightsConfig struct {
	Match    float64 `koanf:"match"`
	Recency  float64 `koanf:"recency"`
	Priority float64 `koanf:"priority"`
	Prior    float64 `koanf:"prior"`
}

// CacheConfig sizes the three cache levels. An empty RedisAddr disables the
// distributed level; an empty DurablePath disables the durable level.
type CacheConfig struct {
	L1Size      int      `koanf:"l1_size"`
	L1TTL       Duration `koanf:"l1_ttl"`
	RedisAddr   string   `koanf:"redis_addr"`
	RedisTTL    Duration `koanf:"redis_ttl"`
	DurablePath string   `koanf:"durable_path"`
}

// EventsConfig configures the invalidation event bus. An empty NATSURL
// selects the in-process bus.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	WatchPath     string `koanf:"watch_path"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// SourcesConfig enables context source adapters.
type SourcesConfig struct {
	History    bool   `koanf:"history"`
	Scratch    bool   `koanf:"scratch"`
	Vector     bool   `koanf:"vector"`
	Repository bool   `koanf:"repository"`
	VectorPath string `koanf:"vector_path"`
	RepoPath   string `koanf:"repo_path"`
}

// ModelConfig configures the model invocation collaborator.
type ModelConfig struct {
	Provider string   `koanf:"provider"`
	Name     string   `koanf:"name"`
	APIKey   Secret   `koanf:"api_key"`
	Timeout  Duration `koanf:"timeout"`
}

// ToolsConfig configures the MCP tool execution collaborator.
type ToolsConfig struct {
	MCPCommand string   `koanf:"mcp_command"`
	MCPArgs    []string `koanf:"mcp_args"`
	Timeout    Duration `koanf:"timeout"`
}

// StoreConfig configures best-effort request persistence.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// NewDefault returns a Config with production-ready defaults. The documented
// defaults for assembly budgets (300ms per source, 500ms overall) and the
// relevance weights (0.4/0.3/0.2/0.1) live here rather than as constants so
// operators can tune them.
func NewDefault() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9092,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "agentd",
			Endpoint:        "localhost:4317",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Resource: ResourceConfig{
			RequestSlots: 64,
			ModelSlots:   8,
			ToolSlots:    16,
			ContextSlots: 32,
			ShrinkFactor: 0.5,
			IngressRate:  200,
			IngressBurst: 64,
		},
		Retry: RetryConfig{
			Model:   RetryPolicyConfig{Attempts: 3, BaseDelay: Duration(100 * time.Millisecond), MaxDelay: Duration(2 * time.Second), Jitter: Duration(50 * time.Millisecond)},
			Tool:    RetryPolicyConfig{Attempts: 2, BaseDelay: Duration(100 * time.Millisecond), MaxDelay: Duration(1 * time.Second), Jitter: Duration(50 * time.Millisecond)},
			Storage: RetryPolicyConfig{Attempts: 3, BaseDelay: Duration(50 * time.Millisecond), MaxDelay: Duration(500 * time.Millisecond), Jitter: Duration(25 * time.Millisecond)},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Cooldown:         Duration(30 * time.Second),
		},
		Assembly: AssemblyConfig{
			SourceTimeout:  Duration(300 * time.Millisecond),
			OverallTimeout: Duration(500 * time.Millisecond),
			TokenBudget:    4096,
		},
		Optimize: OptimizeConfig{
			Weights: WeightsConfig{
				Match:    0.4,
				Recency:  0.3,
				Priority: 0.2,
				Prior:    0.1,
			},
			RecencyHalfLife:     Duration(30 * time.Minute),
			SimilarityThreshold: 0.9,
		},
		Cache: CacheConfig{
			L1Size:   256,
			L1TTL:    Duration(5 * time.Minute),
			RedisTTL: Duration(15 * time.Minute),
		},
		Events: EventsConfig{
			SubjectPrefix: "agentd.events",
		},
		Sources: SourcesConfig{
			History:    true,
			Scratch:    true,
			Vector:     true,
			Repository: false,
			VectorPath: "~/.config/agentd/vectorstore",
		},
		Model: ModelConfig{
			Provider: "fake",
			Timeout:  Duration(30 * time.Second),
		},
		Tools: ToolsConfig{
			Timeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Path: "~/.config/agentd/requests",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if err := c.Resource.validate(); err != nil {
		return err
	}
	if err := c.Breaker.validate(); err != nil {
		return err
	}
	if err := c.Assembly.validate(); err != nil {
		return err
	}
	if err := c.Optimize.validate(); err != nil {
		return err
	}
	if err := c.Model.validate(); err != nil {
		return err
	}
	return nil
}

func (m *ModelConfig) validate() error {
	switch m.Provider {
	case "fake", "openai", "anthropic":
		return nil
	default:
		return fmt.Errorf("model.provider must be fake, openai, or anthropic, got %q", m.Provider)
	}
}

func (r *ResourceConfig) validate() error {
	for name, slots := range map[string]int{
		"request_slots": r.RequestSlots,
		"model_slots":   r.ModelSlots,
		"tool_slots":    r.ToolSlots,
		"context_slots": r.ContextSlots,
	} {
		if slots < 1 {
			return fmt.Errorf("resource.%s must be at least 1, got %d", name, slots)
		}
	}
	if r.ShrinkFactor <= 0 || r.ShrinkFactor > 1 {
		return fmt.Errorf("resource.shrink_factor must be in (0, 1], got %f", r.ShrinkFactor)
	}
	return nil
}

func (b *BreakerConfig) validate() error {
	if b.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", b.FailureThreshold)
	}
	if b.Cooldown.Duration() <= 0 {
		return errors.New("breaker.cooldown must be positive")
	}
	return nil
}

func (a *AssemblyConfig) validate() error {
	if a.SourceTimeout.Duration() <= 0 {
		return errors.New("assembly.source_timeout must be positive")
	}
	if a.OverallTimeout.Duration() <= 0 {
		return errors.New("assembly.overall_timeout must be positive")
	}
	if a.TokenBudget < 1 {
		return fmt.Errorf("assembly.token_budget must be at least 1, got %d", a.TokenBudget)
	}
	return nil
}

func (o *OptimizeConfig) validate() error {
	sum := o.Weights.Match + o.Weights.Recency + o.Weights.Priority + o.Weights.Prior
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("optimize.weights must sum to 1.0, got %f", sum)
	}
	for name, w := range map[string]float64{
		"match":    o.Weights.Match,
		"recency":  o.Weights.Recency,
		"priority": o.Weights.Priority,
		"prior":    o.Weights.Prior,
	} {
		if w < 0 {
			return fmt.Errorf("optimize.weights.%s cannot be negative", name)
		}
	}
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		return fmt.Errorf("optimize.similarity_threshold must be in (0, 1], got %f", o.SimilarityThreshold)
	}
	return nil
}

// SourceTimeoutFor returns the fetch deadline for a source kind, falling
// back to the default when no override is configured.
func (a *AssemblyConfig) SourceTimeoutFor(kind string) time.Duration {
	if d, ok := a.SourceTimeouts[kind]; ok && d.Duration() > 0 {
		return d.Duration()
	}
	return a.SourceTimeout.Duration()
}
