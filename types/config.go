package types

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHarvestTimeout bounds how long a harvest waits for a single
	// output buffer to complete before excluding it.
	DefaultHarvestTimeout = 30 * time.Second

	DefaultSourceSuffix   = ".wat"
	DefaultArtifactSuffix = ".wasm"
)

// CacheConfig configures a cache instance. The zero value compiles purely
// in memory; staging mode is enabled when both SourceDir and ArtifactDir
// are set, in which case submitted source and defined artifact bytes are
// additionally persisted at deterministic paths for debugging.
type CacheConfig struct {
	// SourceDir is where submitted source text is staged before each
	// compile pass. Empty disables source staging.
	SourceDir string `yaml:"source_dir"`

	// ArtifactDir is where successfully defined artifact bytes are
	// persisted after harvest. Empty disables artifact staging.
	ArtifactDir string `yaml:"artifact_dir"`

	// SourceSuffix and ArtifactSuffix are appended to the slash-mapped
	// unit/artifact name when deriving staging paths.
	SourceSuffix   string `yaml:"source_suffix"`
	ArtifactSuffix string `yaml:"artifact_suffix"`

	// HarvestTimeout is the per-buffer completion bound during harvest.
	HarvestTimeout time.Duration `yaml:"harvest_timeout"`

	// Compiler runs the compile passes. If nil, the process-wide default
	// compiler is captured at the start of each resolve.
	Compiler Compiler `yaml:"-"`

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger `yaml:"-"`
}

// UnmarshalYAML implements custom unmarshaling so harvest_timeout can be
// written in duration syntax ("30s", "2m").
func (c *CacheConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawCacheConfig struct {
		SourceDir      string `yaml:"source_dir"`
		ArtifactDir    string `yaml:"artifact_dir"`
		SourceSuffix   string `yaml:"source_suffix"`
		ArtifactSuffix string `yaml:"artifact_suffix"`
		HarvestTimeout string `yaml:"harvest_timeout"`
	}
	var raw rawCacheConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.SourceDir = raw.SourceDir
	c.ArtifactDir = raw.ArtifactDir
	c.SourceSuffix = raw.SourceSuffix
	c.ArtifactSuffix = raw.ArtifactSuffix
	if raw.HarvestTimeout != "" {
		d, err := time.ParseDuration(raw.HarvestTimeout)
		if err != nil {
			return fmt.Errorf("invalid harvest_timeout: %w", err)
		}
		c.HarvestTimeout = d
	}
	return nil
}

// WithDefaults returns a copy with unset fields filled in.
func (c CacheConfig) WithDefaults() CacheConfig {
	if c.SourceSuffix == "" {
		c.SourceSuffix = DefaultSourceSuffix
	}
	if c.ArtifactSuffix == "" {
		c.ArtifactSuffix = DefaultArtifactSuffix
	}
	if c.HarvestTimeout <= 0 {
		c.HarvestTimeout = DefaultHarvestTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Staging reports whether both staging directories are configured.
func (c CacheConfig) Staging() bool {
	return c.SourceDir != "" && c.ArtifactDir != ""
}

// LoadCacheConfig reads a YAML cache configuration from path. There is no
// automatic discovery: the path must name an existing file.
func LoadCacheConfig(path string) (CacheConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CacheConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg CacheConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CacheConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg.WithDefaults(), nil
}
