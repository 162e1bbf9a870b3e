// Package config holds the scanner's runtime configuration and the loader
// that assembles it from defaults, an optional file and the environment.
package config

// CacheBackend selects where scan results are memoized.
type CacheBackend string

const (
	CacheBackendNone     CacheBackend = "none"
	CacheBackendMemory   CacheBackend = "memory"
	CacheBackendDisk     CacheBackend = "disk"
	CacheBackendPostgres CacheBackend = "postgres"
)

// Config represents the top-level configuration.
type Config struct {
	Scan      ScanConfig      `mapstructure:"scan"`
	Rules     RulesConfig     `mapstructure:"rules"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Log       LogConfig       `mapstructure:"log"`
}

// ScanConfig tunes the orchestrator and the finding synthesizer.
type ScanConfig struct {
	// Concurrency is the number of files scanned at once. Zero means one per
	// available CPU.
	Concurrency   int      `mapstructure:"concurrency" validate:"gte=0"`
	ContextLines  int      `mapstructure:"context_lines" validate:"gte=0,lte=50"`
	SnippetBudget int      `mapstructure:"snippet_budget" validate:"gte=16"`
	MaxFileBytes  int64    `mapstructure:"max_file_bytes" validate:"gt=0"`
	ExcludeDirs   []string `mapstructure:"exclude_dirs"`
}

// RulesConfig lists where rule definitions come from.
type RulesConfig struct {
	// Dirs are directories of YAML rule files loaded after the built-in set.
	Dirs []string `mapstructure:"dirs" validate:"dive,required"`
	// Builtin enables the catalog shipped with the binary.
	Builtin bool `mapstructure:"builtin"`
	// Gitleaks enables the gitleaks default secret rules.
	Gitleaks bool `mapstructure:"gitleaks"`
}

// CacheConfig selects and configures the result cache.
type CacheConfig struct {
	Backend     CacheBackend `mapstructure:"backend" validate:"oneof=none memory disk postgres"`
	Dir         string       `mapstructure:"dir" validate:"required_if=Backend disk"`
	PostgresDSN string       `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	Insecure    bool    `mapstructure:"insecure"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	// OTel routes records through the OpenTelemetry log bridge instead of
	// stderr.
	OTel bool `mapstructure:"otel"`
}
