package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VULNGUARD_CACHE_BACKEND.
const EnvPrefix = "VULNGUARD"

// Loader provides configuration loading capabilities. It abstracts the source
// of configuration to allow for different implementations like files, environment
// variables, or remote configuration services.
type Loader interface {
	// Load retrieves and parses the configuration from the underlying source.
	// It returns the parsed configuration or an error if loading fails.
	Load(ctx context.Context) (*Config, error)
}

// ViperLoader layers defaults, an optional config file and VULNGUARD_*
// environment variables, in increasing precedence.
type ViperLoader struct {
	path string
	v    *viper.Viper
}

var _ Loader = (*ViperLoader)(nil)

// NewViperLoader creates a loader. An empty path skips the config file.
func NewViperLoader(path string) *ViperLoader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &ViperLoader{path: path, v: v}
}

// Set overrides a single key, e.g. from a command line flag. Overrides win
// over every other layer.
func (l *ViperLoader) Set(key string, value any) { l.v.Set(key, value) }

// Load reads the configuration and validates it.
func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its field constraints.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scan.concurrency", 0)
	v.SetDefault("scan.context_lines", 2)
	v.SetDefault("scan.snippet_budget", 500)
	v.SetDefault("scan.max_file_bytes", 2*1024*1024)
	v.SetDefault("scan.exclude_dirs", []string{})

	v.SetDefault("rules.dirs", []string{})
	v.SetDefault("rules.builtin", true)
	v.SetDefault("rules.gitleaks", false)

	v.SetDefault("cache.backend", string(CacheBackendMemory))
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.postgres_dsn", "")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "vulnguard")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.insecure", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.otel", false)
}
