// Package config loads service configuration from defaults, an optional YAML
// file and TOYS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. The first underscore
// after it separates section from key: TOYS_LEDGER_POSTGRES_DSN sets
// ledger.postgres_dsn.
const EnvPrefix = "TOYS_"

// MinSecretLength is the shortest accepted token signing secret.
const MinSecretLength = 32

// Ledger backends
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Token     TokenConfig     `koanf:"token"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Ownership OwnershipConfig `koanf:"ownership"`
	Events    EventsConfig    `koanf:"events"`
	Admin     AdminConfig     `koanf:"admin"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	AWS       AWSConfig       `koanf:"aws"`
}

type HTTPConfig struct {
	Address string `koanf:"address"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TokenConfig holds the signing secrets. RetiredSecrets still verify but
// never sign.
type TokenConfig struct {
	Secret         string   `koanf:"secret"`
	RetiredSecrets []string `koanf:"retired_secrets"`
}

type LedgerConfig struct {
	Backend       string        `koanf:"backend"`
	Table         string        `koanf:"table"`
	PostgresDSN   string        `koanf:"postgres_dsn"`
	MongoURI      string        `koanf:"mongo_uri"`
	MongoDatabase string        `koanf:"mongo_database"`
	Timeout       time.Duration `koanf:"timeout"`
}

// OwnershipConfig names the ownership table. An empty Table disables the
// ownership routes in the API.
type OwnershipConfig struct {
	Table string `koanf:"table"`
}

// EventsConfig configures activation events. An empty QueueURL disables
// publishing.
type EventsConfig struct {
	Table    string `koanf:"table"`
	QueueURL string `koanf:"queue_url"`
}

// AdminConfig guards issuance, listing and purge. An empty APIKey disables
// those routes.
type AdminConfig struct {
	APIKey string `koanf:"api_key"`
}

type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
}

type AWSConfig struct {
	Region           string `koanf:"region"`
	EndpointOverride string `koanf:"endpoint_override"`
}

func defaults() map[string]any {
	return map[string]any{
		"http.address":          ":8080",
		"log.level":             "info",
		"log.format":            "json",
		"ledger.backend":        BackendMemory,
		"ledger.table":          "toy-redemptions",
		"ledger.mongo_database": "toys",
		"ledger.timeout":        "3s",
		"events.table":          "toy-activation-events",
		"metrics.namespace":     "toys",
	}
}

// Load reads configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKey maps TOYS_LEDGER_POSTGRES_DSN to ledger.postgres_dsn.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks the settings the selected components need.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Token.Secret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("token.secret must be at least %d bytes", MinSecretLength))
	}
	for i, s := range c.Token.RetiredSecrets {
		if len(s) < MinSecretLength {
			errs = append(errs, fmt.Errorf("token.retired_secrets[%d] must be at least %d bytes", i, MinSecretLength))
		}
	}

	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendDynamoDB:
		if c.Ledger.Table == "" {
			errs = append(errs, errors.New("ledger.table is required for the dynamodb backend"))
		}
	case BackendPostgres:
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn is required for the postgres backend"))
		}
	case BackendMongoDB:
		if c.Ledger.MongoURI == "" || c.Ledger.MongoDatabase == "" {
			errs = append(errs, errors.New("ledger.mongo_uri and ledger.mongo_database are required for the mongodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.backend %q", c.Ledger.Backend))
	}

	if c.Ledger.Timeout <= 0 {
		errs = append(errs, errors.New("ledger.timeout must be positive"))
	}
	return errors.Join(errs...)
}
