package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var validSecret = strings.Repeat("s", MinSecretLength)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, BackendMemory, cfg.Ledger.Backend)
	assert.Equal(t, "toy-redemptions", cfg.Ledger.Table)
	assert.Equal(t, 3*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, "toys", cfg.Ledger.MongoDatabase)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "toy-activation-events", cfg.Events.Table)
	assert.Equal(t, "toys", cfg.Metrics.Namespace)
	assert.Empty(t, cfg.Admin.APIKey)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toys.yaml")
	content := `
ledger:
  backend: postgres
  postgres_dsn: "postgres://file"
  timeout: 5s
token:
  secret: "from-file-secret-from-file-secret!"
  retired_secrets:
    - "old-secret-old-secret-old-secret-1"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("TOYS_LEDGER_POSTGRES_DSN", "postgres://env")
	t.Setenv("TOYS_ADMIN_API_KEY", "admin-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Ledger.Backend)
	assert.Equal(t, "postgres://env", cfg.Ledger.PostgresDSN)
	assert.Equal(t, 5*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, "admin-key", cfg.Admin.APIKey)
	assert.Equal(t, []string{"old-secret-old-secret-old-secret-1"}, cfg.Token.RetiredSecrets)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/toys.yaml")
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "ledger.postgres_dsn", envKey("TOYS_LEDGER_POSTGRES_DSN"))
	assert.Equal(t, "http.address", envKey("TOYS_HTTP_ADDRESS"))
	assert.Equal(t, "aws.endpoint_override", envKey("TOYS_AWS_ENDPOINT_OVERRIDE"))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Token:  TokenConfig{Secret: validSecret},
			Ledger: LedgerConfig{Backend: BackendMemory, Timeout: time.Second},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short secret", func(c *Config) { c.Token.Secret = "short" }, "token.secret"},
		{"short retired", func(c *Config) { c.Token.RetiredSecrets = []string{"x"} }, "retired_secrets[0]"},
		{"unknown backend", func(c *Config) { c.Ledger.Backend = "redis" }, "unknown ledger.backend"},
		{"dynamo without table", func(c *Config) { c.Ledger.Backend = BackendDynamoDB }, "ledger.table"},
		{"postgres without dsn", func(c *Config) { c.Ledger.Backend = BackendPostgres }, "postgres_dsn"},
		{"mongo without uri", func(c *Config) { c.Ledger.Backend = BackendMongoDB }, "mongo_uri"},
		{"zero timeout", func(c *Config) { c.Ledger.Timeout = 0 }, "ledger.timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
