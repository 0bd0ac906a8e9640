package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/veea/vbus/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultDomain, cfg.Domain)
	assert.NotEmpty(t, cfg.Hostname)
	assert.NotContains(t, cfg.Hostname, ".")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.Codec)
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout.Duration())
	assert.Equal(t, DefaultPort, cfg.Discovery.Port)
	assert.Equal(t, "vbus", filepath.Base(cfg.Path))
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvURL, "nats://bus.local:4222")
	t.Setenv(EnvPath, "/var/lib/vbus")
	t.Setenv(EnvDomain, "Acme")
	t.Setenv(EnvHostname, "hub-1")
	t.Setenv(EnvLogLevel, "debug")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://bus.local:4222", cfg.URL)
	assert.Equal(t, "/var/lib/vbus", cfg.Path)
	assert.Equal(t, "acme", cfg.Domain, "domain is lowercased by Validate")
	assert.Equal(t, "hub-1", cfg.Hostname)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestApplyEnv_RejectsNullByte(t *testing.T) {
	env := map[string]string{EnvDomain: "bad\x00domain"}

	cfg := Default()
	err := cfg.applyEnv(func(key string) string { return env[key] })
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, DefaultDomain, cfg.Domain, "rejected value is not applied")
}

func TestApplyEnv_RejectsOversizedValue(t *testing.T) {
	t.Setenv(EnvHostname, strings.Repeat("h", maxEnvVarLen+1))

	err := Default().ApplyEnv()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty domain", func(c *Config) { c.Domain = "" }, true},
		{"domain with wildcard", func(c *Config) { c.Domain = "sys*" }, true},
		{"dotted hostname", func(c *Config) { c.Hostname = "hub.local" }, true},
		{"url without scheme", func(c *Config) { c.URL = "localhost:4222" }, true},
		{"url", func(c *Config) { c.URL = "nats://localhost:4222" }, false},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"cbor codec", func(c *Config) { c.Codec = "cbor" }, false},
		{"unknown codec", func(c *Config) { c.Codec = "xml" }, true},
		{"negative timeout", func(c *Config) { c.RequestTimeout = Duration(-time.Second) }, true},
		{"port out of range", func(c *Config) { c.Discovery.Port = 70000 }, true},
		{"tls ca only", func(c *Config) { c.TLS.CAFiles = []string{"ca.pem"} }, false},
		{"tls cert without key", func(c *Config) { c.TLS.CertFile = "cert.pem" }, true},
		{"tls version", func(c *Config) { c.TLS.MinVersion = "1.1" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"domain": "acme",
		"hostname": "hub-2",
		"url": "nats://10.0.0.1:21400",
		"request_timeout": "250ms",
		"stale_after": 2000000000,
		"discovery": {"zeroconf": true, "port": 4222}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.Domain)
	assert.Equal(t, "hub-2", cfg.Hostname)
	assert.Equal(t, "nats://10.0.0.1:21400", cfg.URL)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout.Duration())
	assert.Equal(t, 2*time.Second, cfg.StaleAfter.Duration())
	assert.True(t, cfg.Discovery.Zeroconf)
	assert.Equal(t, 4222, cfg.Discovery.Port)
	assert.Equal(t, DefaultZeroconfWindow, cfg.Discovery.ZeroconfWindow.Duration())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbus.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domain: lab
log_level: warn
codec: cbor
request_timeout: 3s
negative_ttl: 500ms
discovery:
  zeroconf: false
  ping_timeout: 200ms
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "lab", cfg.Domain)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "cbor", cfg.Codec)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout.Duration())
	assert.Equal(t, 500*time.Millisecond, cfg.NegativeTTL.Duration())
	assert.Equal(t, 200*time.Millisecond, cfg.Discovery.PingTimeout.Duration())
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vbus.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"url": "nats://file:1"}`), 0o600))
	t.Setenv(EnvURL, "nats://env:2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://env:2", cfg.URL)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	txt := filepath.Join(dir, "vbus.txt")
	require.NoError(t, os.WriteFile(txt, []byte(`{}`), 0o600))
	_, err = Load(txt)
	assert.Error(t, err, "unsupported extension")

	deep := filepath.Join(dir, "deep.json")
	nested := ""
	for i := 0; i <= maxJSONDepth; i++ {
		nested += "["
	}
	require.NoError(t, os.WriteFile(deep, []byte(nested), 0o600))
	_, err = Load(deep)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"codec": "xml"}`), 0o600))
	_, err = Load(invalid)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateConfigPath_Traversal(t *testing.T) {
	assert.Error(t, validateConfigPath("../outside.json"))
	assert.Error(t, validateConfigPath(""))
	assert.NoError(t, validateConfigPath("local.yaml"))
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m30s"`), &d))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Duration())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))

	var holder struct {
		D Duration `yaml:"d"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("d: 150ms"), &holder))
	assert.Equal(t, 150*time.Millisecond, holder.D.Duration())

	encoded, err := yaml.Marshal(holder)
	require.NoError(t, err)
	assert.Equal(t, "d: 150ms\n", string(encoded))
}

func TestClone(t *testing.T) {
	cfg := Default()
	cfg.TLS.CAFiles = []string{"ca.pem"}

	copied := cfg.Clone()
	copied.Domain = "lab"
	copied.TLS.CAFiles[0] = "other.pem"

	assert.Equal(t, DefaultDomain, cfg.Domain)
	assert.Equal(t, "ca.pem", cfg.TLS.CAFiles[0])

	var nilCfg *Config
	assert.Equal(t, DefaultDomain, nilCfg.Clone().Domain)
}
