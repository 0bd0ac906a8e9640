package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/pkg/tlsutil"
)

// Environment variables read by ApplyEnv
const (
	EnvURL      = "VBUS_URL"
	EnvPath     = "VBUS_PATH"
	EnvDomain   = "VBUS_DOMAIN"
	EnvHostname = "VBUS_HOSTNAME"
	EnvLogLevel = "VBUS_LOG_LEVEL"
)

// Defaults
const (
	DefaultDomain         = "system"
	DefaultPort           = 21400
	DefaultRequestTimeout = time.Second
	DefaultPingTimeout    = time.Second
	DefaultZeroconfWindow = 5 * time.Second
)

// Config holds client settings. Zero values are filled by Default.
type Config struct {
	Domain   string `json:"domain" yaml:"domain"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`

	// URL pins the NATS server and skips discovery when set.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Path is the folder holding per-app credential files.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	Codec    string `json:"codec,omitempty" yaml:"codec,omitempty"`

	RequestTimeout Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	StaleAfter     Duration `json:"stale_after,omitempty" yaml:"stale_after,omitempty"`
	NegativeTTL    Duration `json:"negative_ttl,omitempty" yaml:"negative_ttl,omitempty"`

	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`

	// TLS applies to every server connection, pings included.
	TLS tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// DiscoveryConfig controls NATS URL discovery.
type DiscoveryConfig struct {
	Port           int      `json:"port,omitempty" yaml:"port,omitempty"`
	PingTimeout    Duration `json:"ping_timeout,omitempty" yaml:"ping_timeout,omitempty"`
	Zeroconf       bool     `json:"zeroconf" yaml:"zeroconf"`
	ZeroconfWindow Duration `json:"zeroconf_window,omitempty" yaml:"zeroconf_window,omitempty"`
}

// Default returns a configuration for the local host.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.Hostname == "" {
		c.Hostname = Hostname()
	}
	if c.Path == "" {
		c.Path = DefaultPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Codec == "" {
		c.Codec = "json"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.Discovery.Port == 0 {
		c.Discovery.Port = DefaultPort
	}
	if c.Discovery.PingTimeout == 0 {
		c.Discovery.PingTimeout = Duration(DefaultPingTimeout)
	}
	if c.Discovery.ZeroconfWindow == 0 {
		c.Discovery.ZeroconfWindow = Duration(DefaultZeroconfWindow)
	}
}

// Hostname returns the host name used in bus roots, "localhost" when unknown.
func Hostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	// Dots would split the root into extra segments.
	return strings.ReplaceAll(host, ".", "-")
}

// DefaultPath returns $HOME/vbus.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "vbus")
	}
	return filepath.Join(home, "vbus")
}

// ApplyEnv overrides fields from VBUS_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.Getenv)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	overrides := []struct {
		key    string
		target *string
	}{
		{EnvURL, &c.URL},
		{EnvPath, &c.Path},
		{EnvDomain, &c.Domain},
		{EnvHostname, &c.Hostname},
		{EnvLogLevel, &c.LogLevel},
	}
	for _, o := range overrides {
		val := getenv(o.key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(o.key, val); err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "read "+o.key)
		}
		*o.target = val
	}
	return nil
}

// Validate checks the configuration and normalizes the domain to lowercase.
func (c *Config) Validate() error {
	c.Domain = strings.ToLower(c.Domain)
	if !isValidSubjectPart(c.Domain) {
		return errors.WrapInvalid(fmt.Errorf("domain %q is not a valid subject token", c.Domain),
			"Config", "Validate", "check domain")
	}
	if !isValidSubjectPart(c.Hostname) || strings.Contains(c.Hostname, ".") {
		return errors.WrapInvalid(fmt.Errorf("hostname %q is not a valid subject token", c.Hostname),
			"Config", "Validate", "check hostname")
	}
	if c.URL != "" && !strings.Contains(c.URL, "://") {
		return errors.WrapInvalid(fmt.Errorf("url %q has no scheme", c.URL), "Config", "Validate", "check url")
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown log level %q", c.LogLevel), "Config", "Validate", "check log level")
	}
	switch c.Codec {
	case "", "json", "cbor":
	default:
		return errors.WrapInvalid(fmt.Errorf("unknown codec %q", c.Codec), "Config", "Validate", "check codec")
	}
	if c.RequestTimeout < 0 || c.StaleAfter < 0 || c.NegativeTTL < 0 {
		return errors.WrapInvalid(fmt.Errorf("durations must not be negative"), "Config", "Validate", "check durations")
	}
	if c.Discovery.Port < 0 || c.Discovery.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("port %d out of range", c.Discovery.Port), "Config", "Validate", "check port")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return nil
}

// isValidSubjectPart reports whether s is usable inside a NATS subject.
func isValidSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// Load reads a JSON or YAML file, fills defaults, applies the environment and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "read "+path)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		if err = validateJSONDepth(data); err == nil {
			err = json.Unmarshal(data, cfg)
		}
	}
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	copied := *c
	copied.TLS.CAFiles = slices.Clone(c.TLS.CAFiles)
	return &copied
}

// String returns the configuration as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
