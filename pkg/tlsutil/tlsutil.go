// Package tlsutil builds the TLS configuration used to reach a bus server.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/veea/vbus/errors"
)

// ClientConfig holds TLS settings for server connections. The system CA bundle
// is always trusted; CAFiles are additional trusted CAs.
type ClientConfig struct {
	CAFiles    []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	CertFile   string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	ServerName string   `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	MinVersion string   `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"

	// InsecureSkipVerify disables server verification. Test setups only.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"`
}

// Enabled reports whether any setting asks for a custom TLS configuration.
func (c ClientConfig) Enabled() bool {
	return len(c.CAFiles) > 0 || c.CertFile != "" || c.KeyFile != "" ||
		c.ServerName != "" || c.MinVersion != "" || c.InsecureSkipVerify
}

// Validate checks the settings without reading any file.
func (c ClientConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.WrapInvalid(fmt.Errorf("certificate and key must be set together"),
			"tlsutil", "Validate", "check client certificate")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
	default:
		return errors.WrapInvalid(fmt.Errorf("unsupported min version %q", c.MinVersion),
			"tlsutil", "Validate", "check min version")
	}
	return nil
}

// LoadClientConfig creates a tls.Config from cfg, or nil when cfg is not enabled.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test setups
	}

	if len(cfg.CAFiles) > 0 {
		rootCAs, err := x509.SystemCertPool()
		if err != nil {
			rootCAs = x509.NewCertPool()
		}
		for _, caFile := range cfg.CAFiles {
			caPEM, err := os.ReadFile(caFile)
			if err != nil {
				return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
			}
			if !rootCAs.AppendCertsFromPEM(caPEM) {
				return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"),
					"tlsutil", "LoadClientConfig", fmt.Sprintf("parse CA file %s", caFile))
			}
		}
		tlsConfig.RootCAs = rootCAs
	}

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// parseTLSVersion converts a version string to its crypto/tls constant.
// Anything but "1.3" yields TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
