// Package config loads the server configuration. Values are layered, lowest
// precedence first: built-in defaults, an optional YAML file, environment
// variables and finally command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel       = "info"
	DefaultRequestTimeout = 30 * time.Second
	DefaultAPIVersion     = "9.2"
	DefaultAuthorityHost  = "https://login.microsoftonline.com"
)

var (
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidEnvironmentURL = errors.New("invalid environment url")
)

// Config is the complete server configuration.
//
// Env tags carry no defaults on purpose: envdecode only touches a field when
// its variable is set, so values from the YAML file survive.
type Config struct {
	// EnvironmentURL is the Dataverse environment, e.g. https://org.crm.dynamics.com.
	// Empty means the who_am_i tool reports a configuration failure.
	EnvironmentURL string `yaml:"environmentUrl" env:"DATAVERSE_ENVIRONMENT_URL"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel" env:"MCP_LOG_LEVEL"`
	// RequestTimeout bounds each Dataverse call, token acquisition included.
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"DATAVERSE_REQUEST_TIMEOUT"`
	// APIVersion is the Web API version segment, without the leading "v".
	APIVersion string `yaml:"apiVersion" env:"DATAVERSE_API_VERSION"`

	Auth Auth `yaml:"auth"`
}

// Auth configures how Dataverse access tokens are obtained. A static
// AccessToken wins over the client credentials grant.
type Auth struct {
	TenantID      string `yaml:"tenantId" env:"AZURE_TENANT_ID"`
	ClientID      string `yaml:"clientId" env:"AZURE_CLIENT_ID"`
	ClientSecret  string `yaml:"clientSecret" env:"AZURE_CLIENT_SECRET"`
	AuthorityHost string `yaml:"authorityHost" env:"AZURE_AUTHORITY_HOST"`
	// TokenURL skips OpenID discovery when set.
	TokenURL    string `yaml:"tokenUrl" env:"AZURE_TOKEN_URL"`
	AccessToken string `yaml:"accessToken" env:"DATAVERSE_ACCESS_TOKEN"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:       DefaultLogLevel,
		RequestTimeout: DefaultRequestTimeout,
		APIVersion:     DefaultAPIVersion,
		Auth: Auth{
			AuthorityHost: DefaultAuthorityHost,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the process environment. The result is normalized but
// not validated; call Validate once flags have been applied.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.Normalize()
	return cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

// Normalize canonicalizes free-form values: the environment URL gains an
// https scheme when it has none and loses trailing slashes, and the log level
// is lower-cased.
func (c *Config) Normalize() {
	c.EnvironmentURL = NormalizeEnvironmentURL(c.EnvironmentURL)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.APIVersion = strings.TrimPrefix(strings.TrimSpace(c.APIVersion), "v")
	c.Auth.AuthorityHost = strings.TrimRight(strings.TrimSpace(c.Auth.AuthorityHost), "/")
}

// NormalizeEnvironmentURL trims whitespace and trailing slashes and adds an
// https scheme to bare host names. An empty input stays empty.
func NormalizeEnvironmentURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}

// Validate checks the values that would otherwise fail late. A missing
// environment URL is not an error: the server still starts and who_am_i
// explains what is missing.
func (c Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel))
	}
	if c.EnvironmentURL != "" {
		u, err := url.Parse(c.EnvironmentURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidEnvironmentURL, err))
		case u.Scheme != "https" && u.Scheme != "http":
			errs = append(errs, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEnvironmentURL, u.Scheme))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("%w: missing host", ErrInvalidEnvironmentURL))
		}
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.APIVersion == "" {
		errs = append(errs, errors.New("api version must not be empty"))
	}
	return errors.Join(errs...)
}
