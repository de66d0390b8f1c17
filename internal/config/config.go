// Package config loads a node's YAML configuration. The document is
// checked against an embedded CUE schema before it is decoded, so every
// structural problem is reported at once rather than one per run.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Defaults applied to optional settings.
const (
	DefaultCommunicationType  = "REST"
	DefaultRateLimitPerMinute = 600
	DefaultMaxBodyBytes       = 4 << 20
	DefaultPublishTimeout     = 10 * time.Second
)

// Config is a node's configuration.
type Config struct {
	Database     DatabaseConfig `yaml:"database"`
	Server       ServerConfig   `yaml:"server"`
	Keys         []KeyConfig    `yaml:"keys"`
	AlwaysSendTo []string       `yaml:"alwaysSendTo"`
	Peers        []PeerConfig   `yaml:"peers"`
	Features     Features       `yaml:"features"`
	Publish      PublishConfig  `yaml:"publish"`

	// baseDir resolves relative key paths.
	baseDir string
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address            string `yaml:"address"`
	CommunicationType  string `yaml:"communicationType"`
	RateLimitPerMinute int    `yaml:"rateLimitPerMinute"`
	MaxBodyBytes       int64  `yaml:"maxBodyBytes"`
}

// KeyConfig is one local identity, given inline or as file paths.
type KeyConfig struct {
	PublicKey      string `yaml:"publicKey"`
	PrivateKey     string `yaml:"privateKey"`
	PublicKeyPath  string `yaml:"publicKeyPath"`
	PrivateKeyPath string `yaml:"privateKeyPath"`
}

// PeerConfig is a remote node and the keys it hosts.
type PeerConfig struct {
	URL        string   `yaml:"url"`
	PublicKeys []string `yaml:"publicKeys"`
}

// Features toggles optional behaviour.
type Features struct {
	EnablePrivacyEnhancements bool `yaml:"enablePrivacyEnhancements"`
}

// PublishConfig tunes peer pushes.
type PublishConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every violation found in a document.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Load reads, validates and decodes the file at path. Relative key paths
// are resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse validates and decodes a YAML document.
func Parse(data []byte, baseDir string) (*Config, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.baseDir = baseDir
	cfg.applyDefaults()
	return &cfg, nil
}

// Validate checks a YAML document against the schema. A non-nil error is
// either a YAML syntax error or ValidationErrors.
func Validate(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return ValidationErrors{{Message: "configuration is empty"}}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	value := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) ValidationErrors {
	var out ValidationErrors
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		v := ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if seen[v.Error()] {
			continue
		}
		seen[v.Error()] = true
		out = append(out, v)
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Server.CommunicationType == "" {
		c.Server.CommunicationType = DefaultCommunicationType
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Publish.Timeout == 0 {
		c.Publish.Timeout = DefaultPublishTimeout
	}
	if c.Database.Path != "" && !filepath.IsAbs(c.Database.Path) && c.baseDir != "" {
		c.Database.Path = filepath.Join(c.baseDir, c.Database.Path)
	}
}
