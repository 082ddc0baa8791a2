package internal

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/danisheto/anc/internal/apperr"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// CollectionFile is the collection file name inside an Anki profile directory.
const CollectionFile = "collection.anki2"

// Config represents the project configuration read from .anc/config.
type Config struct {
	AnkiDir    string            `toml:"anki_dir" yaml:"anki_dir"`
	App        ApplicationConfig `toml:"app" yaml:"app"`
	Collection CollectionConfig  `toml:"collection" yaml:"collection"`
	Sources    SourcesConfig     `toml:"sources" yaml:"sources"`
	Auth       AuthConfig        `toml:"auth" yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Sources.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// CollectionPath returns the collection file to reconcile against. An
// explicit collection.file wins; otherwise the file lives in anki_dir,
// falling back to $ANKI_DIR.
func (c *Config) CollectionPath() (string, error) {
	if c.Collection.File != "" {
		return expandHome(c.Collection.File), nil
	}
	dir := c.AnkiDir
	if dir == "" {
		dir = os.Getenv("ANKI_DIR")
	}
	if dir == "" {
		return "", apperr.ErrNoAnkiDir
	}
	return filepath.Join(expandHome(dir), CollectionFile), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `toml:"log_level" yaml:"log_level"`
	// LogFile, when set, receives logs through a rotating writer instead of stderr.
	LogFile string     `toml:"log_file" yaml:"log_file"`
	HTTP    HTTPConfig `toml:"http" yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration for serve mode.
type HTTPConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CollectionConfig controls how the collection is opened and matched.
type CollectionConfig struct {
	File                 string `toml:"file" yaml:"file"`
	CaseInsensitiveMatch bool   `toml:"case_insensitive_match" yaml:"case_insensitive_match"`
}

var extensionRe = regexp.MustCompile(`^\.?[A-Za-z0-9_-]+$`)

// SourcesConfig controls source discovery.
type SourcesConfig struct {
	Extension   string `toml:"extension" yaml:"extension"`
	DisableHook bool   `toml:"disable_hook" yaml:"disable_hook"`
}

// Validate validates the sources configuration.
func (c *SourcesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Extension, validation.Required, validation.Match(extensionRe)),
	)
}

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication, the API binds to localhost.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `toml:"mode" yaml:"mode"`
	Token string `toml:"token" yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 8765,
			},
		},
		Sources: SourcesConfig{
			Extension: ".qz",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
