package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/pvginkel/ModernAppTemplate/internal/drift"
	"github.com/pvginkel/ModernAppTemplate/internal/report"
	"github.com/pvginkel/ModernAppTemplate/internal/snapshot"
	"github.com/pvginkel/ModernAppTemplate/internal/watch"
)

// Log formats.
const (
	LogFormatAuto = ""
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Snapshot SnapshotConfig    `yaml:"snapshot"`
	Detect   DetectConfig      `yaml:"detect"`
	Report   ReportConfig      `yaml:"report"`
	Serve    ServeConfig       `yaml:"serve"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Snapshot.Validate(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if err := c.Detect.Validate(); err != nil {
		return fmt.Errorf("detect: %w", err)
	}
	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := c.Serve.Validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
//
// LogFormat selects the slog handler. Empty picks text for one-shot
// commands and JSON for serve.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatText, LogFormatJSON)),
	)
}

// SnapshotConfig controls how the application tree is read.
type SnapshotConfig struct {
	AnswersFile string   `yaml:"answers_file"`
	Ignore      []string `yaml:"ignore"`
}

// Validate validates the snapshot configuration.
func (c *SnapshotConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AnswersFile, validation.Required),
		validation.Field(&c.Ignore, validation.Each(validation.Required)),
	)
}

// DetectConfig tunes the drift detector.
type DetectConfig struct {
	Workers      int `yaml:"workers"`
	ContextLines int `yaml:"context_lines"`
}

// Validate validates the detector configuration.
func (c *DetectConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.ContextLines, validation.Min(0), validation.Max(20)),
	)
}

// ReportConfig selects the report rendering.
type ReportConfig struct {
	Format string `yaml:"format"`
	Color  string `yaml:"color"`
}

// Validate validates the report configuration.
func (c *ReportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.Required, validation.In("text", "json")),
		validation.Field(&c.Color, validation.Required, validation.In(report.ColorAuto, report.ColorAlways, report.ColorNever)),
	)
}

// ServeConfig holds the HTTP server configuration of serve mode.
type ServeConfig struct {
	Port     int           `yaml:"port"`
	Debounce time.Duration `yaml:"debounce"`
	Auth     AuthConfig    `yaml:"auth"`
}

// Address returns HTTP server address.
func (c *ServeConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Debounce, validation.Min(10*time.Millisecond), validation.Max(time.Minute)),
	); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
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
			LogLevel: slog.LevelWarn,
		},
		Snapshot: SnapshotConfig{
			AnswersFile: snapshot.DefaultAnswersFile,
		},
		Detect: DetectConfig{
			Workers:      drift.DefaultWorkers,
			ContextLines: drift.DefaultContextLines,
		},
		Report: ReportConfig{
			Format: "text",
			Color:  report.ColorAuto,
		},
		Serve: ServeConfig{
			Port:     8080,
			Debounce: watch.DefaultDebounce,
			Auth: AuthConfig{
				Mode: AuthModeDisabled,
			},
		},
	}
}
