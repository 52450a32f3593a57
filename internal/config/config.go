// Package config provides configuration loading for accdd.
//
// A Config is built once at process start (see Load) and passed explicitly to
// the manifest store, the agent gateway and the cycle runner. Nothing in the
// module reads configuration from globals.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ErrInvalidConfig is returned for any configuration that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete accdd configuration.
type Config struct {
	Jules     JulesConfig     `koanf:"jules"`
	GitHub    GitHubConfig    `koanf:"github"`
	LLM       LLMConfig       `koanf:"llm"`
	Cycle     CycleConfig     `koanf:"cycle"`
	Paths     PathsConfig     `koanf:"paths"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Status    StatusConfig    `koanf:"status"`
}

// JulesConfig configures the external coding agent API.
type JulesConfig struct {
	BaseURL           string   `koanf:"base_url"`
	APIKey            Secret   `koanf:"api_key"`
	Source            string   `koanf:"source"`
	StartingBranch    string   `koanf:"starting_branch"`
	Timeout           Duration `koanf:"timeout"`
	PollInterval      Duration `koanf:"poll_interval"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// GitHubConfig configures pull request creation and merging.
type GitHubConfig struct {
	Token      Secret `koanf:"token"`
	Owner      string `koanf:"owner"`
	Repo       string `koanf:"repo"`
	BaseBranch string `koanf:"base_branch"`
	Remote     string `koanf:"remote"`
}

// LLMConfig configures the model used by the auditors and the UAT analyst.
type LLMConfig struct {
	APIKey  Secret `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// CycleConfig holds the retry and convergence budgets.
type CycleConfig struct {
	// MaxIterations bounds the implement/test/audit loop per plan attempt.
	MaxIterations int `koanf:"max_iterations"`

	// MaxPlanRetries bounds the outer re-planning loop.
	MaxPlanRetries int `koanf:"max_plan_retries"`

	// ReviewsPerAuditor is the private retry allowance of each auditor.
	ReviewsPerAuditor int `koanf:"reviews_per_auditor"`

	// Auditors is the ordered committee roster.
	Auditors []string `koanf:"auditors"`

	TestCommand []string `koanf:"test_command"`
	UATCommand  []string `koanf:"uat_command"`

	// TestTimeout bounds a single test or UAT command run.
	TestTimeout Duration `koanf:"test_timeout"`
}

// PathsConfig locates project documents and state. Relative paths resolve
// against ProjectDir.
type PathsConfig struct {
	ProjectDir       string `koanf:"project_dir"`
	DocumentsDir     string `koanf:"documents_dir"`
	ContractsDir     string `koanf:"contracts_dir"`
	StateFile        string `koanf:"state_file"`
	SecretsAllowlist string `koanf:"secrets_allowlist"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// StatusConfig configures the optional status endpoint.
type StatusConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Jules.BaseURL == "" {
		cfg.Jules.BaseURL = "https://jules.googleapis.com/v1alpha"
	}
	if cfg.Jules.StartingBranch == "" {
		cfg.Jules.StartingBranch = "main"
	}
	if cfg.Jules.Timeout == 0 {
		cfg.Jules.Timeout = Duration(2 * time.Hour)
	}
	if cfg.Jules.PollInterval == 0 {
		cfg.Jules.PollInterval = Duration(20 * time.Second)
	}
	if cfg.Jules.RequestsPerSecond == 0 {
		cfg.Jules.RequestsPerSecond = 1
	}

	if cfg.GitHub.BaseBranch == "" {
		cfg.GitHub.BaseBranch = "main"
	}
	if cfg.GitHub.Remote == "" {
		cfg.GitHub.Remote = "origin"
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}

	if cfg.Cycle.MaxIterations == 0 {
		cfg.Cycle.MaxIterations = 3
	}
	if cfg.Cycle.MaxPlanRetries == 0 {
		cfg.Cycle.MaxPlanRetries = 3
	}
	if cfg.Cycle.ReviewsPerAuditor == 0 {
		cfg.Cycle.ReviewsPerAuditor = 2
	}
	if len(cfg.Cycle.Auditors) == 0 {
		cfg.Cycle.Auditors = []string{"security", "architecture", "quality"}
	}
	if len(cfg.Cycle.TestCommand) == 0 {
		cfg.Cycle.TestCommand = []string{"uv", "run", "pytest"}
	}
	if len(cfg.Cycle.UATCommand) == 0 {
		cfg.Cycle.UATCommand = cfg.Cycle.TestCommand
	}
	if cfg.Cycle.TestTimeout == 0 {
		cfg.Cycle.TestTimeout = Duration(30 * time.Minute)
	}

	if cfg.Paths.ProjectDir == "" {
		cfg.Paths.ProjectDir = "."
	}
	if cfg.Paths.DocumentsDir == "" {
		cfg.Paths.DocumentsDir = "dev_documents"
	}
	if cfg.Paths.ContractsDir == "" {
		cfg.Paths.ContractsDir = "contracts"
	}
	if cfg.Paths.StateFile == "" {
		cfg.Paths.StateFile = filepath.Join(".accdd", "project_state.json")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "accdd"
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = "0.1.0"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Jules.Timeout.Duration() <= 0 {
		return fmt.Errorf("%w: jules.timeout must be positive", ErrInvalidConfig)
	}
	if c.Jules.PollInterval.Duration() <= 0 {
		return fmt.Errorf("%w: jules.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Jules.PollInterval.Duration() > c.Jules.Timeout.Duration() {
		return fmt.Errorf("%w: jules.poll_interval %s exceeds jules.timeout %s",
			ErrInvalidConfig, c.Jules.PollInterval.Duration(), c.Jules.Timeout.Duration())
	}
	if c.Jules.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: jules.requests_per_second must be >= 0", ErrInvalidConfig)
	}

	if c.Cycle.MaxIterations < 1 {
		return fmt.Errorf("%w: cycle.max_iterations must be >= 1, got %d", ErrInvalidConfig, c.Cycle.MaxIterations)
	}
	if c.Cycle.MaxPlanRetries < 1 {
		return fmt.Errorf("%w: cycle.max_plan_retries must be >= 1, got %d", ErrInvalidConfig, c.Cycle.MaxPlanRetries)
	}
	if c.Cycle.ReviewsPerAuditor < 1 {
		return fmt.Errorf("%w: cycle.reviews_per_auditor must be >= 1, got %d", ErrInvalidConfig, c.Cycle.ReviewsPerAuditor)
	}
	for i, name := range c.Cycle.Auditors {
		if name == "" {
			return fmt.Errorf("%w: cycle.auditors[%d] is empty", ErrInvalidConfig, i)
		}
	}
	if len(c.Cycle.TestCommand) == 0 || c.Cycle.TestCommand[0] == "" {
		return fmt.Errorf("%w: cycle.test_command is empty", ErrInvalidConfig)
	}
	if c.Cycle.TestTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: cycle.test_timeout must be positive, got %s", ErrInvalidConfig, c.Cycle.TestTimeout.Duration())
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("%w: telemetry.protocol must be grpc or http/protobuf", ErrInvalidConfig)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("%w: telemetry.sample_rate must be between 0 and 1", ErrInvalidConfig)
		}
	}

	return nil
}

// Path resolves p against the project directory unless it is absolute.
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.ProjectDir, p)
}

// DocumentsPath joins elem under the documents directory.
func (c *Config) DocumentsPath(elem ...string) string {
	return filepath.Join(append([]string{c.Path(c.Paths.DocumentsDir)}, elem...)...)
}

// ContractsPath joins elem under the contracts directory.
func (c *Config) ContractsPath(elem ...string) string {
	return filepath.Join(append([]string{c.Path(c.Paths.ContractsDir)}, elem...)...)
}

// StatePath returns the manifest file location.
func (c *Config) StatePath() string {
	return c.Path(c.Paths.StateFile)
}
