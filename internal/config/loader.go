package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every accdd environment override.
	EnvPrefix = "ACCDD_"
)

// candidateFiles are probed in order inside the project directory.
var candidateFiles = []string{"accdd.yaml", "accdd.yml", "ac_cdd.toml"}

// Load loads configuration for the project rooted at projectDir.
//
// Configuration precedence (highest to lowest):
//  1. ACCDD_* environment variables (ACCDD_JULES_TIMEOUT -> jules.timeout)
//  2. Well-known credential variables (JULES_API_KEY, GITHUB_TOKEN, OPENAI_API_KEY)
//     for keys left empty by the file
//  3. The project config file (configPath, or accdd.yaml / accdd.yml / ac_cdd.toml)
//  4. Hardcoded defaults
//
// A .env file in projectDir is loaded into the process environment first.
// Variables already set in the environment are not overwritten.
func Load(projectDir, configPath string) (*Config, error) {
	if projectDir == "" {
		projectDir = "."
	}

	if err := loadDotEnv(filepath.Join(projectDir, ".env")); err != nil {
		return nil, err
	}

	k := koanf.New(".")

	if configPath == "" {
		configPath = findConfigFile(projectDir)
	}
	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrInvalidConfig, err)
	}

	cfg.Paths.ProjectDir = projectDir
	applyCredentialEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps ACCDD_SECTION_FIELD_NAME to section.field_name.
// Only the first underscore after the prefix separates the section.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func findConfigFile(projectDir string) string {
	for _, name := range candidateFiles {
		p := filepath.Join(projectDir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// loadFile reads the config file once through an opened descriptor and
// parses it according to its extension.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("%w: config file too large: %d bytes (max %d)", ErrInvalidConfig, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		parser = TOMLParser()
	case ".yaml", ".yml":
		parser = yaml.Parser()
	default:
		return fmt.Errorf("%w: unsupported config file type %q", ErrInvalidConfig, filepath.Ext(path))
	}

	if err := k.Load(rawbytes.Provider(content), parser); err != nil {
		return fmt.Errorf("%w: failed to load config file %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// applyCredentialEnv fills empty secrets from the conventional variable names.
func applyCredentialEnv(cfg *Config) {
	if !cfg.Jules.APIKey.IsSet() {
		cfg.Jules.APIKey = Secret(os.Getenv("JULES_API_KEY"))
	}
	if !cfg.GitHub.Token.IsSet() {
		cfg.GitHub.Token = Secret(firstEnv("GITHUB_TOKEN", "GH_TOKEN"))
	}
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
