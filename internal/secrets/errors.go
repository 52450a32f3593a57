// Package secrets scans agent output and changed files for credentials with
// the Gitleaks rule set.
//
// The cycle auditor runs a static scan before every LLM review; any finding
// forces a rejection. Test logs are redacted before they are embedded in
// prompts sent to external agents.
package secrets

import "errors"

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)
