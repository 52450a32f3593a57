// Package scaffold creates the project layout used by the cycle workflow and
// serves the bundled default prompts.
package scaffold

import (
	"bufio"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// Prompt template names under system_prompts/.
const (
	ArchitectInstruction = "ARCHITECT_INSTRUCTION.md"
	CoderInstruction     = "CODER_INSTRUCTION.md"
	AuditorInstruction   = "AUDITOR_INSTRUCTION.md"
	UATDesign            = "UAT_DESIGN.md"
)

// PromptsDir is the prompt directory under the documents directory.
const PromptsDir = "system_prompts"

//go:embed all:templates
var bundled embed.FS

// gitignoreEntries are appended to .gitignore when missing.
var gitignoreEntries = []string{".accdd/", ".env"}

// Result lists the files Init wrote and the ones it left alone.
type Result struct {
	Created []string
	Skipped []string
}

// DefaultPrompt returns the bundled template called name.
func DefaultPrompt(name string) (string, error) {
	data, err := bundled.ReadFile(path.Join("templates", PromptsDir, name))
	if err != nil {
		return "", fmt.Errorf("prompt %s is not bundled: %w", name, err)
	}
	return string(data), nil
}

// Prompt reads name from the project's prompt directory, falling back to the
// bundled default when the project has no copy.
func Prompt(cfg *config.Config, name string) (string, error) {
	data, err := os.ReadFile(cfg.DocumentsPath(PromptsDir, name))
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("reading prompt %s: %w", name, err)
	}
	return DefaultPrompt(name)
}

// Init writes the bundled layout into the project. Existing files are never
// overwritten.
func Init(ctx context.Context, cfg *config.Config, logger *logging.Logger) (Result, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("scaffold")

	targets := map[string]string{
		"templates/ALL_SPEC.md":           cfg.DocumentsPath("ALL_SPEC.md"),
		"templates/contracts/__init__.py": cfg.ContractsPath("__init__.py"),
		"templates/env.example":           cfg.Path(".env.example"),
	}
	for _, name := range []string{ArchitectInstruction, CoderInstruction, AuditorInstruction, UATDesign} {
		targets[path.Join("templates", PromptsDir, name)] = cfg.DocumentsPath(PromptsDir, name)
	}

	var res Result
	for _, src := range sortedKeys(targets) {
		dst := targets[src]
		created, err := writeIfMissing(dst, src)
		if err != nil {
			return res, err
		}
		if created {
			logger.Info(ctx, "created", zap.String("path", dst))
			res.Created = append(res.Created, dst)
		} else {
			logger.Debug(ctx, "exists, skipping", zap.String("path", dst))
			res.Skipped = append(res.Skipped, dst)
		}
	}

	added, err := EnsureGitignore(cfg.Path(".gitignore"), gitignoreEntries...)
	if err != nil {
		return res, err
	}
	if len(added) > 0 {
		logger.Info(ctx, "updated .gitignore", zap.Strings("entries", added))
	}
	return res, nil
}

func writeIfMissing(dst, src string) (bool, error) {
	if _, err := os.Stat(dst); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", dst, err)
	}

	data, err := bundled.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("reading bundled %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("creating directory for %s: %w", dst, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", dst, err)
	}
	return true, nil
}

// EnsureGitignore appends the entries missing from the file at path and
// returns them. The file is created when absent.
func EnsureGitignore(path string, entries ...string) ([]string, error) {
	existing := map[string]bool{}
	f, err := os.Open(path)
	switch {
	case err == nil:
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			existing[strings.TrimSpace(sc.Text())] = true
		}
		f.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	var missing []string
	for _, e := range entries {
		if !existing[e] {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	out, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer out.Close()
	if _, err := out.WriteString("\n" + strings.Join(missing, "\n") + "\n"); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	return missing, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
