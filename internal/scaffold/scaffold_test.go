package scaffold

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.ProjectDir = t.TempDir()
	return cfg
}

func TestInit_CreatesLayout(t *testing.T) {
	cfg := testConfig(t)
	tl := logging.NewTestLogger()

	res, err := Init(context.Background(), cfg, tl.Logger)
	require.NoError(t, err)
	assert.Len(t, res.Created, 7)
	assert.Empty(t, res.Skipped)

	for _, p := range []string{
		cfg.DocumentsPath("ALL_SPEC.md"),
		cfg.DocumentsPath(PromptsDir, CoderInstruction),
		cfg.DocumentsPath(PromptsDir, ArchitectInstruction),
		cfg.ContractsPath("__init__.py"),
		cfg.Path(".env.example"),
	} {
		assert.FileExists(t, p)
	}

	gi, err := os.ReadFile(cfg.Path(".gitignore"))
	require.NoError(t, err)
	assert.Contains(t, string(gi), ".accdd/")
	tl.AssertLogged(t, zapcore.InfoLevel, "updated .gitignore")
}

func TestInit_KeepsExistingFiles(t *testing.T) {
	cfg := testConfig(t)
	spec := cfg.DocumentsPath("ALL_SPEC.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(spec), 0o755))
	require.NoError(t, os.WriteFile(spec, []byte("my spec"), 0o644))

	res, err := Init(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Skipped, spec)

	data, err := os.ReadFile(spec)
	require.NoError(t, err)
	assert.Equal(t, "my spec", string(data))

	// second run creates nothing
	res, err = Init(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Created)
}

func TestEnsureGitignore(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("node_modules/\n.env\n"), 0o644))

	added, err := EnsureGitignore(path, ".accdd/", ".env")
	require.NoError(t, err)
	assert.Equal(t, []string{".accdd/"}, added)

	added, err = EnsureGitignore(path, ".accdd/", ".env")
	require.NoError(t, err)
	assert.Empty(t, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "node_modules/\n.env\n\n.accdd/\n", string(data))
}

func TestPrompt_ProjectOverridesBundled(t *testing.T) {
	cfg := testConfig(t)

	def, err := Prompt(cfg, CoderInstruction)
	require.NoError(t, err)
	assert.Contains(t, def, "{{cycle_id}}")

	override := cfg.DocumentsPath(PromptsDir, CoderInstruction)
	require.NoError(t, os.MkdirAll(filepath.Dir(override), 0o755))
	require.NoError(t, os.WriteFile(override, []byte("custom {{cycle_id}}"), 0o644))

	got, err := Prompt(cfg, CoderInstruction)
	require.NoError(t, err)
	assert.Equal(t, "custom {{cycle_id}}", got)

	_, err = DefaultPrompt("MISSING.md")
	assert.Error(t, err)
}
