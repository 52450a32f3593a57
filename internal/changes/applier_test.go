package changes

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

type mockConfirmer struct {
	mock.Mock
}

func (m *mockConfirmer) Confirm(ctx context.Context, path, diff string) (bool, error) {
	args := m.Called(ctx, path, diff)
	return args.Bool(0), args.Error(1)
}

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) RecordChange(op, result string) {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[op+"/"+result]++
}

func newApplier(t *testing.T, opts ...Option) (*Applier, string, *logging.TestLogger) {
	t.Helper()
	root := t.TempDir()
	tl := logging.NewTestLogger()
	opts = append([]Option{WithTTYCheck(func() bool { return false })}, opts...)
	return NewApplier(root, tl.Logger, opts...), root, tl
}

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func readTestFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, rel))
	require.NoError(t, err)
	return string(data)
}

func TestApply_CreateNewFileMakesParents(t *testing.T) {
	a, root, _ := newApplier(t)
	res := a.Apply(context.Background(), []FileOperation{
		Create{Path: "src/pkg/new.py", Content: "print('hi')\n"},
	}, Options{})

	require.NoError(t, res.Err())
	assert.Equal(t, []string{"src/pkg/new.py"}, res.Applied)
	assert.Equal(t, "print('hi')\n", readTestFile(t, root, "src/pkg/new.py"))
}

func TestApply_CreateEmptyNewFile(t *testing.T) {
	a, root, _ := newApplier(t)
	res := a.Apply(context.Background(), []FileOperation{Create{Path: "pkg/__init__.py"}}, Options{})

	assert.Equal(t, []string{"pkg/__init__.py"}, res.Applied)
	assert.Equal(t, "", readTestFile(t, root, "pkg/__init__.py"))
}

func TestApply_CreateOverwritesAndSkipsIdentical(t *testing.T) {
	a, root, tl := newApplier(t)
	writeTestFile(t, root, "a.txt", "old\n")

	res := a.Apply(context.Background(), []FileOperation{
		Create{Path: "a.txt", Content: "new\n"},
		Create{Path: "a.txt", Content: "new\n"},
	}, Options{})

	assert.Equal(t, []string{"a.txt"}, res.Applied)
	assert.Equal(t, []string{"a.txt"}, res.Skipped)
	assert.Equal(t, "new\n", readTestFile(t, root, "a.txt"))
	tl.AssertLogged(t, zapcore.InfoLevel, "no changes")
}

func TestApply_PatchExact(t *testing.T) {
	a, root, _ := newApplier(t)
	writeTestFile(t, root, "main.py", "def f():\n    return 1\n\ndef g():\n    return 1\n")

	res := a.Apply(context.Background(), []FileOperation{
		Patch{Path: "main.py", Search: "    return 1\n", Replace: "    return 2\n"},
	}, Options{})

	require.NoError(t, res.Err())
	assert.Equal(t, "def f():\n    return 2\n\ndef g():\n    return 1\n", readTestFile(t, root, "main.py"),
		"only the first occurrence is replaced")

	writeTestFile(t, root, "list.txt", "a\nb\nc\n")
	res = a.Apply(context.Background(), []FileOperation{
		Patch{Path: "list.txt", Search: "b\n", Replace: "X"},
	}, Options{})
	require.NoError(t, res.Err())
	assert.Equal(t, "a\nXc\n", readTestFile(t, root, "list.txt"), "verbatim match adds no line ending")
}

func TestApply_PatchFuzzyWhitespace(t *testing.T) {
	a, root, _ := newApplier(t)
	writeTestFile(t, root, "main.py", "class A:\n    def run(self):\n        x = 1\n        return x\n")

	res := a.Apply(context.Background(), []FileOperation{
		Patch{
			Path:    "main.py",
			Search:  "def run(self):\n  x = 1  \nreturn x",
			Replace: "    def run(self):\n        return 42",
		},
	}, Options{})

	require.NoError(t, res.Err())
	assert.Equal(t, "class A:\n    def run(self):\n        return 42\n", readTestFile(t, root, "main.py"))
}

func TestApply_PatchErrorsContinueBatch(t *testing.T) {
	rec := &countingRecorder{}
	a, root, tl := newApplier(t, WithRecorder(rec))
	writeTestFile(t, root, "keep.py", "a = 1\n")
	writeTestFile(t, root, "ok.py", "b = 1\n")

	res := a.Apply(context.Background(), []FileOperation{
		Patch{Path: "missing.py", Search: "x", Replace: "y"},
		Patch{Path: "keep.py", Search: "zzz", Replace: "y"},
		Patch{Path: "keep.py", Search: "  \n", Replace: "y"},
		Patch{Path: "ok.py", Search: "b = 1", Replace: "b = 2"},
	}, Options{})

	require.Len(t, res.Errors, 3)
	assert.ErrorIs(t, res.Errors[0], ErrFileNotFound)
	assert.ErrorIs(t, res.Errors[1], ErrNoMatch)
	assert.ErrorIs(t, res.Errors[2], ErrNoMatch)
	assert.ErrorIs(t, res.Err(), ErrNoMatch)
	assert.Equal(t, []string{"ok.py"}, res.Applied)
	assert.Equal(t, "a = 1\n", readTestFile(t, root, "keep.py"))
	assert.Equal(t, "b = 2\n", readTestFile(t, root, "ok.py"))
	assert.Equal(t, 3, rec.counts["patch/failed"])
	assert.Equal(t, 1, rec.counts["patch/applied"])
	tl.AssertLogged(t, zapcore.ErrorLevel, "file operation failed")
}

func TestApply_RejectsUnsafePaths(t *testing.T) {
	a, _, _ := newApplier(t)
	res := a.Apply(context.Background(), []FileOperation{
		Create{Path: "../escape.txt", Content: "x"},
		Create{Path: "/etc/passwd", Content: "x"},
		Create{Path: "", Content: "x"},
	}, Options{})

	require.Len(t, res.Errors, 3)
	for _, e := range res.Errors {
		assert.ErrorIs(t, e, ErrUnsafePath)
	}
}

func TestApply_DryRunWritesNothing(t *testing.T) {
	confirmer := &mockConfirmer{}
	a, root, _ := newApplier(t, WithConfirmer(confirmer), WithTTYCheck(func() bool { return true }))
	writeTestFile(t, root, "a.txt", "old\n")

	res := a.Apply(context.Background(), []FileOperation{
		Create{Path: "a.txt", Content: "new\n"},
		Create{Path: "b.txt", Content: "b\n"},
	}, Options{DryRun: true, Interactive: true})

	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Applied)
	assert.Equal(t, "old\n", readTestFile(t, root, "a.txt"))
	_, err := os.Stat(filepath.Join(root, "b.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	confirmer.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_InteractiveDeclineSkipsOnlyThatFile(t *testing.T) {
	confirmer := &mockConfirmer{}
	confirmer.On("Confirm", mock.Anything, "a.txt", mock.MatchedBy(func(d string) bool {
		return strings.Contains(d, "-old") && strings.Contains(d, "+new")
	})).Return(false, nil)
	confirmer.On("Confirm", mock.Anything, "b.txt", mock.Anything).Return(true, nil)

	a, root, _ := newApplier(t, WithConfirmer(confirmer), WithTTYCheck(func() bool { return true }))
	writeTestFile(t, root, "a.txt", "old\n")

	res := a.Apply(context.Background(), []FileOperation{
		Create{Path: "a.txt", Content: "new\n"},
		Create{Path: "b.txt", Content: "b\n"},
	}, Options{Interactive: true})

	assert.Equal(t, []string{"b.txt"}, res.Applied)
	assert.Equal(t, []string{"a.txt"}, res.Skipped)
	assert.Equal(t, "old\n", readTestFile(t, root, "a.txt"))
	assert.Equal(t, "b\n", readTestFile(t, root, "b.txt"))
	confirmer.AssertExpectations(t)
}

func TestApply_InteractiveWithoutTTYAppliesDirectly(t *testing.T) {
	confirmer := &mockConfirmer{}
	a, root, _ := newApplier(t, WithConfirmer(confirmer))

	res := a.Apply(context.Background(), []FileOperation{Create{Path: "a.txt", Content: "x"}}, Options{Interactive: true})

	assert.Equal(t, []string{"a.txt"}, res.Applied)
	assert.Equal(t, "x", readTestFile(t, root, "a.txt"))
	confirmer.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything, mock.Anything)
}

func TestApply_CancelledContext(t *testing.T) {
	a, _, _ := newApplier(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.Apply(ctx, []FileOperation{Create{Path: "a.txt", Content: "x"}}, Options{})
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[0], context.Canceled)
}

func TestApply_PointerOperations(t *testing.T) {
	a, root, _ := newApplier(t)
	writeTestFile(t, root, "a.txt", "hello world\n")

	res := a.Apply(context.Background(), []FileOperation{
		&Patch{Path: "a.txt", Search: "world", Replace: "there"},
		&Create{Path: "b.txt", Content: "b"},
	}, Options{})

	require.NoError(t, res.Err())
	assert.Equal(t, "hello there\n", readTestFile(t, root, "a.txt"))
	assert.Equal(t, "patch", Kind(&Patch{}))
	assert.Equal(t, "create", Kind(Create{}))
}

func TestTerminalConfirmer(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewTerminalConfirmer(strings.NewReader("y\nno\n"), out)

	ok, err := c.Confirm(context.Background(), "a.txt", "+x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "Apply changes to a.txt?")

	ok, err = c.Confirm(context.Background(), "a.txt", "+x")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Confirm(context.Background(), "a.txt", "+x")
	require.NoError(t, err)
	assert.False(t, ok, "EOF declines")
}

func TestUnifiedDiff(t *testing.T) {
	d := UnifiedDiff("x.py", "a\nb\n", "a\nc\n")
	assert.Contains(t, d, "--- a/x.py")
	assert.Contains(t, d, "+++ b/x.py")
	assert.Contains(t, d, "-b")
	assert.Contains(t, d, "+c")
}
