package jules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/accdd/internal/changes"
)

func TestParseFileBlocks(t *testing.T) {
	text := "Here you go.\n" +
		"FILENAME: dev_documents/SYSTEM_ARCHITECTURE.md\n```markdown\n# Arch\n```\n" +
		"and\nFILENAME:   src/app.py  \n```python\nprint(1)\n```\n" +
		"FILENAME: empty.txt\n```\n```\n"

	ops := ParseFileBlocks(text)
	require.Len(t, ops, 3)
	assert.Equal(t, changes.Create{Path: "dev_documents/SYSTEM_ARCHITECTURE.md", Content: "# Arch\n"}, ops[0])
	assert.Equal(t, changes.Create{Path: "src/app.py", Content: "print(1)\n"}, ops[1])
	assert.Equal(t, changes.Create{Path: "empty.txt", Content: ""}, ops[2])

	assert.Empty(t, ParseFileBlocks("no blocks here"))
}

func TestParseFileBlocks_Patches(t *testing.T) {
	text := "Updating greeting.\n" +
		"PATCH: src/app.py\n<<<<<<< SEARCH\ndef greet():\n    return \"hi\"\n=======\ndef greet():\n    return \"Hello World\"\n>>>>>>> REPLACE\n" +
		"FILENAME: tests/test_app.py\n```python\nassert greet()\n```\n" +
		"PATCH: README.md\n<<<<<<< SEARCH\nx = a==b\n=======\n>>>>>>> REPLACE\n"

	ops := ParseFileBlocks(text)
	require.Len(t, ops, 3)
	assert.Equal(t, changes.Patch{
		Path:    "src/app.py",
		Search:  "def greet():\n    return \"hi\"\n",
		Replace: "def greet():\n    return \"Hello World\"\n",
	}, ops[0])
	assert.Equal(t, changes.Create{Path: "tests/test_app.py", Content: "assert greet()\n"}, ops[1])
	assert.Equal(t, changes.Patch{Path: "README.md", Search: "x = a==b\n", Replace: ""}, ops[2],
		"separator only counts at the start of a line")
}

func TestParseFileBlocks_UnterminatedPatchIgnored(t *testing.T) {
	assert.Empty(t, ParseFileBlocks("PATCH: a.py\n<<<<<<< SEARCH\nx\n=======\ny\n"))
}

func TestFindSignal(t *testing.T) {
	sig, ok := FindSignal("SIGNAL\n```json\n{\"status\": \"completed\", \"cycle\": \"01\"}\n```")
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"completed","cycle":"01"}`, string(sig))

	sig, ok = FindSignal(`{"status":"running"} then {"x": {"y": 1}, "status": "completed"} trailing }`)
	require.True(t, ok)
	assert.JSONEq(t, `{"x":{"y":1},"status":"completed"}`, string(sig))

	_, ok = FindSignal(`{"status":"running"}`)
	assert.False(t, ok)

	_, ok = FindSignal(`"completed" but {broken json`)
	assert.False(t, ok)
}

func TestActivityLog_DedupesAndCollects(t *testing.T) {
	l := newActivityLog()
	n := l.add([]Activity{
		{Name: "a1", Text: "FILENAME: a.py\n```py\nA\n```\n"},
		{Name: "a2", Text: "thinking"},
	})
	assert.Equal(t, 2, n)

	n = l.add([]Activity{
		{Name: "a1", Text: "FILENAME: a.py\n```py\nA\n```\n"},
		{Name: "a3", Text: `SIGNAL {"status": "completed"}`},
		{Name: "a4"},
	})
	assert.Equal(t, 2, n)
	assert.Len(t, l.ops, 1)
	assert.JSONEq(t, `{"status":"completed"}`, string(l.signal))
	assert.Contains(t, l.output.String(), "thinking")
}
