// Package changes applies file operations produced by coding agents.
//
// Operations are Create (write whole file) or Patch (replace a search block).
// Patches try an exact match first, then a whitespace-insensitive line
// window. A failed operation never aborts the rest of the batch.
package changes

import "errors"

// Errors for apply operations.
var (
	ErrNoMatch      = errors.New("search block not found")
	ErrFileNotFound = errors.New("target file not found")
	ErrUnsafePath   = errors.New("path escapes project root")
)

// FileOperation is a Create or a Patch. The set is closed.
type FileOperation interface {
	Target() string
	fileOperation()
}

// Create writes Content to Path, replacing any existing file.
type Create struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Patch replaces the first occurrence of Search in Path with Replace.
type Patch struct {
	Path    string `json:"path"`
	Search  string `json:"search_block"`
	Replace string `json:"replace_block"`
}

func (c Create) Target() string { return c.Path }
func (p Patch) Target() string  { return p.Path }

func (Create) fileOperation() {}
func (Patch) fileOperation()  {}

// Kind returns "create" or "patch".
func Kind(op FileOperation) string {
	switch op.(type) {
	case Create, *Create:
		return "create"
	case Patch, *Patch:
		return "patch"
	default:
		return "unknown"
	}
}
