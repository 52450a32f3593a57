package jules

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/accdd/internal/changes"
)

// fileBlockPattern matches a whole-file block:
//
//	FILENAME: path/to/file
//	```ext
//	content
//	```
var fileBlockPattern = regexp.MustCompile("(?s)FILENAME:[ \\t]*([^\\n]+)\\n```\\w*\\n(.*?)```")

// patchBlockPattern matches an edit of an existing file:
//
//	PATCH: path/to/file
//	<<<<<<< SEARCH
//	exact lines to find
//	=======
//	replacement lines
//	>>>>>>> REPLACE
//
// The markers must start a line. SEARCH text runs up to and including the
// line break before "=======".
var patchBlockPattern = regexp.MustCompile("(?sm)PATCH:[ \\t]*([^\\n]+)\\n<<<<<<< SEARCH\\n(.*?)^=======\\n(.*?)^>>>>>>> REPLACE")

// ParseFileBlocks turns FILENAME blocks into Create operations and PATCH
// blocks into Patch operations, in the order they appear in text.
func ParseFileBlocks(text string) []changes.FileOperation {
	type located struct {
		at int
		op changes.FileOperation
	}
	var found []located

	for _, m := range fileBlockPattern.FindAllStringSubmatchIndex(text, -1) {
		path := strings.TrimSpace(text[m[2]:m[3]])
		if path == "" {
			continue
		}
		found = append(found, located{m[0], changes.Create{Path: path, Content: text[m[4]:m[5]]}})
	}
	for _, m := range patchBlockPattern.FindAllStringSubmatchIndex(text, -1) {
		path := strings.TrimSpace(text[m[2]:m[3]])
		if path == "" {
			continue
		}
		found = append(found, located{m[0], changes.Patch{
			Path:    path,
			Search:  text[m[4]:m[5]],
			Replace: text[m[6]:m[7]],
		}})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].at < found[j].at })
	ops := make([]changes.FileOperation, 0, len(found))
	for _, f := range found {
		ops = append(ops, f.op)
	}
	return ops
}

// FindSignal returns the first JSON object in text whose "status" is
// "completed", as raw bytes.
func FindSignal(text string) (json.RawMessage, bool) {
	if !strings.Contains(text, `"completed"`) {
		return nil, false
	}
	for i := strings.IndexByte(text, '{'); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err == nil {
			var status string
			if raw, ok := obj["status"]; ok && json.Unmarshal(raw, &status) == nil && status == "completed" {
				return json.RawMessage(text[i : i+int(dec.InputOffset())]), true
			}
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

// activityLog accumulates unseen activities for one wait.
type activityLog struct {
	seen   map[string]bool
	output strings.Builder
	ops    []changes.FileOperation
	signal json.RawMessage
}

func newActivityLog() *activityLog {
	return &activityLog{seen: make(map[string]bool)}
}

// add processes new activities and reports how many were unseen.
func (l *activityLog) add(activities []Activity) int {
	added := 0
	for _, a := range activities {
		key := a.Name
		if key == "" {
			key = a.Content()
		}
		if l.seen[key] {
			continue
		}
		l.seen[key] = true
		added++

		text := a.Content()
		if text == "" {
			continue
		}
		if l.output.Len() > 0 {
			l.output.WriteString("\n")
		}
		l.output.WriteString(text)
		l.ops = append(l.ops, ParseFileBlocks(text)...)
		if l.signal == nil {
			if sig, ok := FindSignal(text); ok {
				l.signal = sig
			}
		}
	}
	return added
}
