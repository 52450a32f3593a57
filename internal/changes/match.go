package changes

import "strings"

// findBlock locates search in content. It returns byte offsets of the
// matched region, or ok=false. An empty or all-whitespace block never matches.
func findBlock(content, search string) (start, end int, ok bool) {
	if strings.TrimSpace(search) == "" {
		return 0, 0, false
	}
	if i := strings.Index(content, search); i >= 0 {
		return i, i + len(search), true
	}
	return fuzzyFind(content, search)
}

// fuzzyFind compares line windows with each line trimmed of surrounding
// whitespace. The matched region covers whole lines including line endings.
func fuzzyFind(content, search string) (start, end int, ok bool) {
	contentLines := splitLines(content)
	searchLines := splitLines(search)
	n := len(searchLines)
	if n == 0 || n > len(contentLines) {
		return 0, 0, false
	}

	want := make([]string, n)
	for i, l := range searchLines {
		want[i] = strings.TrimSpace(l)
	}

	offsets := make([]int, len(contentLines)+1)
	for i, l := range contentLines {
		offsets[i+1] = offsets[i] + len(l)
	}

	for i := 0; i+n <= len(contentLines); i++ {
		matched := true
		for j := 0; j < n; j++ {
			if strings.TrimSpace(contentLines[i+j]) != want[j] {
				matched = false
				break
			}
		}
		if matched {
			return offsets[i], offsets[i+n], true
		}
	}
	return 0, 0, false
}

// splitLines splits s after each "\n", keeping line endings.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// applyPatch returns content with the first match of search replaced. A
// verbatim match is a plain string replacement. A fuzzy match spans whole
// lines, so the replacement keeps the region's final line ending.
func applyPatch(content, search, replace string) (string, bool) {
	start, end, ok := findBlock(content, search)
	if !ok {
		return content, false
	}
	region := content[start:end]
	if region != search && strings.HasSuffix(region, "\n") && !strings.HasSuffix(replace, "\n") {
		replace += "\n"
	}
	return content[:start] + replace + content[end:], true
}
