package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// maxScanBytes bounds the size of a single scanned file.
const maxScanBytes = 2 << 20

// Finding is a detected secret. Match holds the raw value and must never be
// logged or sent to an agent; use Preview instead.
type Finding struct {
	RuleID   string
	RuleDesc string
	File     string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Preview returns the first four characters of the match.
func (f Finding) Preview() string {
	if len(f.Match) <= 4 {
		return f.Match
	}
	return f.Match[:4]
}

// String describes the finding without the secret value.
func (f Finding) String() string {
	loc := fmt.Sprintf("line %d", f.Line)
	if f.File != "" {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("%s (%s) at %s", f.RuleDesc, f.RuleID, loc)
}

// Scanner holds a compiled Gitleaks configuration.
type Scanner struct {
	cfg gitleaksConfig.Config
}

// NewScanner loads the default Gitleaks rules plus allowlist.
func NewScanner(allowlist *Allowlist) (*Scanner, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if allowlist != nil {
		if err := applyAllowlist(&d.Config, allowlist); err != nil {
			return nil, err
		}
	}
	return &Scanner{cfg: d.Config}, nil
}

// Scan returns the secrets found in content.
func (s *Scanner) Scan(content string) []Finding {
	d := detect.NewDetector(s.cfg)
	found := d.DetectString(content)

	result := make([]Finding, 0, len(found))
	for _, f := range found {
		result = append(result, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return result
}

// ScanFiles scans each relative path under root. Missing files and
// allowlisted paths are skipped.
func (s *Scanner) ScanFiles(root string, paths []string) ([]Finding, error) {
	var all []Finding
	for _, p := range paths {
		if s.pathAllowed(p) {
			continue
		}
		full := filepath.Join(root, p)
		info, err := os.Stat(full)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if info.Size() > maxScanBytes {
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for _, f := range s.Scan(string(data)) {
			f.File = p
			all = append(all, f)
		}
	}
	return all, nil
}

func (s *Scanner) pathAllowed(path string) bool {
	for _, al := range s.cfg.Allowlists {
		for _, re := range al.Paths {
			if re.MatchString(path) {
				return true
			}
		}
	}
	return false
}

// Redact replaces every detected secret with a [REDACTED:rule:preview]
// marker and returns the audit of what was replaced.
func (s *Scanner) Redact(content string) (string, AuditLog) {
	findings := s.Scan(content)
	audit := buildAuditLog(findings)
	if len(findings) == 0 {
		return content, audit
	}
	return replaceFindings(content, findings), audit
}

// replaceFindings substitutes every occurrence of each match, longest
// first so overlapping matches never leave a partial secret behind.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})

	for _, f := range sorted {
		if f.Match == "" {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, f.Preview())
		content = strings.ReplaceAll(content, f.Match, marker)
	}
	return content
}

// applyAllowlist appends the allowlist as a global Gitleaks allowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{Description: "accdd project allowlist"}

	for _, p := range allowlist.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, p := range allowlist.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, p, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}
