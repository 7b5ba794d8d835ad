package apictx

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mockforge/mockforge/pkg/jsontree"
)

// DefaultKeyPatterns match identifier-like field names worth carrying across
// requests: ids, names, emails, SKUs, codes. Case-insensitive.
var DefaultKeyPatterns = []string{
	`(?i)^id$`,
	`(?i)id$`,
	`(?i)name$`,
	`(?i)email$`,
	`(?i)^sku$`,
	`(?i)^code$`,
}

// SharedKeyExtractor scans generated JSON for stable identifier-like fields.
// The pattern list is configurable so tests can pin deterministic behavior.
type SharedKeyExtractor struct {
	patterns []*regexp.Regexp
}

// NewSharedKeyExtractor compiles the given field-name patterns; nil falls
// back to the defaults.
func NewSharedKeyExtractor(exprs []string) (*SharedKeyExtractor, error) {
	if len(exprs) == 0 {
		exprs = DefaultKeyPatterns
	}
	ex := &SharedKeyExtractor{}
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile shared-key pattern %q: %w", expr, err)
		}
		ex.patterns = append(ex.patterns, re)
	}
	return ex, nil
}

// Extract walks body as JSON and records dotted path → string-serialized
// value for every string/number leaf whose key matches a pattern. Arrays
// index as [i]. Non-JSON bodies yield nothing.
func (ex *SharedKeyExtractor) Extract(body string) map[string]string {
	root, err := jsontree.ParseString(body)
	if err != nil {
		return nil
	}
	out := make(map[string]string)
	root.Walk(func(path string, n *jsontree.Node) {
		if path == "" {
			return
		}
		if n.Kind != jsontree.Str && n.Kind != jsontree.Num {
			return
		}
		if !ex.matches(leafKey(path)) {
			return
		}
		switch n.Kind {
		case jsontree.Str:
			out[path] = n.StrVal
		case jsontree.Num:
			out[path] = n.NumRaw
		}
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func (ex *SharedKeyExtractor) matches(key string) bool {
	if key == "" {
		return false
	}
	for _, re := range ex.patterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// leafKey returns the final member name of a dotted path, with any array
// index suffix removed ("users[2].userId" → "userId", "ids[0]" → "ids").
func leafKey(path string) string {
	if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
		path = path[idx+1:]
	}
	if idx := strings.IndexByte(path, '['); idx >= 0 {
		path = path[:idx]
	}
	return path
}
