package diff

import (
	"fmt"
	"path"
	"strings"
)

// excludeRule is one compiled exclude pattern. Three forms are supported:
//
//	*.tmp     glob matched against every path segment
//	name      literal matched against every path segment
//	build/    matches directories only, by name
type excludeRule struct {
	pattern string
	dirOnly bool
}

func compileExcludes(patterns []string) ([]excludeRule, error) {
	rules := make([]excludeRule, 0, len(patterns))
	for _, p := range patterns {
		dirOnly := strings.HasSuffix(p, "/")
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
		}
		// Reject patterns Match itself would refuse at walk time.
		if _, err := path.Match(p, "probe"); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, p, err)
		}
		rules = append(rules, excludeRule{pattern: p, dirOnly: dirOnly})
	}
	return rules, nil
}

// excluded reports whether any segment of rel (a slash-separated relative
// path) matches an exclude rule. isDir applies to the final segment; parent
// segments are always directories.
func excluded(rules []excludeRule, rel string, isDir bool) bool {
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		segIsDir := isDir || i < len(segments)-1
		for _, r := range rules {
			if r.dirOnly && !segIsDir {
				continue
			}
			if ok, _ := path.Match(r.pattern, seg); ok {
				return true
			}
		}
	}
	return false
}
