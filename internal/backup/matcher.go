package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrBadPattern is returned for patterns that cannot be parsed.
var ErrBadPattern = doublestar.ErrBadPattern

// Matcher expands one absolute pattern into concrete paths.
type Matcher interface {
	Expand(pattern string) ([]string, error)
}

// PathMatcher expands glob patterns against the local filesystem.
//
// `**` matches any number of directories but never descends into hidden
// ones. Wildcards never match a name starting with a dot: below the static
// part of the pattern, a hidden component is only kept when the pattern
// segment at the same depth itself starts with a dot (`/root/.*`,
// `/home/*/.bashrc`). A trailing slash restricts matches to directories.
type PathMatcher struct {
	glob func(pattern string, opts ...doublestar.GlobOption) ([]string, error)
	stat func(string) (os.FileInfo, error)
}

// NewPathMatcher returns a matcher working on the real filesystem.
func NewPathMatcher() *PathMatcher {
	return &PathMatcher{glob: doublestar.FilepathGlob, stat: os.Stat}
}

// Expand returns the sorted, deduplicated list of files and directories
// matching pattern. No match yields an empty slice and a nil error.
func (m *PathMatcher) Expand(pattern string) ([]string, error) {
	dirOnly := len(pattern) > 1 && strings.HasSuffix(pattern, "/")
	cleaned := filepath.ToSlash(filepath.Clean(pattern))
	if !doublestar.ValidatePattern(cleaned) {
		return nil, fmt.Errorf("%w: %s", ErrBadPattern, pattern)
	}

	matches, err := m.glob(cleaned)
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			return nil, fmt.Errorf("%w: %s", ErrBadPattern, pattern)
		}
		return nil, fmt.Errorf("expand %s: %w", pattern, err)
	}

	base, rest := doublestar.SplitPattern(cleaned)
	segments := strings.Split(rest, "/")
	keep := func(match string) bool {
		return visible(segments, relativeComponents(base, match))
	}
	if !segmentsValid(segments) {
		// A brace alternative spans several segments: fall back to
		// letting any dot segment admit hidden names.
		keep = func(match string) bool {
			return visibleAnyDepth(segments, relativeComponents(base, match))
		}
	}

	seen := make(map[string]struct{}, len(matches))
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		if !keep(match) {
			continue
		}
		if dirOnly {
			if info, err := m.stat(match); err != nil || !info.IsDir() {
				continue
			}
		}
		result = append(result, match)
	}
	sort.Strings(result)
	return result, nil
}

func relativeComponents(base, match string) []string {
	rel := filepath.ToSlash(match)
	if base != "." {
		rel = strings.TrimPrefix(rel, base)
	}
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

// visible reports whether comps can be matched by segments so that every
// hidden component lines up with a segment starting with a dot. `**` may
// consume zero or more non-hidden components.
func visible(segments, comps []string) bool {
	if len(segments) == 0 {
		return len(comps) == 0
	}
	seg := segments[0]
	if seg == "**" {
		if visible(segments[1:], comps) {
			return true
		}
		return len(comps) > 0 && !isHidden(comps[0]) && visible(segments, comps[1:])
	}
	if len(comps) == 0 {
		return false
	}
	if isHidden(comps[0]) && !strings.HasPrefix(seg, ".") {
		return false
	}
	if ok, _ := doublestar.Match(seg, comps[0]); !ok {
		return false
	}
	return visible(segments[1:], comps[1:])
}

func segmentsValid(segments []string) bool {
	for _, seg := range segments {
		if !doublestar.ValidatePattern(seg) {
			return false
		}
	}
	return true
}

func visibleAnyDepth(segments, comps []string) bool {
	for _, comp := range comps {
		if !isHidden(comp) {
			continue
		}
		allowed := false
		for _, seg := range segments {
			if !strings.HasPrefix(seg, ".") {
				continue
			}
			if ok, _ := doublestar.Match(seg, comp); ok {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}
