package backup

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestPathMatcherExpand(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{
		"etc/a.conf",
		"etc/sub/b.conf",
		"etc/.git/c.conf",
		"etc/.hidden.conf",
		"home/u/.bashrc",
		"home/u/notes",
		"dot/.a/x",
		"dot/.a/.b",
	} {
		writeTestFile(t, filepath.Join(root, rel), rel)
	}
	abs := func(rels ...string) []string {
		out := make([]string, 0, len(rels))
		for _, r := range rels {
			out = append(out, filepath.Join(root, r))
		}
		return out
	}

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{"single star skips dotfiles", "etc/*.conf", abs("etc/a.conf")},
		{"star returns directories", "etc/*", abs("etc/a.conf", "etc/sub")},
		{"recursive skips hidden dirs", "etc/**/*.conf", abs("etc/a.conf", "etc/sub/b.conf")},
		{"dot segment matches dotfiles", "etc/.*", abs("etc/.git", "etc/.hidden.conf")},
		{"explicit hidden file", "home/*/.bashrc", abs("home/u/.bashrc")},
		{"dot segment only admits its own depth", "dot/.*/*", abs("dot/.a/x")},
		{"dot segment at each depth", "dot/.*/.*", abs("dot/.a/.b")},
		{"recursive never enters hidden dirs", "dot/**", abs("dot")},
		{"literal path", "home/u/notes", abs("home/u/notes")},
		{"brace duplicates collapse", "etc/{a,a}.conf", abs("etc/a.conf")},
		{"no match", "nothing/*", []string{}},
	}

	m := NewPathMatcher()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Expand(filepath.Join(root, tt.pattern))
			if err != nil {
				t.Fatalf("Expand: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Expand(%s) = %v, want %v", tt.pattern, got, tt.want)
			}
		})
	}
}

func TestPathMatcherTrailingSlashMatchesDirectories(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, "d", "top.conf"), "x")
	writeTestFile(t, filepath.Join(root, "d", "sub", "deep", "f.conf"), "x")
	writeTestFile(t, filepath.Join(root, "d", ".git", "config"), "x")

	got, err := NewPathMatcher().Expand(filepath.Join(root, "d") + "/**/")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := map[string]bool{
		filepath.Join(root, "d", "sub"):         true,
		filepath.Join(root, "d", "sub", "deep"): true,
	}
	found := 0
	for _, p := range got {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			t.Fatalf("%s is not a directory (%v)", p, err)
		}
		if strings.Contains(p, ".git") {
			t.Fatalf("hidden directory returned: %s", p)
		}
		if want[p] {
			found++
		}
	}
	if found != len(want) {
		t.Fatalf("Expand = %v, want it to include %v", got, want)
	}

	files, err := NewPathMatcher().Expand(filepath.Join(root, "d", "*.conf") + "/")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("a trailing slash must not return files, got %v", files)
	}
}

func TestPathMatcherHiddenBaseIsNotFiltered(t *testing.T) {
	root := t.TempDir()
	writeTestFile(t, filepath.Join(root, ".config", "app.conf"), "x")

	got, err := NewPathMatcher().Expand(filepath.Join(root, ".config", "*.conf"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the file under a hidden static base, got %v", got)
	}
}

func TestPathMatcherBadPattern(t *testing.T) {
	_, err := NewPathMatcher().Expand("/etc/[")
	if !errors.Is(err, ErrBadPattern) {
		t.Fatalf("expected ErrBadPattern, got %v", err)
	}
}
