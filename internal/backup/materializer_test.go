package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/otiai10/copy"

	"github.com/cavaliba/backupconf/internal/types"
)

func TestMaterializeFile(t *testing.T) {
	logger, _ := newTestLogger(t)
	src := filepath.Join(t.TempDir(), "etc", "app.conf")
	writeTestFile(t, src, "key=value\n")
	stage := t.TempDir()

	out, err := NewMaterializer(logger, stage).Materialize(context.Background(), src)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if out.Action != ActionCopied || out.Entry.Kind != types.EntryFile {
		t.Fatalf("unexpected outcome %+v", out)
	}
	want := stage + src
	if out.Destination != want {
		t.Fatalf("Destination = %q, want %q", out.Destination, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read staged file: %v", err)
	}
	if string(data) != "key=value\n" || out.Bytes != int64(len(data)) {
		t.Fatalf("staged content %q (bytes=%d)", data, out.Bytes)
	}
	info, err := os.Stat(filepath.Dir(want))
	if err != nil {
		t.Fatalf("stat staged parent: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Fatalf("staged parent perm = %o, want 700", perm)
	}
}

func TestMaterializeDirectoryDoesNotCopy(t *testing.T) {
	logger, _ := newTestLogger(t)
	src := filepath.Join(t.TempDir(), "a", "b", "d")
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(src, "inner.txt"), "inner")
	stage := t.TempDir()

	m := NewMaterializer(logger, stage)
	copies := 0
	m.copyFile = func(string, string, ...copy.Options) error {
		copies++
		return nil
	}

	out, err := m.Materialize(context.Background(), src)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if out.Action != ActionDirCreated || out.Entry.Kind != types.EntryDirectory {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if copies != 0 {
		t.Fatalf("directory entry must not copy, got %d copies", copies)
	}
	if out.Destination != stage+src {
		t.Fatalf("Destination = %q", out.Destination)
	}
	entries, err := os.ReadDir(out.Destination)
	if err != nil {
		t.Fatalf("read staged dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staged directory should be empty, got %d entries", len(entries))
	}
}

func TestMaterializeIsIdempotent(t *testing.T) {
	logger, _ := newTestLogger(t)
	src := filepath.Join(t.TempDir(), "secret.conf")
	writeTestFile(t, src, "v1")
	if err := os.Chmod(src, 0o400); err != nil {
		t.Fatal(err)
	}
	stage := t.TempDir()
	m := NewMaterializer(logger, stage)

	for i := 0; i < 2; i++ {
		if _, err := m.Materialize(context.Background(), src); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	entries, err := os.ReadDir(stage + filepath.Dir(src))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one staged file, got %d", len(entries))
	}
	data, err := os.ReadFile(stage + src)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Fatalf("staged content = %q", data)
	}
}

func TestMaterializeFollowsSymlinks(t *testing.T) {
	logger, _ := newTestLogger(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "real.conf")
	writeTestFile(t, target, "real")
	link := filepath.Join(dir, "link.conf")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	stage := t.TempDir()

	if _, err := NewMaterializer(logger, stage).Materialize(context.Background(), link); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	info, err := os.Lstat(stage + link)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatal("staged entry should be a regular file, not a link")
	}
	data, _ := os.ReadFile(stage + link)
	if string(data) != "real" {
		t.Fatalf("staged content = %q", data)
	}
}

func TestMaterializeFollowsRelativeSymlinks(t *testing.T) {
	logger, _ := newTestLogger(t)
	dir := t.TempDir()
	writeTestFile(t, filepath.Join(dir, "real.conf"), "real")
	writeTestFile(t, filepath.Join(dir, "shared", "site.conf"), "site")
	writeTestFile(t, filepath.Join(dir, "enabled", "placeholder"), "")

	links := map[string]string{
		filepath.Join(dir, "link.conf"):            "real.conf",
		filepath.Join(dir, "enabled", "site.conf"): "../shared/site.conf",
	}
	for link, target := range links {
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
	}
	want := map[string]string{
		filepath.Join(dir, "link.conf"):            "real",
		filepath.Join(dir, "enabled", "site.conf"): "site",
	}

	stage := t.TempDir()
	m := NewMaterializer(logger, stage)
	for link, content := range want {
		out, err := m.Materialize(context.Background(), link)
		if err != nil {
			t.Fatalf("Materialize(%s): %v", link, err)
		}
		if out.Action != ActionCopied || out.Destination != stage+link {
			t.Fatalf("unexpected outcome %+v", out)
		}
		data, err := os.ReadFile(stage + link)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != content {
			t.Fatalf("staged %s = %q, want %q", link, data, content)
		}
	}
}

func TestMaterializeErrors(t *testing.T) {
	logger, _ := newTestLogger(t)
	stage := t.TempDir()

	t.Run("missing source", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "gone")
		out, err := NewMaterializer(logger, stage).Materialize(context.Background(), missing)
		var merr *MaterializeError
		if !errors.As(err, &merr) {
			t.Fatalf("expected *MaterializeError, got %v", err)
		}
		if merr.Source != missing || !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("unexpected error %+v", merr)
		}
		if out.Action != ActionFailed {
			t.Fatalf("Action = %s", out.Action)
		}
	})

	t.Run("copy failure", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "x.conf")
		writeTestFile(t, src, "x")
		boom := errors.New("disk full")
		m := NewMaterializer(logger, stage)
		m.copyFile = func(string, string, ...copy.Options) error { return boom }

		_, err := m.Materialize(context.Background(), src)
		var merr *MaterializeError
		if !errors.As(err, &merr) || !errors.Is(err, boom) {
			t.Fatalf("expected wrapped copy error, got %v", err)
		}
		if merr.Destination != stage+src {
			t.Fatalf("Destination = %q", merr.Destination)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewMaterializer(logger, stage).Materialize(ctx, "/etc/hosts")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
