package attachment

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNamer_Name(t *testing.T) {
	t.Parallel()

	n := NewNamer("")
	n.now = func() time.Time { return time.UnixMilli(1712345678901) }
	n.random = func() int { return 12345678 }

	tests := []struct {
		name     string
		index    int
		original string
		want     string
	}{
		{name: "with extension", index: 0, original: "photo.JPG", want: "image_1712345678901_12345678_1.JPG"},
		{name: "third attachment", index: 2, original: "doc.pdf", want: "image_1712345678901_12345678_3.pdf"},
		{name: "no extension", index: 0, original: "README", want: "image_1712345678901_12345678_1"},
		{name: "path components dropped", index: 0, original: "../../etc/passwd.txt", want: "image_1712345678901_12345678_1.txt"},
		{name: "unsafe extension dropped", index: 0, original: "evil.p$p", want: "image_1712345678901_12345678_1"},
		{name: "empty name", index: 0, original: "", want: "image_1712345678901_12345678_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := n.Name(tt.index, tt.original); got != tt.want {
				t.Errorf("Name(%d, %q): got %q, want %q", tt.index, tt.original, got, tt.want)
			}
		})
	}
}

func TestNamer_CustomPrefix(t *testing.T) {
	t.Parallel()

	n := NewNamer("upload")
	n.now = func() time.Time { return time.UnixMilli(1) }
	n.random = func() int { return 2 }

	if got := n.Name(0, "a.png"); got != "upload_1_2_1.png" {
		t.Errorf("Name: got %q, want %q", got, "upload_1_2_1.png")
	}
}

func TestNamer_RandomRange(t *testing.T) {
	t.Parallel()

	n := NewNamer("")
	for i := 0; i < 1000; i++ {
		if v := n.random(); v < 0 || v >= 1e8 {
			t.Fatalf("random value %d out of range [0, 1e8)", v)
		}
	}
}

func TestStore_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "uploads")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("store directory not created: %v", err)
	}

	// Idempotent
	if _, err := NewStore(dir); err != nil {
		t.Fatalf("second NewStore: %v", err)
	}
	if store.Dir() != dir {
		t.Errorf("Dir(): got %q, want %q", store.Dir(), dir)
	}
}

func TestStore_CommitNeverOverwrites(t *testing.T) {
	t.Parallel()

	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	existing := store.Path("taken.txt")
	if err := os.WriteFile(existing, []byte("original"), 0o644); err != nil {
		t.Fatalf("failed to write existing file: %v", err)
	}

	tmp, err := store.CreateTemp()
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := tmp.WriteString("replacement"); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	tmp.Close()

	_, err = store.Commit(tmp.Name(), "taken.txt")
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist, got %v", err)
	}

	got, err := os.ReadFile(existing)
	if err != nil {
		t.Fatalf("read existing: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("existing file was overwritten: %q", got)
	}

	path, err := store.Commit(tmp.Name(), "free.txt")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(tmp.Name()); !os.IsNotExist(err) {
		t.Errorf("temporary file should be removed after commit, stat err: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read committed: %v", err)
	}
	if string(got) != "replacement" {
		t.Errorf("committed content: got %q, want %q", got, "replacement")
	}
}

func TestKind_String(t *testing.T) {
	t.Parallel()

	if KindUpload.String() != "upload" {
		t.Errorf("KindUpload: got %q", KindUpload.String())
	}
	if KindInline.String() != "inline" {
		t.Errorf("KindInline: got %q", KindInline.String())
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("Kind(99): got %q", Kind(99).String())
	}
}
