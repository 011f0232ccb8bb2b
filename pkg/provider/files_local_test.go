package provider

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFilesResolve(t *testing.T) {
	root := t.TempDir()
	f := NewLocalFiles(root)

	t.Run("traversal segment rejected", func(t *testing.T) {
		for _, p := range []string{"../etc/passwd", "a/../../b", "..", "sub/.."} {
			if _, err := f.resolve(p); err == nil {
				t.Errorf("resolve(%q) accepted a traversal path", p)
			}
		}
	})

	t.Run("absolute outside root rejected", func(t *testing.T) {
		if _, err := f.resolve("/etc/passwd"); err == nil {
			t.Error("resolve() accepted an absolute path outside the root")
		}
	})

	t.Run("relative resolves under root", func(t *testing.T) {
		p, err := f.resolve("sub/file.txt")
		if err != nil {
			t.Fatalf("resolve() error = %v", err)
		}
		if want := filepath.Join(root, "sub/file.txt"); p != want {
			t.Errorf("resolve() = %q, want %q", p, want)
		}
	})

	t.Run("absolute inside root accepted", func(t *testing.T) {
		if _, err := f.resolve(filepath.Join(root, "x")); err != nil {
			t.Errorf("resolve() error = %v", err)
		}
	})
}

func TestLocalFilesRoundTrip(t *testing.T) {
	f := NewLocalFiles(t.TempDir())
	body := []byte("hello agent")

	n, err := f.Write("docs/note.txt", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != int64(len(body)) {
		t.Errorf("Write() = %d bytes, want %d", n, len(body))
	}

	rc, fi, err := f.Open("docs/note.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	if fi.Size != int64(len(body)) {
		t.Errorf("Open() size = %d", fi.Size)
	}

	ok, err := f.Exists("docs/note.txt")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v", ok, err)
	}

	sum := sha256.Sum256(body)
	hash, err := f.Hash("docs/note.txt")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hash != hex.EncodeToString(sum[:]) {
		t.Errorf("Hash() = %s", hash)
	}

	entries, err := f.List("docs")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "note.txt" {
		t.Errorf("List() = %+v", entries)
	}

	if err := f.Delete("docs"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := f.Exists("docs"); ok {
		t.Error("Delete() left the directory behind")
	}
}

func TestLocalFilesSearch(t *testing.T) {
	dir := t.TempDir()
	f := NewLocalFiles(dir)
	for _, name := range []string{"a/report.pdf", "a/b/report-final.pdf", "a/b/photo.jpg"} {
		full := filepath.Join(dir, name)
		os.MkdirAll(filepath.Dir(full), 0o755)
		os.WriteFile(full, []byte("x"), 0o644)
	}

	t.Run("substring", func(t *testing.T) {
		hits, err := f.Search("a", "report", false, 0)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(hits) != 2 {
			t.Errorf("Search() = %d hits, want 2", len(hits))
		}
	})

	t.Run("regex", func(t *testing.T) {
		hits, err := f.Search("a", `\.jpg$`, true, 0)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(hits) != 1 {
			t.Errorf("Search() = %d hits, want 1", len(hits))
		}
	})

	t.Run("limit", func(t *testing.T) {
		hits, err := f.Search("a", "", false, 1)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(hits) != 1 {
			t.Errorf("Search() = %d hits, want 1", len(hits))
		}
	})

	t.Run("bad regex", func(t *testing.T) {
		if _, err := f.Search("a", "(", true, 0); err == nil {
			t.Error("Search() accepted an invalid regex")
		}
	})
}

func TestMemorySMSConversations(t *testing.T) {
	sms := NewMemorySMS(
		Message{ID: 1, ThreadID: 7, Address: "+1555", Body: "first", Date: 100},
		Message{ID: 2, ThreadID: 7, Address: "+1555", Body: "second", Date: 200},
		Message{ID: 3, ThreadID: 9, Address: "+1666", Body: "other", Date: 150},
	)

	convs, err := sms.Conversations()
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("Conversations() = %d, want 2", len(convs))
	}
	if convs[0].ThreadID != 7 || convs[0].Snippet != "second" || convs[0].MessageCount != 2 {
		t.Errorf("Conversations()[0] = %+v", convs[0])
	}
}

func TestMemorySMSPagination(t *testing.T) {
	sms := NewMemorySMS(
		Message{ID: 1, ThreadID: 1, Address: "a", Date: 1},
		Message{ID: 2, ThreadID: 1, Address: "a", Date: 2},
		Message{ID: 3, ThreadID: 1, Address: "a", Date: 3},
	)

	page, err := sms.List(2, 1)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != 2 {
		t.Errorf("List(2,1) = %+v", page)
	}

	empty, err := sms.List(10, 99)
	if err != nil || len(empty) != 0 {
		t.Errorf("List() past the end = %+v, %v", empty, err)
	}
}
