package fsops

import (
	"testing"

	"github.com/spf13/afero"
)

func TestMoveTreePreservesRelativePaths(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/src/a.txt", []byte("a"), 0o644)
	_ = afero.WriteFile(fsys, "/src/sub/b.txt", []byte("b"), 0o644)

	if err := MoveTree(fsys, "/src", "/dst", false); err != nil {
		t.Fatalf("MoveTree: %v", err)
	}

	for _, p := range []string{"/dst/a.txt", "/dst/sub/b.txt"} {
		exists, err := Exists(fsys, p)
		if err != nil || !exists {
			t.Errorf("expected %s to exist after move, err=%v", p, err)
		}
	}

	srcExists, _ := Exists(fsys, "/src")
	if srcExists {
		t.Error("expected /src to be pruned after move")
	}
}

func TestMoveTreeSkipsExisting(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/src/a.txt", []byte("new"), 0o644)
	_ = afero.WriteFile(fsys, "/dst/a.txt", []byte("old"), 0o644)

	if err := MoveTree(fsys, "/src", "/dst", true); err != nil {
		t.Fatalf("MoveTree: %v", err)
	}

	data, err := afero.ReadFile(fsys, "/dst/a.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "old" {
		t.Errorf("expected existing destination file to be kept, got %q", data)
	}

	// The skipped source file should remain under /src since it was not moved.
	srcExists, _ := Exists(fsys, "/src/a.txt")
	if !srcExists {
		t.Error("expected skipped source file to remain in place")
	}
}

func TestMoveTreeOnMissingSourceIsNoop(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := MoveTree(fsys, "/nonexistent", "/dst", false); err != nil {
		t.Fatalf("MoveTree on missing source should be a no-op, got %v", err)
	}
}

func TestListFilesRecursive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/root/a.txt", []byte("a"), 0o644)
	_ = afero.WriteFile(fsys, "/root/sub/b.txt", []byte("b"), 0o644)

	files, err := ListFilesRecursive(fsys, "/root")
	if err != nil {
		t.Fatalf("ListFilesRecursive: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files)
	}
}

func TestMoveFileCreatesParentAndRemovesSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	_ = afero.WriteFile(fsys, "/a.txt", []byte("content"), 0o644)

	if err := MoveFile(fsys, "/a.txt", "/nested/b.txt"); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}

	data, err := afero.ReadFile(fsys, "/nested/b.txt")
	if err != nil || string(data) != "content" {
		t.Errorf("expected moved content, got %q, err=%v", data, err)
	}
	if exists, _ := Exists(fsys, "/a.txt"); exists {
		t.Error("expected source to be removed after move")
	}
}
