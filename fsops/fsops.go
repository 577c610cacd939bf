// Package fsops wraps the "filesystem" external collaborator named in spec
// §6 behind an afero.Fs, and implements the tree-move primitives the install
// orchestrator's backup/apply/restore phases (§4.F) are built from.
package fsops

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/flybywiresim/fragmenter/ferrors"
)

const osCreateFlags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC

// Exists reports whether p exists on fsys.
func Exists(fsys afero.Fs, p string) (bool, error) {
	_, err := fsys.Stat(p)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ferrors.Wrap(err, "stat "+p)
}

// EnsureDir creates dir and all missing parents.
func EnsureDir(fsys afero.Fs, dir string) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return ferrors.Wrap(err, "mkdir "+dir)
	}
	return nil
}

// RemoveAll removes path (file or directory tree) if it exists.
func RemoveAll(fsys afero.Fs, path string) error {
	ok, err := Exists(fsys, path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fsys.RemoveAll(path); err != nil {
		return ferrors.Wrap(err, "remove "+path)
	}
	return nil
}

// MoveFile moves a single file from src to dst, creating dst's parent
// directory as needed. Falls back to copy+remove when fsys.Rename cannot
// move across the pair of paths (e.g. a cross-device move on a real
// filesystem).
func MoveFile(fsys afero.Fs, src, dst string) error {
	if err := EnsureDir(fsys, filepath.Dir(dst)); err != nil {
		return err
	}
	if err := fsys.Rename(src, dst); err == nil {
		return nil
	}
	return copyAndRemove(fsys, src, dst)
}

func copyAndRemove(fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return ferrors.Wrap(err, "open "+src)
	}
	defer in.Close()

	info, err := fsys.Stat(src)
	if err != nil {
		return ferrors.Wrap(err, "stat "+src)
	}

	out, err := fsys.OpenFile(dst, osCreateFlags, info.Mode())
	if err != nil {
		return ferrors.Wrap(err, "create "+dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ferrors.Wrap(err, "copy "+src+" -> "+dst)
	}
	if err := out.Close(); err != nil {
		return ferrors.Wrap(err, "close "+dst)
	}
	if err := fsys.Remove(src); err != nil {
		return ferrors.Wrap(err, "remove "+src)
	}
	return nil
}

// MoveTree recursively moves every file under srcRoot to the equivalent
// relative path under dstRoot, preserving structure. When skipExisting is
// true, a file whose destination already exists is left behind under
// srcRoot rather than overwritten — the backup phase's "skipping entries
// already present" rule (§4.F step 4). Empty directories left behind under
// srcRoot after the move are pruned.
func MoveTree(fsys afero.Fs, srcRoot, dstRoot string, skipExisting bool) error {
	ok, err := Exists(fsys, srcRoot)
	if err != nil || !ok {
		return err
	}

	var files []string
	err = afero.Walk(fsys, srcRoot, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !info.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return ferrors.Wrap(err, "walk "+srcRoot)
	}

	for _, src := range files {
		rel, err := filepath.Rel(srcRoot, src)
		if err != nil {
			return ferrors.Wrap(err, "relativize "+src)
		}
		dst := filepath.Join(dstRoot, rel)

		if skipExisting {
			exists, err := Exists(fsys, dst)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
		}

		if err := MoveFile(fsys, src, dst); err != nil {
			return err
		}
	}

	return pruneEmptyDirs(fsys, srcRoot)
}

// pruneEmptyDirs removes root and any directories left empty by MoveTree.
func pruneEmptyDirs(fsys afero.Fs, root string) error {
	ok, err := Exists(fsys, root)
	if err != nil || !ok {
		return err
	}

	entries, err := afero.ReadDir(fsys, root)
	if err != nil {
		return ferrors.Wrap(err, "readdir "+root)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := pruneEmptyDirs(fsys, filepath.Join(root, entry.Name())); err != nil {
			return err
		}
	}

	entries, err = afero.ReadDir(fsys, root)
	if err != nil {
		return ferrors.Wrap(err, "readdir "+root)
	}
	if len(entries) == 0 {
		if err := fsys.Remove(root); err != nil {
			return ferrors.Wrap(err, "remove empty dir "+root)
		}
	}
	return nil
}

// ListFilesRecursive returns every file (not directory) under root, as
// paths relative to root using forward slashes.
func ListFilesRecursive(fsys afero.Fs, root string) ([]string, error) {
	var out []string
	err := afero.Walk(fsys, root, func(p string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, ferrors.Wrap(err, "walk "+root)
	}
	return out, nil
}
