// Package hashtree implements the fragment content hash defined in spec §3:
// a Merkle-style hash over a sorted file tree, used both at pack time and
// after extraction to verify a fragment's integrity.
package hashtree

import (
	"encoding/hex"
	"path"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"
)

// Hasher is the "hash primitive" external collaborator named in spec §6: the
// core depends on it through this interface rather than a concrete library,
// with BLAKE2b-512 as the only shipped implementation (≥512-bit output, per
// §3's invariant).
type Hasher interface {
	// Sum returns the raw (non-hex) digest of data.
	Sum(data []byte) []byte
}

// ModuleMetadataFile is the fragment-root file every Tree/hashDir call
// excludes: §6 writes it after the content hash below it is computed, so it
// can never be part of its own hash.
const ModuleMetadataFile = "module.json"

type blake2bHasher struct{}

// NewBlake2bHasher returns the default Hasher, backed by BLAKE2b-512.
func NewBlake2bHasher() Hasher { return blake2bHasher{} }

func (blake2bHasher) Sum(data []byte) []byte {
	sum := blake2b.Sum512(data)
	return sum[:]
}

// combine computes H(a || b) for two byte slices.
func combine(h Hasher, a, b []byte) []byte {
	buf := make([]byte, 0, len(a)+len(b))
	buf = append(buf, a...)
	buf = append(buf, b...)
	return h.Sum(buf)
}

// contentHash computes a single file's content hash:
// H( relative_path_unix || H(file_bytes) ).
func contentHash(h Hasher, relPathUnix string, fileBytes []byte) []byte {
	fileSum := h.Sum(fileBytes)
	return combine(h, []byte(relPathUnix), fileSum)
}

// Tree computes a fragment's hash: recursively, for every directory level,
// H( concat_i H( basename_i || child_hash_i ) ) over children sorted by
// basename, where a file's child_hash is its contentHash and a
// subdirectory's child_hash is its own recursively computed Tree hash.
// Returns the hex-encoded digest.
func Tree(fsys afero.Fs, root string) (string, error) {
	return TreeWithHasher(fsys, NewBlake2bHasher(), root)
}

// TreeWithHasher is Tree with an explicit Hasher, for tests and alternate
// hash primitives.
func TreeWithHasher(fsys afero.Fs, h Hasher, root string) (string, error) {
	sum, err := hashDir(fsys, h, root, root)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func hashDir(fsys afero.Fs, h Hasher, fragmentRoot, dir string) ([]byte, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var concat []byte
	for _, entry := range entries {
		if !entry.IsDir() && dir == fragmentRoot && entry.Name() == ModuleMetadataFile {
			// module.json is written after the fragment's content hash is
			// computed (§3), so it never participates in its own hash —
			// but only at the fragment's own root, not in a nested module.
			continue
		}

		childPath := path.Join(dir, entry.Name())

		var childHash []byte
		if entry.IsDir() {
			childHash, err = hashDir(fsys, h, fragmentRoot, childPath)
			if err != nil {
				return nil, err
			}
		} else {
			data, err := afero.ReadFile(fsys, childPath)
			if err != nil {
				return nil, err
			}
			relPath := relUnix(fragmentRoot, childPath)
			childHash = contentHash(h, relPath, data)
		}

		component := combine(h, []byte(entry.Name()), childHash)
		concat = append(concat, component...)
	}

	return h.Sum(concat), nil
}

// Result pairs a fragment's computed Tree hash with the error from hashing
// it, for reporting against its name once a bounded batch finishes.
type Result struct {
	Hash string
	Err  error
}

// TreeAllBounded computes Tree(fsys, roots[name]) for every name, fanning
// the work out across up to maxWorkers goroutines at a time. This is the
// bounded parallelism named in spec §6 for verifying many already-installed
// fragments without serializing their disk I/O — it never runs more than
// one hash per module concurrently with itself, and is unrelated to (and
// never used during) downloading, which §5 requires stays sequential.
func TreeAllBounded(fsys afero.Fs, roots map[string]string, maxWorkers int) map[string]Result {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]Result, len(roots))

	for name, root := range roots {
		wg.Add(1)
		sem <- struct{}{}
		go func(name, root string) {
			defer wg.Done()
			defer func() { <-sem }()
			hash, err := Tree(fsys, root)
			mu.Lock()
			results[name] = Result{Hash: hash, Err: err}
			mu.Unlock()
		}(name, root)
	}

	wg.Wait()
	return results
}

// relUnix returns childPath relative to fragmentRoot using forward slashes,
// regardless of the host path separator convention.
func relUnix(fragmentRoot, childPath string) string {
	rel := path.Clean(childPath)
	rootClean := path.Clean(fragmentRoot)
	if rootClean != "." && len(rel) > len(rootClean) && rel[:len(rootClean)] == rootClean {
		rel = rel[len(rootClean):]
	}
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}
