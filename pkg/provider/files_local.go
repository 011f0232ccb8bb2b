package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// ErrUnsafePath is returned for paths with traversal segments or paths that
// escape the sandbox root.
var ErrUnsafePath = errors.New("provider: path escapes sandbox")

// DefaultSearchLimit caps search results when the caller does not.
const DefaultSearchLimit = 500

// LocalFiles implements Files against the local filesystem, confined to a
// sandbox root.
type LocalFiles struct {
	// Root is the sandbox root. Every path is resolved inside it; empty
	// means the filesystem root (no confinement beyond traversal checks).
	Root string
}

// NewLocalFiles creates a LocalFiles provider rooted at root.
func NewLocalFiles(root string) *LocalFiles {
	if root != "" {
		root = filepath.Clean(root)
	}
	return &LocalFiles{Root: root}
}

// resolve validates a client-supplied path and maps it into the sandbox.
// Any ".." segment is rejected outright; the cleaned result must stay under
// Root.
func (f *LocalFiles) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == ".." {
			return "", ErrUnsafePath
		}
	}

	p := filepath.Clean(path)
	if f.Root == "" {
		if !filepath.IsAbs(p) {
			p = string(filepath.Separator) + p
		}
		return p, nil
	}

	if filepath.IsAbs(p) {
		// Absolute paths must already point inside the root.
		rel, err := filepath.Rel(f.Root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", ErrUnsafePath
		}
		return p, nil
	}
	return filepath.Join(f.Root, p), nil
}

func fileInfoOf(path string, fi os.FileInfo) FileInfo {
	mode := fi.Mode().Perm()
	return FileInfo{
		Name:     fi.Name(),
		Path:     path,
		IsDir:    fi.IsDir(),
		Size:     fi.Size(),
		Modified: fi.ModTime().UnixMilli(),
		Readable: mode&0o400 != 0,
		Writable: mode&0o200 != 0,
	}
}

// List returns the entries of a directory, sorted by name.
func (f *LocalFiles) List(path string) ([]FileInfo, error) {
	dir, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue // removed between readdir and stat
		}
		out = append(out, fileInfoOf(filepath.Join(dir, e.Name()), fi))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stat returns metadata for a single path.
func (f *LocalFiles) Stat(path string) (FileInfo, error) {
	p, err := f.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return FileInfo{}, err
	}
	return fileInfoOf(p, fi), nil
}

// Exists reports whether a path exists.
func (f *LocalFiles) Exists(path string) (bool, error) {
	p, err := f.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Open opens a file for streaming reads.
func (f *LocalFiles) Open(path string) (io.ReadCloser, FileInfo, error) {
	p, err := f.resolve(path)
	if err != nil {
		return nil, FileInfo{}, err
	}
	fh, err := os.Open(p)
	if err != nil {
		return nil, FileInfo{}, err
	}
	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, FileInfo{}, err
	}
	return fh, fileInfoOf(p, fi), nil
}

// Write streams r into path, creating parent directories.
func (f *LocalFiles) Write(path string, r io.Reader) (int64, error) {
	p, err := f.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, err
	}
	fh, err := os.Create(p)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(fh, r)
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Mkdir creates a directory and its parents.
func (f *LocalFiles) Mkdir(path string) error {
	p, err := f.resolve(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

// Delete removes a path, recursively for directories.
func (f *LocalFiles) Delete(path string) error {
	p, err := f.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return err
	}
	return os.RemoveAll(p)
}

// Hash returns the lowercase hex SHA-256 of a file's contents.
func (f *LocalFiles) Hash(path string) (string, error) {
	p, err := f.resolve(path)
	if err != nil {
		return "", err
	}
	fh, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Search walks root depth-first collecting entries whose name matches
// pattern, up to limit results. Unreadable subtrees are skipped.
func (f *LocalFiles) Search(root, pattern string, regex bool, limit int) ([]FileInfo, error) {
	p, err := f.resolve(root)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var match func(string) bool
	if regex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("provider: bad search regex: %w", err)
		}
		match = re.MatchString
	} else {
		needle := strings.ToLower(pattern)
		match = func(name string) bool {
			return strings.Contains(strings.ToLower(name), needle)
		}
	}

	var out []FileInfo
	errStop := errors.New("search limit reached")
	walkErr := filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path != p && match(fi.Name()) {
			out = append(out, fileInfoOf(path, fi))
			if len(out) >= limit {
				return errStop
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != errStop {
		return nil, walkErr
	}
	return out, nil
}

// Storage reports the volume backing the sandbox root.
func (f *LocalFiles) Storage() ([]StorageInfo, error) {
	root := f.Root
	if root == "" {
		root = string(filepath.Separator)
	}
	info, err := statfs(root)
	if err != nil {
		return nil, err
	}
	info.Label = "internal"
	return []StorageInfo{info}, nil
}
