package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"

	"github.com/dshills/repovec-mcp/internal/chunker"
	"github.com/dshills/repovec-mcp/pkg/types"
)

// DefaultMaxFileSize skips files larger than 2 MiB
const DefaultMaxFileSize = 2 << 20

// DefaultCodeGlobs selects common source and documentation files
var DefaultCodeGlobs = []string{
	"**/*.py", "**/*.js", "**/*.jsx", "**/*.ts", "**/*.tsx", "**/*.java", "**/*.go",
	"**/*.c", "**/*.cpp", "**/*.cs", "**/*.html", "**/*.css", "**/*.md", "**/*.txt",
}

// ErrNotDirectory is returned when the repository root is not a directory
var ErrNotDirectory = errors.New("repository root is not a directory")

// RepoOptions controls which files a RepoLoader reads
type RepoOptions struct {
	// Include restricts loading to files matching one of the globs. A
	// leading "**/" matches any directory depth. Empty loads every file.
	Include []string

	// CodeOnly loads DefaultCodeGlobs when Include is empty
	CodeOnly bool

	// SkipDirs are directory names never descended into
	SkipDirs []string

	// MaxFileSize skips larger files; 0 means DefaultMaxFileSize
	MaxFileSize int64

	// Workers bounds concurrent file reads; 0 means NumCPU
	Workers int
}

// RepoLoader turns a checked-out repository into code documents
type RepoLoader struct {
	opts   RepoOptions
	logger *slog.Logger
}

// NewRepoLoader creates a loader. Include patterns are validated up front.
func NewRepoLoader(opts RepoOptions) (*RepoLoader, error) {
	if opts.CodeOnly && len(opts.Include) == 0 {
		opts.Include = DefaultCodeGlobs
	}
	for _, g := range opts.Include {
		if _, err := path.Match(strings.TrimPrefix(g, "**/"), ""); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", g, err)
		}
	}
	if opts.SkipDirs == nil {
		opts.SkipDirs = []string{".git", "node_modules", "vendor", "__pycache__"}
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Workers <= 0 {
		opts.Workers = max(runtime.NumCPU(), 1)
	}
	return &RepoLoader{
		opts:   opts,
		logger: slog.Default().With("component", "repo_loader"),
	}, nil
}

// Load walks root and returns one document per text file, ordered by
// path. Files holding a NUL byte or invalid UTF-8 are skipped as binary.
func (l *RepoLoader) Load(ctx context.Context, root string) ([]*types.Document, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	paths, err := l.discover(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}

	pool, err := ants.NewPool(l.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	docs := make([]*types.Document, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			docs[i] = l.readFile(absRoot, p)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("failed to submit %s: %w", p, err)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*types.Document, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, d)
		}
	}

	l.logger.Info("repository loaded", "root", absRoot, "files", len(paths), "documents", len(out))
	return out, nil
}

// discover lists candidate files in lexical order
func (l *RepoLoader) discover(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && l.skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if l.included(filepath.ToSlash(rel)) {
			paths = append(paths, p)
		}
		return nil
	})
	sort.Strings(paths)
	return paths, err
}

func (l *RepoLoader) skipDir(name string) bool {
	for _, s := range l.opts.SkipDirs {
		if name == s {
			return true
		}
	}
	return false
}

// included matches rel against the include globs. "**/x" matches x at the
// root or at any depth.
func (l *RepoLoader) included(rel string) bool {
	if len(l.opts.Include) == 0 {
		return true
	}
	for _, g := range l.opts.Include {
		if rest, ok := strings.CutPrefix(g, "**/"); ok {
			if matchAnyDepth(rest, rel) {
				return true
			}
			continue
		}
		if ok, _ := path.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// matchAnyDepth tries pattern against every suffix of rel that starts at a
// path segment
func matchAnyDepth(pattern, rel string) bool {
	for {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		i := strings.IndexByte(rel, '/')
		if i < 0 {
			return false
		}
		rel = rel[i+1:]
	}
}

// readFile returns nil for files that are skipped
func (l *RepoLoader) readFile(root, p string) *types.Document {
	info, err := os.Stat(p)
	if err != nil {
		l.logger.Warn("stat failed", "path", p, "error", err)
		return nil
	}
	if info.Size() > l.opts.MaxFileSize {
		l.logger.Debug("skipping large file", "path", p, "size", info.Size())
		return nil
	}

	raw, err := os.ReadFile(p)
	if err != nil {
		l.logger.Warn("read failed", "path", p, "error", err)
		return nil
	}
	if bytes.IndexByte(raw, 0) >= 0 || !utf8.Valid(raw) {
		return nil
	}

	rel, err := filepath.Rel(root, p)
	if err != nil {
		return nil
	}
	return types.NewCodeDocument(string(raw), filepath.ToSlash(rel), p, Language(p))
}

// Language is the lower-cased file extension without its dot, e.g. "py".
// Compound extensions the chunker knows, such as "d.ts", are kept whole.
func Language(p string) string {
	return chunker.ExtensionOf(p)
}
