package content

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go-press/internal/data"
	"go-press/internal/errs"
	"go-press/internal/logger"

	"github.com/natefinch/atomic"
)

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// Lister reads the posts to export.
type Lister interface {
	ListPosts(ctx context.Context, filter data.ListFilter) ([]*data.Post, error)
}

// Creator stores imported posts.
type Creator interface {
	CreatePost(ctx context.Context, post *data.Post) (*data.Post, error)
}

// Export writes every post to dir as <slug>.md and returns how many files
// were written. Each file is replaced atomically.
func Export(ctx context.Context, posts Lister, dir string, log logger.Logger) (int, error) {
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return 0, fmt.Errorf("content: create %s: %w", dir, err)
	}

	all, err := posts.ListPosts(ctx, data.ListFilter{Kind: data.FilterAll})
	if err != nil {
		return 0, fmt.Errorf("content: list posts: %w", err)
	}

	for i, post := range all {
		raw, err := Encode(post)
		if err != nil {
			return i, err
		}
		path := filepath.Join(dir, post.Slug+".md")
		if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
			return i, fmt.Errorf("content: write %s: %w", path, err)
		}
		// atomic.WriteFile leaves new files with the temp file's mode.
		if err := os.Chmod(path, filePerms); err != nil {
			return i, fmt.Errorf("content: chmod %s: %w", path, err)
		}
		log.Debug("exported " + path)
	}
	return len(all), nil
}

// ImportResult reports what Import did with each file.
type ImportResult struct {
	Created []string
	// Skipped lists slugs that already existed.
	Skipped []string
}

// Import creates a post for every *.md file in dir, in file name order.
// Posts whose slug is already taken are skipped; any other failure stops
// the import.
func Import(ctx context.Context, posts Creator, dir string, log logger.Logger) (ImportResult, error) {
	var result ImportResult

	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return result, fmt.Errorf("content: scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return result, fmt.Errorf("content: read %s: %w", path, err)
		}
		post, err := Decode(raw)
		if err != nil {
			return result, fmt.Errorf("content: %s: %w", path, err)
		}

		created, err := posts.CreatePost(ctx, post)
		switch {
		case errs.IsDuplicateSlug(err):
			log.Warn(fmt.Sprintf("skipping %s: slug %q exists", path, post.Slug))
			result.Skipped = append(result.Skipped, post.Slug)
		case err != nil:
			return result, fmt.Errorf("content: import %s: %w", path, err)
		default:
			result.Created = append(result.Created, created.Slug)
		}
	}
	return result, nil
}
