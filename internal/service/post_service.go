package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go-press/internal/data"
	"go-press/internal/logger"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// PostRepository defines the storage operations the service relies on.
type PostRepository interface {
	CreatePost(ctx context.Context, post *data.Post) (int64, error)
	GetPostBySlug(ctx context.Context, slug string) (*data.Post, error)
	GetPostByID(ctx context.Context, id int64) (*data.Post, error)
	ListPosts(ctx context.Context, filter data.ListFilter) ([]*data.Post, error)
	UpdatePost(ctx context.Context, id int64, post *data.Post) error
	DeletePost(ctx context.Context, id int64) error
	ListTags(ctx context.Context) ([]data.Tag, error)
	DeleteTag(ctx context.Context, slug string) error
	Search(ctx context.Context, query string, limit int, publishedOnly bool) ([]data.SearchHit, error)
}

// Cache stores rendered HTML between requests.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PostServicer defines the interface for interacting with posts.
type PostServicer interface {
	CreatePost(ctx context.Context, post *data.Post) (*data.Post, error)
	GetPost(ctx context.Context, slug string) (*data.Post, error)
	RenderPost(ctx context.Context, slug string) (*data.Post, error)
	ListPosts(ctx context.Context, filter data.ListFilter) ([]*data.Post, error)
	UpdatePost(ctx context.Context, id int64, post *data.Post) (*data.Post, error)
	DeletePost(ctx context.Context, id int64) error
	ListTags(ctx context.Context) ([]data.Tag, error)
	DeleteTag(ctx context.Context, slug string) error
	Search(ctx context.Context, query string, limit int, publishedOnly bool) ([]data.SearchHit, error)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// PostService validates posts before they reach the repository and renders
// their content for readers.
type PostService struct {
	repo      PostRepository
	cache     Cache
	log       logger.Logger
	sanitizer *bluemonday.Policy
	markdown  goldmark.Markdown
	now       func() time.Time
}

// NewPostService creates a PostService. cache may be nil.
func NewPostService(repo PostRepository, cache Cache, log logger.Logger) *PostService {
	if log == nil {
		log = logger.Nop()
	}
	return &PostService{
		repo:  repo,
		cache: cache,
		log:   log,
		// UGCPolicy allows basic formatting like links, lists and emphasis
		// while stripping scripts and event handlers.
		sanitizer: bluemonday.UGCPolicy(),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		now:       time.Now,
	}
}

// CreatePost validates post, fills in derivable fields and stores it.
func (s *PostService) CreatePost(ctx context.Context, post *data.Post) (*data.Post, error) {
	if err := s.prepare(post); err != nil {
		return nil, err
	}
	if _, err := s.repo.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// GetPost retrieves a single post by its slug.
func (s *PostService) GetPost(ctx context.Context, slug string) (*data.Post, error) {
	return s.repo.GetPostBySlug(ctx, slug)
}

// RenderPost retrieves a post and fills HTMLContent. Markdown is converted
// with goldmark; the result, like rich content, goes through the sanitizer.
// Rendered HTML is cached by slug and content, so a render of an older
// version can never be served for a newer one.
func (s *PostService) RenderPost(ctx context.Context, slug string) (*data.Post, error) {
	post, err := s.repo.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	key := renderKey(post)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn(fmt.Sprintf("render cache read failed for %s: %v", key, err))
		} else if cached != nil {
			post.HTMLContent = string(cached)
			return post, nil
		}
	}

	html, err := s.render(post)
	if err != nil {
		return nil, err
	}
	post.HTMLContent = html

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, []byte(html), 0); err != nil {
			s.log.Warn(fmt.Sprintf("render cache write failed for %s: %v", key, err))
		}
	}
	return post, nil
}

func (s *PostService) render(post *data.Post) (string, error) {
	if post.Format == data.FormatRich {
		return s.sanitizer.Sanitize(post.Content), nil
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(post.Content), &buf); err != nil {
		return "", fmt.Errorf("render post %q: %w", post.Slug, err)
	}
	return s.sanitizer.Sanitize(buf.String()), nil
}

// ListPosts returns posts selected by filter.
func (s *PostService) ListPosts(ctx context.Context, filter data.ListFilter) ([]*data.Post, error) {
	return s.repo.ListPosts(ctx, filter)
}

// UpdatePost validates post and replaces post id with it. Rendered HTML of
// the old version is dropped.
func (s *PostService) UpdatePost(ctx context.Context, id int64, post *data.Post) (*data.Post, error) {
	current, err := s.repo.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.prepare(post); err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePost(ctx, id, post); err != nil {
		return nil, err
	}
	s.invalidate(ctx, current)
	return post, nil
}

// DeletePost handles the deletion of a post by its ID.
func (s *PostService) DeletePost(ctx context.Context, id int64) error {
	current, err := s.repo.GetPostByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePost(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, current)
	return nil
}

// ListTags returns every tag in name order.
func (s *PostService) ListTags(ctx context.Context) ([]data.Tag, error) {
	return s.repo.ListTags(ctx)
}

// DeleteTag removes a tag from every post.
func (s *PostService) DeleteTag(ctx context.Context, slug string) error {
	return s.repo.DeleteTag(ctx, slug)
}

// Search runs a full-text query.
func (s *PostService) Search(ctx context.Context, query string, limit int, publishedOnly bool) ([]data.SearchHit, error) {
	return s.repo.Search(ctx, query, limit, publishedOnly)
}

func (s *PostService) invalidate(ctx context.Context, post *data.Post) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, renderKey(post)); err != nil {
		s.log.Warn(fmt.Sprintf("render cache invalidation failed for %s: %v", post.Slug, err))
	}
}

// renderKey names the cached HTML of one version of a post.
func renderKey(post *data.Post) string {
	sum := sha256.Sum256([]byte(string(post.Format) + "\x00" + post.Content))
	return "post:html:" + post.Slug + ":" + hex.EncodeToString(sum[:12])
}

// prepare normalizes post in place and rejects what storage must never see.
func (s *PostService) prepare(post *data.Post) error {
	post.Title = strings.TrimSpace(post.Title)
	if post.Title == "" {
		return NewValidationError("title", "is required")
	}

	post.Slug = strings.TrimSpace(post.Slug)
	if post.Slug == "" {
		post.Slug = Slugify(post.Title)
	}
	if !slugPattern.MatchString(post.Slug) {
		return NewValidationError("slug", fmt.Sprintf("%q must be lowercase letters and digits separated by single hyphens", post.Slug))
	}

	if post.Date.IsZero() {
		post.Date = data.DateOf(s.now())
	}

	if post.Format == "" {
		post.Format = data.FormatMarkdown
	}
	if !post.Format.Valid() {
		return NewValidationError("format", fmt.Sprintf("unknown format %q", post.Format))
	}
	if post.Format == data.FormatRich {
		post.Content = s.sanitizer.Sanitize(post.Content)
	}

	if post.Image != nil && strings.TrimSpace(*post.Image) == "" {
		post.Image = nil
	}

	for i := range post.Tags {
		tag := &post.Tags[i]
		tag.Name = strings.TrimSpace(tag.Name)
		if tag.Slug == "" {
			tag.Slug = Slugify(tag.Name)
		}
		if tag.Name == "" {
			tag.Name = tag.Slug
		}
		if !slugPattern.MatchString(tag.Slug) {
			return NewValidationError("tags", fmt.Sprintf("tag %q has no usable slug", tag.Name))
		}
	}

	for key := range post.Metadata {
		if strings.TrimSpace(key) == "" {
			return NewValidationError("metadata", "keys must not be empty")
		}
	}
	return nil
}

var nonSlugRun = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and joins its ASCII letter and digit runs with
// hyphens. It returns "" when s has none.
func Slugify(s string) string {
	return strings.Trim(nonSlugRun.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// ErrValidation marks input rejected before it reached storage.
var ErrValidation = errors.New("validation failed")

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
