//go:build unit

package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go-press/internal/cache"
	"go-press/internal/config"
	"go-press/internal/data"
	"go-press/internal/errs"
	"go-press/internal/logger"
)

// newTestCache creates a new in-memory cache for testing.
func newTestCache(t *testing.T) (*cache.Cache, func()) {
	t.Helper()
	cfg := config.CacheConfig{
		FilePath: "file::memory:",
	}
	c, err := cache.New(cfg)
	if err != nil {
		t.Fatalf("failed to create test cache: %v", err)
	}
	teardown := func() {
		c.Close()
	}
	return c, teardown
}

// hookCache runs beforeGet ahead of every cache read.
type hookCache struct {
	*cache.Cache
	beforeGet func()
}

func (h *hookCache) Get(ctx context.Context, key string) ([]byte, error) {
	if h.beforeGet != nil {
		h.beforeGet()
	}
	return h.Cache.Get(ctx, key)
}

// mockPostRepository is a mock implementation of the PostRepository interface.
type mockPostRepository struct {
	errToReturn   error
	postToReturn  *data.Post
	postsToReturn []*data.Post

	createPostCalled    bool
	getPostBySlugCalled int
	updatePostCalled    bool
	deletePostCalled    bool
	lastPostPassed      *data.Post
	lastFilter          data.ListFilter
}

var _ PostRepository = (*mockPostRepository)(nil)

func (m *mockPostRepository) CreatePost(ctx context.Context, post *data.Post) (int64, error) {
	m.createPostCalled = true
	m.lastPostPassed = post
	if m.errToReturn != nil {
		return 0, m.errToReturn
	}
	post.ID = 1
	return 1, nil
}

func (m *mockPostRepository) GetPostBySlug(ctx context.Context, slug string) (*data.Post, error) {
	m.getPostBySlugCalled++
	if m.errToReturn != nil {
		return nil, m.errToReturn
	}
	if m.postToReturn != nil && m.postToReturn.Slug == slug {
		copied := *m.postToReturn
		return &copied, nil
	}
	return nil, errs.NewNotFound("post", slug)
}

func (m *mockPostRepository) GetPostByID(ctx context.Context, id int64) (*data.Post, error) {
	if m.postToReturn != nil && m.postToReturn.ID == id {
		copied := *m.postToReturn
		return &copied, nil
	}
	return nil, errs.NewNotFound("post", id)
}

func (m *mockPostRepository) ListPosts(ctx context.Context, filter data.ListFilter) ([]*data.Post, error) {
	m.lastFilter = filter
	if m.errToReturn != nil {
		return nil, m.errToReturn
	}
	return m.postsToReturn, nil
}

func (m *mockPostRepository) UpdatePost(ctx context.Context, id int64, post *data.Post) error {
	m.updatePostCalled = true
	m.lastPostPassed = post
	return m.errToReturn
}

func (m *mockPostRepository) DeletePost(ctx context.Context, id int64) error {
	m.deletePostCalled = true
	return m.errToReturn
}

func (m *mockPostRepository) ListTags(ctx context.Context) ([]data.Tag, error) {
	return []data.Tag{}, m.errToReturn
}

func (m *mockPostRepository) DeleteTag(ctx context.Context, slug string) error {
	return m.errToReturn
}

func (m *mockPostRepository) Search(ctx context.Context, query string, limit int, publishedOnly bool) ([]data.SearchHit, error) {
	return []data.SearchHit{}, m.errToReturn
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Hello, World!":        "hello-world",
		"  Go 1.24 released  ": "go-1-24-released",
		"already-a-slug":       "already-a-slug",
		"---":                  "",
		"Ünïcode":              "n-code",
	}
	for in, want := range tests {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPostService_CreatePost(t *testing.T) {
	t.Run("derives slug, date, format and tag slugs", func(t *testing.T) {
		mockRepo := &mockPostRepository{}
		svc := NewPostService(mockRepo, nil, logger.Nop())
		svc.now = func() time.Time { return time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC) }

		post := &data.Post{
			Title: "  Hello, World  ",
			Tags:  []data.Tag{{Name: "Web Dev"}},
		}
		created, err := svc.CreatePost(context.Background(), post)
		if err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
		if !mockRepo.createPostCalled {
			t.Fatal("expected repository CreatePost to be called")
		}
		if created.ID != 1 {
			t.Errorf("expected ID 1, got %d", created.ID)
		}
		if created.Title != "Hello, World" || created.Slug != "hello-world" {
			t.Errorf("got title %q slug %q", created.Title, created.Slug)
		}
		if created.Date.String() != "2024-05-06" {
			t.Errorf("expected today's date, got %s", created.Date)
		}
		if created.Format != data.FormatMarkdown {
			t.Errorf("expected markdown format, got %q", created.Format)
		}
		if created.Tags[0].Slug != "web-dev" {
			t.Errorf("expected tag slug web-dev, got %q", created.Tags[0].Slug)
		}
	})

	t.Run("sanitizes rich content", func(t *testing.T) {
		mockRepo := &mockPostRepository{}
		svc := NewPostService(mockRepo, nil, logger.Nop())

		post := &data.Post{
			Title:   "Rich",
			Format:  data.FormatRich,
			Content: `<p>ok</p><script>alert('xss')</script>`,
		}
		if _, err := svc.CreatePost(context.Background(), post); err != nil {
			t.Fatalf("CreatePost failed: %v", err)
		}
		if strings.Contains(mockRepo.lastPostPassed.Content, "<script>") {
			t.Errorf("expected script to be stripped, got %q", mockRepo.lastPostPassed.Content)
		}
	})

	t.Run("markdown content is stored as written", func(t *testing.T) {
		mockRepo := &mockPostRepository{}
		svc := NewPostService(mockRepo, nil, logger.Nop())

		content := "# Title\n\n<b>inline</b>"
		if _, err := svc.CreatePost(context.Background(), &data.Post{Title: "Md", Content: content}); err != nil {
			t.Fatal(err)
		}
		if mockRepo.lastPostPassed.Content != content {
			t.Errorf("markdown content changed: %q", mockRepo.lastPostPassed.Content)
		}
	})

	validationCases := []struct {
		name  string
		post  *data.Post
		field string
	}{
		{"missing title", &data.Post{Title: "   "}, "title"},
		{"bad slug", &data.Post{Title: "x", Slug: "Not A Slug"}, "slug"},
		{"slugless title", &data.Post{Title: "!!!"}, "slug"},
		{"bad format", &data.Post{Title: "x", Format: "html"}, "format"},
		{"bad tag", &data.Post{Title: "x", Tags: []data.Tag{{Name: "???"}}}, "tags"},
		{"empty metadata key", &data.Post{Title: "x", Metadata: map[string]string{" ": "v"}}, "metadata"},
	}
	for _, tc := range validationCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &mockPostRepository{}
			svc := NewPostService(mockRepo, nil, logger.Nop())

			_, err := svc.CreatePost(context.Background(), tc.post)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected error to match ErrValidation")
			}
			if mockRepo.createPostCalled {
				t.Error("repository must not be called with invalid input")
			}
		})
	}

	t.Run("repository error is returned unchanged", func(t *testing.T) {
		dup := errs.NewDuplicateSlug("post", "taken")
		svc := NewPostService(&mockPostRepository{errToReturn: dup}, nil, logger.Nop())
		_, err := svc.CreatePost(context.Background(), &data.Post{Title: "Taken"})
		if !errs.IsDuplicateSlug(err) {
			t.Errorf("expected duplicate slug, got %v", err)
		}
	})
}

func TestPostService_RenderPost(t *testing.T) {
	t.Run("renders markdown and caches the result", func(t *testing.T) {
		testCache, teardown := newTestCache(t)
		defer teardown()

		mockRepo := &mockPostRepository{
			postToReturn: &data.Post{ID: 7, Slug: "md", Format: data.FormatMarkdown,
				Content: "# Heading\n\n<script>alert(1)</script>\n\n**bold**"},
		}
		svc := NewPostService(mockRepo, testCache, logger.Nop())
		ctx := context.Background()

		post, err := svc.RenderPost(ctx, "md")
		if err != nil {
			t.Fatalf("RenderPost failed: %v", err)
		}
		if !strings.Contains(post.HTMLContent, "<h1") || !strings.Contains(post.HTMLContent, "<strong>bold</strong>") {
			t.Errorf("unexpected HTML: %q", post.HTMLContent)
		}
		if strings.Contains(post.HTMLContent, "<script>") {
			t.Errorf("rendered HTML must be sanitized: %q", post.HTMLContent)
		}

		cached, err := testCache.Get(ctx, renderKey(mockRepo.postToReturn))
		if err != nil || string(cached) != post.HTMLContent {
			t.Errorf("expected rendered HTML in cache, got %q, %v", cached, err)
		}

		again, err := svc.RenderPost(ctx, "md")
		if err != nil {
			t.Fatal(err)
		}
		if again.HTMLContent != post.HTMLContent {
			t.Errorf("expected cached HTML, got %q", again.HTMLContent)
		}

		// Content changed without going through the service still misses.
		mockRepo.postToReturn.Content = "changed"
		changed, err := svc.RenderPost(ctx, "md")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(changed.HTMLContent, "changed") {
			t.Errorf("expected a fresh render of the new content, got %q", changed.HTMLContent)
		}
	})

	t.Run("render racing an update never serves old HTML", func(t *testing.T) {
		testCache, teardown := newTestCache(t)
		defer teardown()

		mockRepo := &mockPostRepository{
			postToReturn: &data.Post{ID: 7, Title: "T", Slug: "md", Content: "old words"},
		}
		hooked := &hookCache{Cache: testCache}
		svc := NewPostService(mockRepo, hooked, logger.Nop())
		ctx := context.Background()

		// The update lands after RenderPost read the old post and before it
		// stores the old HTML.
		hooked.beforeGet = func() {
			hooked.beforeGet = nil
			if _, err := svc.UpdatePost(ctx, 7, &data.Post{Title: "T", Slug: "md", Content: "new words"}); err != nil {
				t.Errorf("UpdatePost failed: %v", err)
			}
			mockRepo.postToReturn.Content = "new words"
		}
		stale, err := svc.RenderPost(ctx, "md")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(stale.HTMLContent, "old words") {
			t.Fatalf("expected the racing render to see the old version, got %q", stale.HTMLContent)
		}

		fresh, err := svc.RenderPost(ctx, "md")
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(fresh.HTMLContent, "new words") {
			t.Errorf("expected the new content after the update, got %q", fresh.HTMLContent)
		}
	})

	t.Run("update invalidates the cached render", func(t *testing.T) {
		testCache, teardown := newTestCache(t)
		defer teardown()

		mockRepo := &mockPostRepository{
			postToReturn: &data.Post{ID: 7, Title: "T", Slug: "md", Content: "old"},
		}
		svc := NewPostService(mockRepo, testCache, logger.Nop())
		ctx := context.Background()

		if _, err := svc.RenderPost(ctx, "md"); err != nil {
			t.Fatal(err)
		}
		old := *mockRepo.postToReturn
		if _, err := svc.UpdatePost(ctx, 7, &data.Post{Title: "T", Slug: "md", Content: "new"}); err != nil {
			t.Fatalf("UpdatePost failed: %v", err)
		}
		if cached, _ := testCache.Get(ctx, renderKey(&old)); cached != nil {
			t.Errorf("expected cache entry to be invalidated, got %q", cached)
		}
	})

	t.Run("delete invalidates the cached render", func(t *testing.T) {
		testCache, teardown := newTestCache(t)
		defer teardown()

		mockRepo := &mockPostRepository{
			postToReturn: &data.Post{ID: 3, Title: "T", Slug: "gone", Content: "x"},
		}
		svc := NewPostService(mockRepo, testCache, logger.Nop())
		ctx := context.Background()

		if _, err := svc.RenderPost(ctx, "gone"); err != nil {
			t.Fatal(err)
		}
		if err := svc.DeletePost(ctx, 3); err != nil {
			t.Fatalf("DeletePost failed: %v", err)
		}
		if !mockRepo.deletePostCalled {
			t.Error("expected repository DeletePost to be called")
		}
		if cached, _ := testCache.Get(ctx, renderKey(mockRepo.postToReturn)); cached != nil {
			t.Errorf("expected cache entry to be invalidated, got %q", cached)
		}
	})

	t.Run("not found passes through", func(t *testing.T) {
		svc := NewPostService(&mockPostRepository{}, nil, logger.Nop())
		if _, err := svc.RenderPost(context.Background(), "missing"); !errs.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestPostService_UpdatePost_NotFound(t *testing.T) {
	mockRepo := &mockPostRepository{}
	svc := NewPostService(mockRepo, nil, logger.Nop())

	_, err := svc.UpdatePost(context.Background(), 99, &data.Post{Title: "x"})
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if mockRepo.updatePostCalled {
		t.Error("repository UpdatePost must not be called for a missing post")
	}
}
