//go:build integration

package data

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"go-press/internal/errs"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"
)

var ignoreTagIDs = cmpopts.IgnoreFields(Tag{}, "ID")

func TestRepository_CreateAndGetRoundTrip(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	image := "/img/cover.png"
	owner := int64(42)
	post := &Post{
		Title:     "Hello, World",
		Slug:      "hello-world",
		Date:      NewDate(2024, 3, 15),
		Author:    "Ada Lovelace",
		Excerpt:   "A first post",
		Content:   "# Hello\n\nBody with *markdown* and ünïcödé.",
		Format:    FormatRich,
		Published: true,
		Featured:  true,
		Image:     &image,
		AuthorID:  &owner,
		Tags:      []Tag{{Name: "Web", Slug: "web"}, {Name: "Rust", Slug: "rust"}},
		Metadata:  map[string]string{"seo_title": "Hello", "reading_time": "3"},
	}

	id, err := repo.CreatePost(ctx, post)
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if id == 0 || post.ID != id {
		t.Fatalf("expected non-zero id set on the post, got id=%d post.ID=%d", id, post.ID)
	}

	want := *post
	// Tags come back ordered by name.
	want.Tags = []Tag{{Name: "Rust", Slug: "rust"}, {Name: "Web", Slug: "web"}}

	bySlug, err := repo.GetPostBySlug(ctx, "hello-world")
	if err != nil {
		t.Fatalf("GetPostBySlug: %v", err)
	}
	if diff := cmp.Diff(&want, bySlug, ignoreTagIDs); diff != "" {
		t.Errorf("GetPostBySlug mismatch (-want +got):\n%s", diff)
	}

	byID, err := repo.GetPostByID(ctx, id)
	if err != nil {
		t.Fatalf("GetPostByID: %v", err)
	}
	if diff := cmp.Diff(bySlug, byID); diff != "" {
		t.Errorf("GetPostByID differs from GetPostBySlug (-slug +id):\n%s", diff)
	}
}

func TestRepository_CreateWithoutOptionalFields(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	post := &Post{Title: "Bare", Slug: "bare", Date: NewDate(2023, 12, 31)}
	if _, err := repo.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	got, err := repo.GetPostBySlug(ctx, "bare")
	if err != nil {
		t.Fatalf("GetPostBySlug: %v", err)
	}
	if got.Image != nil || got.AuthorID != nil {
		t.Errorf("expected nil image and author id, got %v and %v", got.Image, got.AuthorID)
	}
	if got.Format != FormatMarkdown {
		t.Errorf("format = %q, want %q", got.Format, FormatMarkdown)
	}
	if len(got.Tags) != 0 || len(got.Metadata) != 0 {
		t.Errorf("expected no tags or metadata, got %v and %v", got.Tags, got.Metadata)
	}
}

func TestRepository_CreateDuplicateSlug(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	if _, err := repo.CreatePost(ctx, newPost("taken", NewDate(2024, 1, 1), "go")); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	_, err := repo.CreatePost(ctx, newPost("taken", NewDate(2024, 1, 2), "other"))
	if !errs.IsDuplicateSlug(err) {
		t.Fatalf("expected duplicate slug, got %v", err)
	}
	if !strings.Contains(err.Error(), "taken") {
		t.Errorf("error %q should name the slug", err)
	}

	if n := countRows(t, repo, "posts"); n != 1 {
		t.Errorf("posts = %d, want 1", n)
	}
	if n := countRows(t, repo, "tags"); n != 1 {
		t.Errorf("tags = %d, want 1 (failed create must leave no tag behind)", n)
	}
}

func TestRepository_GetPostNotFound(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	_, err := repo.GetPostBySlug(ctx, "nope")
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error %q should name the slug", err)
	}

	_, err = repo.GetPostByID(ctx, 999)
	if !errs.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !strings.Contains(err.Error(), "999") {
		t.Errorf("error %q should name the id", err)
	}
}

func TestRepository_FailedWriteLeavesNothing(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	post := newPost("broken", NewDate(2024, 1, 1), "go", "web")
	post.Metadata[""] = "no key"

	_, err := repo.CreatePost(ctx, post)
	if !errs.IsConstraintViolation(err) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	for _, table := range []string{"posts", "tags", "post_tags", "post_metadata", "search_index"} {
		if n := countRows(t, repo, table); n != 0 {
			t.Errorf("%s has %d rows after a failed create", table, n)
		}
	}
}

func TestRepository_UpdatePostReplacesSets(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	post := newPost("before", NewDate(2024, 1, 1), "a", "b")
	post.Metadata = map[string]string{"x": "1", "y": "2"}
	id, err := repo.CreatePost(ctx, post)
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	updated := newPost("after", NewDate(2024, 2, 2), "b", "c")
	updated.Title = "New title"
	updated.Published = true
	updated.Metadata = map[string]string{"y": "3", "z": "4"}
	if err := repo.UpdatePost(ctx, id, updated); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}

	if _, err := repo.GetPostBySlug(ctx, "before"); !errs.IsNotFound(err) {
		t.Errorf("old slug should be gone, got %v", err)
	}

	got, err := repo.GetPostBySlug(ctx, "after")
	if err != nil {
		t.Fatalf("GetPostBySlug: %v", err)
	}
	want := *updated
	want.ID = id
	if diff := cmp.Diff(&want, got, ignoreTagIDs); diff != "" {
		t.Errorf("updated post mismatch (-want +got):\n%s", diff)
	}

	// Tag "a" lost its only post but survives.
	tags, err := repo.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	wantTags := []Tag{{Name: "a", Slug: "a"}, {Name: "b", Slug: "b"}, {Name: "c", Slug: "c"}}
	if diff := cmp.Diff(wantTags, tags, ignoreTagIDs); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if n := countRows(t, repo, "post_tags"); n != 2 {
		t.Errorf("post_tags = %d, want 2", n)
	}
}

func TestRepository_UpdatePostErrors(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	first, err := repo.CreatePost(ctx, newPost("first", NewDate(2024, 1, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.CreatePost(ctx, newPost("second", NewDate(2024, 1, 2))); err != nil {
		t.Fatal(err)
	}

	if err := repo.UpdatePost(ctx, 999, newPost("ghost", NewDate(2024, 1, 1))); !errs.IsNotFound(err) {
		t.Errorf("expected not found for missing id, got %v", err)
	}
	if err := repo.UpdatePost(ctx, first, newPost("second", NewDate(2024, 1, 1))); !errs.IsDuplicateSlug(err) {
		t.Errorf("expected duplicate slug, got %v", err)
	}

	// Keeping its own slug is not a collision.
	same := newPost("first", NewDate(2024, 5, 5))
	same.Title = "Renamed"
	if err := repo.UpdatePost(ctx, first, same); err != nil {
		t.Fatalf("UpdatePost with unchanged slug: %v", err)
	}
	got, err := repo.GetPostByID(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Renamed" {
		t.Errorf("title = %q, want %q", got.Title, "Renamed")
	}
}

func TestRepository_DeletePostCascades(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	post := newPost("doomed", NewDate(2024, 1, 1), "keep", "also-keep")
	post.Metadata = map[string]string{"a": "1", "b": "2"}
	id, err := repo.CreatePost(ctx, post)
	if err != nil {
		t.Fatal(err)
	}
	other := newPost("survivor", NewDate(2024, 1, 2), "keep")
	if _, err := repo.CreatePost(ctx, other); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeletePost(ctx, id); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if _, err := repo.GetPostBySlug(ctx, "doomed"); !errs.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := repo.DeletePost(ctx, id); !errs.IsNotFound(err) {
		t.Errorf("expected not found on second delete, got %v", err)
	}

	if n := countRows(t, repo, "post_metadata"); n != 0 {
		t.Errorf("post_metadata = %d, want 0", n)
	}
	if n := countRows(t, repo, "post_tags"); n != 1 {
		t.Errorf("post_tags = %d, want 1 (the survivor's)", n)
	}
	if n := countRows(t, repo, "tags"); n != 2 {
		t.Errorf("tags = %d, want 2", n)
	}
	if n := countRows(t, repo, "search_index"); n != 1 {
		t.Errorf("search_index = %d, want 1", n)
	}

	got, err := repo.GetPostBySlug(ctx, "survivor")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]Tag{{Name: "keep", Slug: "keep"}}, got.Tags, ignoreTagIDs); diff != "" {
		t.Errorf("survivor tags mismatch (-want +got):\n%s", diff)
	}
}

func slugsOf(posts []*Post) []string {
	slugs := make([]string, 0, len(posts))
	for _, p := range posts {
		slugs = append(slugs, p.Slug)
	}
	return slugs
}

func TestRepository_ListPosts(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	day := NewDate(2024, 6, 1)
	fixtures := []struct {
		post      *Post
		published bool
		featured  bool
	}{
		{newPost("old", day.AddDays(-10), "go"), true, false},
		{newPost("tie-first", day, "go", "web"), true, true},
		{newPost("tie-second", day), false, true},
		{newPost("newest", day.AddDays(3), "web"), true, false},
	}
	for _, f := range fixtures {
		f.post.Published = f.published
		f.post.Featured = f.featured
		if _, err := repo.CreatePost(ctx, f.post); err != nil {
			t.Fatalf("CreatePost %s: %v", f.post.Slug, err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all", ListFilter{Kind: FilterAll}, []string{"newest", "tie-second", "tie-first", "old"}},
		{"published", ListFilter{Kind: FilterPublished}, []string{"newest", "tie-first", "old"}},
		{"featured", ListFilter{Kind: FilterFeatured}, []string{"tie-second", "tie-first"}},
		{"by tag", ListFilter{Kind: FilterTag, TagSlug: "go"}, []string{"tie-first", "old"}},
		{"unknown tag", ListFilter{Kind: FilterTag, TagSlug: "missing"}, []string{}},
		{"limit", ListFilter{Kind: FilterAll, Limit: 2}, []string{"newest", "tie-second"}},
		{"offset", ListFilter{Kind: FilterAll, Limit: 2, Offset: 2}, []string{"tie-first", "old"}},
		{"offset only", ListFilter{Kind: FilterAll, Offset: 3}, []string{"old"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, err := repo.ListPosts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListPosts: %v", err)
			}
			if diff := cmp.Diff(tt.want, slugsOf(posts)); diff != "" {
				t.Errorf("slugs mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := repo.ListPosts(ctx, ListFilter{Kind: FilterTag})
	if !errs.IsConstraintViolation(err) {
		t.Errorf("expected a constraint violation for a tag filter without a slug, got %v", err)
	}
}

func TestRepository_ListPostsPublishedOnlyPagesAfterFiltering(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	live := newPost("live", NewDate(2020, 1, 1), "go")
	live.Published, live.Featured = true, true
	if _, err := repo.CreatePost(ctx, live); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 3; i++ {
		draft := newPost(fmt.Sprintf("draft-%d", i), NewDate(2024, 1, i), "go")
		draft.Featured = true
		if _, err := repo.CreatePost(ctx, draft); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"featured first page", ListFilter{Kind: FilterFeatured, Limit: 2, PublishedOnly: true}, []string{"live"}},
		{"featured second page", ListFilter{Kind: FilterFeatured, Limit: 2, Offset: 2, PublishedOnly: true}, []string{}},
		{"tag first page", ListFilter{Kind: FilterTag, TagSlug: "go", Limit: 1, PublishedOnly: true}, []string{"live"}},
		{"all", ListFilter{Kind: FilterAll, Limit: 2, PublishedOnly: true}, []string{"live"}},
		{"published kind", ListFilter{Kind: FilterPublished, PublishedOnly: true}, []string{"live"}},
		{"drafts visible without flag", ListFilter{Kind: FilterFeatured, Limit: 2}, []string{"draft-3", "draft-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, err := repo.ListPosts(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListPosts: %v", err)
			}
			if diff := cmp.Diff(tt.want, slugsOf(posts)); diff != "" {
				t.Errorf("slugs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRepository_HelloWorldScenario(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()
	ctx := context.Background()

	id, err := repo.CreatePost(ctx, newPost("hello-world", NewDate(2024, 1, 1), "rust", "web"))
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	wantTags := []Tag{{Name: "rust", Slug: "rust"}, {Name: "web", Slug: "web"}}
	tags, err := repo.ListTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantTags, tags, ignoreTagIDs); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	posts, err := repo.ListPosts(ctx, ListFilter{Kind: FilterTag, TagSlug: "rust"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello-world"}, slugsOf(posts)); diff != "" {
		t.Errorf("by-tag mismatch (-want +got):\n%s", diff)
	}

	if err := repo.DeletePost(ctx, id); err != nil {
		t.Fatal(err)
	}

	tags, err = repo.ListTags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantTags, tags, ignoreTagIDs); diff != "" {
		t.Errorf("tags after delete mismatch (-want +got):\n%s", diff)
	}
	if _, err := repo.GetPostBySlug(ctx, "hello-world"); !errs.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRepository_ConcurrentCreatesDistinctSlugs(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()

	const n = 16
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		slug := fmt.Sprintf("post-%d", i)
		g.Go(func() error {
			_, err := repo.CreatePost(ctx, newPost(slug, NewDate(2024, 1, 1), "shared"))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent create failed: %v", err)
	}

	if got := countRows(t, repo, "posts"); got != n {
		t.Errorf("posts = %d, want %d", got, n)
	}
	if got := countRows(t, repo, "tags"); got != 1 {
		t.Errorf("tags = %d, want 1", got)
	}
}

func TestRepository_ConcurrentCreatesSameSlug(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()

	const n = 16
	var succeeded, duplicates atomic.Int32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := repo.CreatePost(context.Background(), newPost("contended", NewDate(2024, 1, 1)))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errs.IsDuplicateSlug(err):
				duplicates.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if succeeded.Load() != 1 {
		t.Errorf("succeeded = %d, want 1", succeeded.Load())
	}
	if duplicates.Load() != n-1 {
		t.Errorf("duplicates = %d, want %d", duplicates.Load(), n-1)
	}
	if got := countRows(t, repo, "posts"); got != 1 {
		t.Errorf("posts = %d, want 1", got)
	}
}

func TestRepository_ActorDoesNotAffectWrites(t *testing.T) {
	repo, teardown := setupRepoTest(t)
	defer teardown()

	ctx := WithActor(context.Background(), "editor@example.com")
	if ActorFrom(ctx) != "editor@example.com" {
		t.Fatalf("ActorFrom = %q", ActorFrom(ctx))
	}
	if _, err := repo.CreatePost(ctx, newPost("by-editor", NewDate(2024, 1, 1))); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
}
