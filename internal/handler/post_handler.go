package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go-press/internal/data"
	"go-press/internal/logger"
	"go-press/internal/middleware"
	"go-press/internal/service"

	"github.com/go-chi/chi/v5"
)

// maxBodyBytes bounds the JSON body of post writes.
const maxBodyBytes = 4 << 20

// PostHandler holds the dependencies for the post and tag handlers.
type PostHandler struct {
	postService service.PostServicer
	log         logger.Logger
}

// NewPostHandler creates a new PostHandler with the given dependencies.
func NewPostHandler(ps service.PostServicer, log logger.Logger) *PostHandler {
	return &PostHandler{
		postService: ps,
		log:         log,
	}
}

// listHandler returns posts selected by the filter, tag, limit and offset
// query parameters. Anonymous callers only see published posts.
func (h *PostHandler) listHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	filter, err := parseListFilter(r)
	if err != nil {
		return middleware.BadRequest(err, err.Error())
	}

	filter.PublishedOnly = middleware.GetUserInfo(r.Context()).IsAnonymous()

	posts, err := h.postService.ListPosts(r.Context(), filter)
	if err != nil {
		return middleware.FromError(err, "Failed to retrieve posts")
	}
	return writeJSON(w, r, http.StatusOK, posts)
}

func parseListFilter(r *http.Request) (data.ListFilter, error) {
	q := r.URL.Query()
	kind, err := data.ParseFilterKind(q.Get("filter"))
	if err != nil {
		return data.ListFilter{}, err
	}
	filter := data.ListFilter{Kind: kind, TagSlug: q.Get("tag")}
	if filter.TagSlug != "" && kind == data.FilterAll {
		filter.Kind = data.FilterTag
	}
	if filter.Kind == data.FilterTag && filter.TagSlug == "" {
		return data.ListFilter{}, errors.New("filter=tag requires a tag parameter")
	}
	if filter.Limit, err = nonNegative(q.Get("limit"), "limit"); err != nil {
		return data.ListFilter{}, err
	}
	if filter.Offset, err = nonNegative(q.Get("offset"), "offset"); err != nil {
		return data.ListFilter{}, err
	}
	return filter, nil
}

func nonNegative(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

// viewHandler returns a single post. With render=html the rendered HTML is
// included.
func (h *PostHandler) viewHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	slug := chi.URLParam(r, "slug")

	var (
		post *data.Post
		err  error
	)
	if r.URL.Query().Get("render") == "html" {
		post, err = h.postService.RenderPost(r.Context(), slug)
	} else {
		post, err = h.postService.GetPost(r.Context(), slug)
	}
	if err != nil {
		return middleware.FromError(err, "Failed to retrieve post")
	}

	// Drafts do not exist for readers who are not logged in.
	if !post.Published && middleware.GetUserInfo(r.Context()).IsAnonymous() {
		return &middleware.AppError{Error: errors.New("draft requested anonymously"), Message: "Post not found", Code: http.StatusNotFound}
	}
	return writeJSON(w, r, http.StatusOK, post)
}

// createHandler stores the post in the request body.
func (h *PostHandler) createHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	post, appErr := decodePost(w, r)
	if appErr != nil {
		return appErr
	}

	created, err := h.postService.CreatePost(r.Context(), post)
	if err != nil {
		return middleware.FromError(err, "Failed to create post")
	}
	w.Header().Set("Location", "/posts/"+created.Slug)
	return writeJSON(w, r, http.StatusCreated, created)
}

// updateHandler replaces the post named by the id URL parameter.
func (h *PostHandler) updateHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := postID(r)
	if appErr != nil {
		return appErr
	}
	post, appErr := decodePost(w, r)
	if appErr != nil {
		return appErr
	}

	updated, err := h.postService.UpdatePost(r.Context(), id, post)
	if err != nil {
		return middleware.FromError(err, "Failed to update post")
	}
	updated.ID = id
	return writeJSON(w, r, http.StatusOK, updated)
}

// deleteHandler removes the post named by the id URL parameter.
func (h *PostHandler) deleteHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	id, appErr := postID(r)
	if appErr != nil {
		return appErr
	}
	if err := h.postService.DeletePost(r.Context(), id); err != nil {
		return middleware.FromError(err, "Failed to delete post")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// tagsHandler lists every tag.
func (h *PostHandler) tagsHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	tags, err := h.postService.ListTags(r.Context())
	if err != nil {
		return middleware.FromError(err, "Failed to retrieve tags")
	}
	return writeJSON(w, r, http.StatusOK, tags)
}

// deleteTagHandler removes a tag from every post.
func (h *PostHandler) deleteTagHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if err := h.postService.DeleteTag(r.Context(), chi.URLParam(r, "slug")); err != nil {
		return middleware.FromError(err, "Failed to delete tag")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// searchHandler runs a full-text query. Drafts are left out for anonymous callers.
func (h *PostHandler) searchHandler(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	limit, err := nonNegative(r.URL.Query().Get("limit"), "limit")
	if err != nil {
		return middleware.BadRequest(err, err.Error())
	}

	publishedOnly := middleware.GetUserInfo(r.Context()).IsAnonymous()
	hits, err := h.postService.Search(r.Context(), r.URL.Query().Get("q"), limit, publishedOnly)
	if err != nil {
		return middleware.FromError(err, "Search failed")
	}
	return writeJSON(w, r, http.StatusOK, hits)
}

func postID(r *http.Request) (int64, *middleware.AppError) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, middleware.BadRequest(err, "post id must be a positive integer")
	}
	return id, nil
}

func decodePost(w http.ResponseWriter, r *http.Request) (*data.Post, *middleware.AppError) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var post data.Post
	if err := dec.Decode(&post); err != nil {
		return nil, middleware.BadRequest(err, "invalid post body: "+err.Error())
	}
	return &post, nil
}

// writeJSON encodes v as the response body, indented when the request asked
// for pretty output.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) *middleware.AppError {
	var (
		body []byte
		err  error
	)
	if middleware.IsPretty(r.Context()) {
		body, err = json.MarshalIndent(v, "", "  ")
	} else {
		body, err = json.Marshal(v)
	}
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to encode response", Code: http.StatusInternalServerError}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
	return nil
}
