package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go-press/internal/errs"

	"github.com/jmoiron/sqlx"
)

// selectPost reads a post with its tags and metadata aggregated as JSON, so
// one statement returns the whole record.
const selectPost = `
	SELECT p.id, p.title, p.slug, p.date, p.author, p.excerpt, p.content,
		p.content_format, p.published, p.featured, p.image, p.author_id,
		COALESCE((
			SELECT json_group_array(json_object('id', tg.id, 'name', tg.name, 'slug', tg.slug))
			FROM (
				SELECT t.id, t.name, t.slug
				FROM post_tags pt
				JOIN tags t ON t.id = pt.tag_id
				WHERE pt.post_id = p.id
				ORDER BY t.name, t.slug
			) tg
		), '[]') AS tags_json,
		COALESCE((
			SELECT json_group_object(m.key, m.value)
			FROM post_metadata m
			WHERE m.post_id = p.id
		), '{}') AS metadata_json
	FROM posts p`

const insertPost = `
	INSERT INTO posts (title, slug, date, author, excerpt, content, content_format,
		published, featured, image, author_id)
	VALUES (:title, :slug, :date, :author, :excerpt, :content, :content_format,
		:published, :featured, :image, :author_id)`

const updatePost = `
	UPDATE posts SET title = :title, slug = :slug, date = :date, author = :author,
		excerpt = :excerpt, content = :content, content_format = :content_format,
		published = :published, featured = :featured, image = :image, author_id = :author_id
	WHERE id = :id`

type postRow struct {
	Post
	TagsJSON     string `db:"tags_json"`
	MetadataJSON string `db:"metadata_json"`
}

func (row *postRow) decode() (*Post, error) {
	post := row.Post
	post.Tags = []Tag{}
	if err := json.Unmarshal([]byte(row.TagsJSON), &post.Tags); err != nil {
		return nil, fmt.Errorf("decode tags of post %d: %w", post.ID, err)
	}
	post.Metadata = map[string]string{}
	if err := json.Unmarshal([]byte(row.MetadataJSON), &post.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of post %d: %w", post.ID, err)
	}
	return &post, nil
}

// CreatePost inserts post with its tags, metadata and search entry in one
// transaction and returns the new identifier, which is also set on post.
// Tags that do not exist yet are created, matched by slug.
func (r *Repository) CreatePost(ctx context.Context, post *Post) (int64, error) {
	record := normalize(post)

	var id int64
	err := r.pool.WriteTx(ctx, "create_post", func(tx *sqlx.Tx) error {
		if err := checkSlugFree(ctx, tx, record.Slug, 0); err != nil {
			return err
		}

		res, err := tx.NamedExecContext(ctx, insertPost, record)
		if err != nil {
			return slugError(record.Slug, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		if err := r.saveTags(ctx, tx, id, record.Tags); err != nil {
			return err
		}
		if err := saveMetadata(ctx, tx, id, record.Metadata); err != nil {
			return err
		}
		return r.index.index(ctx, tx, id, record)
	})
	if err != nil {
		err = writeError("create post", err)
	}
	r.logWrite(ctx, "create_post", map[string]interface{}{"slug": record.Slug, "post_id": id}, err)
	if err != nil {
		return 0, err
	}

	post.ID = id
	return id, nil
}

// GetPostBySlug returns the post with its tags and metadata.
func (r *Repository) GetPostBySlug(ctx context.Context, slug string) (*Post, error) {
	var post *Post
	err := r.pool.ReadTx(ctx, "get_post_by_slug", func(tx *sqlx.Tx) error {
		var err error
		post, err = getPost(ctx, tx, selectPost+` WHERE p.slug = ?`, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NewNotFound("post", slug)
		}
		return err
	})
	if err != nil {
		return nil, readError("get post by slug", err)
	}
	return post, nil
}

// GetPostByID returns the post with its tags and metadata.
func (r *Repository) GetPostByID(ctx context.Context, id int64) (*Post, error) {
	var post *Post
	err := r.pool.ReadTx(ctx, "get_post_by_id", func(tx *sqlx.Tx) error {
		var err error
		post, err = getPost(ctx, tx, selectPost+` WHERE p.id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NewNotFound("post", id)
		}
		return err
	})
	if err != nil {
		return nil, readError("get post by id", err)
	}
	return post, nil
}

func getPost(ctx context.Context, tx *sqlx.Tx, query string, arg any) (*Post, error) {
	var row postRow
	if err := tx.GetContext(ctx, &row, query, arg); err != nil {
		return nil, err
	}
	return row.decode()
}

// ListPosts returns the posts selected by filter, newest date first and,
// within a date, the most recently created first.
func (r *Repository) ListPosts(ctx context.Context, filter ListFilter) ([]*Post, error) {
	query, args, err := listQuery(filter)
	if err != nil {
		return nil, err
	}

	posts := []*Post{}
	err = r.pool.ReadTx(ctx, "list_posts", func(tx *sqlx.Tx) error {
		var rows []postRow
		if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
			return err
		}
		for i := range rows {
			post, err := rows[i].decode()
			if err != nil {
				return err
			}
			posts = append(posts, post)
		}
		return nil
	})
	if err != nil {
		return nil, readError("list posts", err)
	}
	return posts, nil
}

func listQuery(filter ListFilter) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	switch filter.Kind {
	case FilterAll:
	case FilterPublished:
		conds = append(conds, `p.published = 1`)
	case FilterFeatured:
		conds = append(conds, `p.featured = 1`)
	case FilterTag:
		if filter.TagSlug == "" {
			return "", nil, &errs.StorageError{Kind: errs.ErrConstraintViolation, Op: "list posts", Err: errors.New("tag filter needs a tag slug")}
		}
		conds = append(conds, `p.id IN (
			SELECT pt.post_id FROM post_tags pt JOIN tags t ON t.id = pt.tag_id WHERE t.slug = ?)`)
		args = append(args, filter.TagSlug)
	default:
		return "", nil, &errs.StorageError{Kind: errs.ErrConstraintViolation, Op: "list posts", Err: fmt.Errorf("unknown filter %v", filter.Kind)}
	}
	if filter.PublishedOnly && filter.Kind != FilterPublished {
		conds = append(conds, `p.published = 1`)
	}

	query := selectPost
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY p.date DESC, p.id DESC`
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}
	return query, args, nil
}

// UpdatePost replaces every field of post id with those of post. Tags and
// metadata are replaced as whole sets. The slug may change but must not
// belong to another post.
func (r *Repository) UpdatePost(ctx context.Context, id int64, post *Post) error {
	record := normalize(post)
	record.ID = id

	err := r.pool.WriteTx(ctx, "update_post", func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT count(*) FROM posts WHERE id = ?`, id); err != nil {
			return err
		}
		if exists == 0 {
			return errs.NewNotFound("post", id)
		}
		if err := checkSlugFree(ctx, tx, record.Slug, id); err != nil {
			return err
		}

		if _, err := tx.NamedExecContext(ctx, updatePost, record); err != nil {
			return slugError(record.Slug, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM post_tags WHERE post_id = ?`, id); err != nil {
			return err
		}
		if err := r.saveTags(ctx, tx, id, record.Tags); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_metadata WHERE post_id = ?`, id); err != nil {
			return err
		}
		if err := saveMetadata(ctx, tx, id, record.Metadata); err != nil {
			return err
		}
		return r.index.reindex(ctx, tx, id, record)
	})
	if err != nil {
		err = writeError("update post", err)
	}
	r.logWrite(ctx, "update_post", map[string]interface{}{"slug": record.Slug, "post_id": id}, err)
	if err != nil {
		return err
	}

	post.ID = id
	return nil
}

// DeletePost removes the post, its tag associations, metadata and search
// entry. Tags themselves are kept.
func (r *Repository) DeletePost(ctx context.Context, id int64) error {
	err := r.pool.WriteTx(ctx, "delete_post", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.NewNotFound("post", id)
		}
		return r.index.remove(ctx, tx, id)
	})
	if err != nil {
		err = writeError("delete post", err)
	}
	r.logWrite(ctx, "delete_post", map[string]interface{}{"post_id": id}, err)
	return err
}

// normalize copies post with defaults applied and tags deduplicated by slug.
func normalize(post *Post) *Post {
	record := *post
	if record.Format == "" {
		record.Format = FormatMarkdown
	}

	seen := make(map[string]bool, len(post.Tags))
	record.Tags = make([]Tag, 0, len(post.Tags))
	for _, tag := range post.Tags {
		if seen[tag.Slug] {
			continue
		}
		seen[tag.Slug] = true
		record.Tags = append(record.Tags, tag)
	}
	return &record
}

// checkSlugFree fails with DuplicateSlug when slug belongs to a post other
// than self.
func checkSlugFree(ctx context.Context, tx *sqlx.Tx, slug string, self int64) error {
	var owner int64
	err := tx.GetContext(ctx, &owner, `SELECT id FROM posts WHERE slug = ?`, slug)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	case owner != self:
		return errs.NewDuplicateSlug("post", slug)
	}
	return nil
}

// slugError turns a unique failure on posts.slug into DuplicateSlug. It
// covers writers outside this process that win the race after the check.
func slugError(slug string, err error) error {
	if errs.IsUniqueViolation(err, "posts.slug") {
		return errs.NewDuplicateSlug("post", slug)
	}
	return err
}

func (r *Repository) saveTags(ctx context.Context, tx *sqlx.Tx, postID int64, tags []Tag) error {
	for _, tag := range tags {
		tagID, err := upsertTag(ctx, tx, tag)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO post_tags (post_id, tag_id) VALUES (?, ?)`, postID, tagID); err != nil {
			return fmt.Errorf("tag post %d with %q: %w", postID, tag.Slug, err)
		}
	}
	return nil
}

func saveMetadata(ctx context.Context, tx *sqlx.Tx, postID int64, metadata map[string]string) error {
	for key, value := range metadata {
		if strings.TrimSpace(key) == "" {
			return &errs.StorageError{
				Kind: errs.ErrConstraintViolation,
				Op:   "save metadata",
				Err:  fmt.Errorf("empty metadata key on post %d", postID),
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO post_metadata (post_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (post_id, key) DO UPDATE SET value = excluded.value`,
			postID, key, value)
		if err != nil {
			return fmt.Errorf("set metadata %q on post %d: %w", key, postID, err)
		}
	}
	return nil
}

// writeError classifies a failed write. The transaction has been rolled
// back by the time it runs.
func writeError(op string, err error) error {
	if errs.IsNotFound(err) || errs.IsDuplicateSlug(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errs.Classify(op, err))
}

func readError(op string, err error) error {
	if errs.IsNotFound(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errs.Classify(op, err))
}
