package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go-press/internal/errs"

	"github.com/jmoiron/sqlx"
)

// upsertTag returns the id of the tag with tag.Slug, creating it when no
// such tag exists. An existing tag keeps its name.
func upsertTag(ctx context.Context, tx *sqlx.Tx, tag Tag) (int64, error) {
	if strings.TrimSpace(tag.Slug) == "" {
		return 0, &errs.StorageError{
			Kind: errs.ErrConstraintViolation,
			Op:   "save tag",
			Err:  fmt.Errorf("tag %q has an empty slug", tag.Name),
		}
	}
	name := tag.Name
	if name == "" {
		name = tag.Slug
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tags (name, slug) VALUES (?, ?) ON CONFLICT (slug) DO NOTHING`, name, tag.Slug); err != nil {
		return 0, fmt.Errorf("save tag %q: %w", tag.Slug, err)
	}

	var id int64
	if err := tx.GetContext(ctx, &id, `SELECT id FROM tags WHERE slug = ?`, tag.Slug); err != nil {
		return 0, fmt.Errorf("find tag %q: %w", tag.Slug, err)
	}
	return id, nil
}

// ListTags returns every tag ordered by name, then slug.
func (r *Repository) ListTags(ctx context.Context) ([]Tag, error) {
	tags := []Tag{}
	err := r.pool.ReadTx(ctx, "list_tags", func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &tags, `SELECT id, name, slug FROM tags ORDER BY name, slug`)
	})
	if err != nil {
		return nil, readError("list tags", err)
	}
	return tags, nil
}

// GetTagBySlug finds a tag by its slug.
func (r *Repository) GetTagBySlug(ctx context.Context, slug string) (*Tag, error) {
	var tag Tag
	err := r.pool.ReadTx(ctx, "get_tag_by_slug", func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &tag, `SELECT id, name, slug FROM tags WHERE slug = ?`, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NewNotFound("tag", slug)
		}
		return err
	})
	if err != nil {
		return nil, readError("get tag by slug", err)
	}
	return &tag, nil
}

// DeleteTag removes the tag and every association referencing it. Posts
// are untouched apart from losing the tag.
func (r *Repository) DeleteTag(ctx context.Context, slug string) error {
	err := r.pool.WriteTx(ctx, "delete_tag", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE slug = ?`, slug)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.NewNotFound("tag", slug)
		}
		return nil
	})
	if err != nil {
		err = writeError("delete tag", err)
	}
	r.logWrite(ctx, "delete_tag", map[string]interface{}{"tag": slug}, err)
	return err
}
