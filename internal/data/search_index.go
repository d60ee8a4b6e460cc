package data

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go-press/internal/errs"

	"github.com/jmoiron/sqlx"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Column weights for bm25(), in search_index column order: title, content,
// excerpt.
const rankExpr = `bm25(search_index, 10.0, 1.0, 5.0)`

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// SearchIndex mirrors title, content and excerpt of every post into the
// search_index FTS5 table, keyed by rowid = posts.id. It only ever runs on a
// transaction that also writes the post, so the two commit or roll back
// together.
type SearchIndex struct{}

func (s *SearchIndex) index(ctx context.Context, tx *sqlx.Tx, id int64, p *Post) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO search_index (rowid, title, content, excerpt) VALUES (?, ?, ?, ?)`,
		id, p.Title, p.Content, p.Excerpt)
	if err != nil {
		return fmt.Errorf("index post %d: %w", id, err)
	}
	return nil
}

// reindex overwrites the entry. A missing entry is recreated.
func (s *SearchIndex) reindex(ctx context.Context, tx *sqlx.Tx, id int64, p *Post) error {
	if err := s.remove(ctx, tx, id); err != nil {
		return err
	}
	return s.index(ctx, tx, id, p)
}

func (s *SearchIndex) remove(ctx context.Context, tx *sqlx.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM search_index WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("unindex post %d: %w", id, err)
	}
	return nil
}

// Tokenize splits text into lowercase letter and digit runs.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// matchExpr quotes every token so that user input is never read as FTS5
// query syntax. Tokens are ANDed.
func matchExpr(query string) string {
	tokens := Tokenize(query)
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		quoted = append(quoted, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// Search ranks posts matching every token of query, best first. A query
// without tokens matches nothing. With publishedOnly, drafts are dropped
// before the limit applies.
func (r *Repository) Search(ctx context.Context, query string, limit int, publishedOnly bool) ([]SearchHit, error) {
	match := matchExpr(query)
	if match == "" {
		return []SearchHit{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	where := `WHERE search_index MATCH ?`
	if publishedOnly {
		where += ` AND p.published = 1`
	}

	hits := []SearchHit{}
	err := r.pool.ReadTx(ctx, "search", func(tx *sqlx.Tx) error {
		return tx.SelectContext(ctx, &hits, `
			SELECT p.id, p.slug, p.title, p.excerpt, p.published, `+rankExpr+` AS rank
			FROM search_index
			JOIN posts p ON p.id = search_index.rowid
			`+where+`
			ORDER BY rank, p.id DESC
			LIMIT ?`, match, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, errs.Classify("search", err))
	}
	return hits, nil
}

type indexCheckRow struct {
	ID      int64  `db:"id"`
	Slug    string `db:"slug"`
	Missing bool   `db:"missing"`
	Stale   bool   `db:"stale"`
}

// VerifySearchIndex compares every post to its index entry and reports
// missing, stale and orphaned entries. An empty result means the index is
// consistent.
func (r *Repository) VerifySearchIndex(ctx context.Context) ([]IndexDrift, error) {
	drift := []IndexDrift{}
	err := r.pool.ReadTx(ctx, "verify_search_index", func(tx *sqlx.Tx) error {
		var rows []indexCheckRow
		if err := tx.SelectContext(ctx, &rows, `
			SELECT p.id, p.slug,
				s.rowid IS NULL AS missing,
				(s.title IS NOT p.title OR s.content IS NOT p.content OR s.excerpt IS NOT p.excerpt) AS stale
			FROM posts p
			LEFT JOIN search_index s ON s.rowid = p.id
			ORDER BY p.id`); err != nil {
			return err
		}
		for _, row := range rows {
			switch {
			case row.Missing:
				drift = append(drift, IndexDrift{PostID: row.ID, Slug: row.Slug, Reason: "missing entry"})
			case row.Stale:
				drift = append(drift, IndexDrift{PostID: row.ID, Slug: row.Slug, Reason: "stale entry"})
			}
		}

		var orphans []int64
		if err := tx.SelectContext(ctx, &orphans,
			`SELECT rowid FROM search_index WHERE rowid NOT IN (SELECT id FROM posts) ORDER BY rowid`); err != nil {
			return err
		}
		for _, id := range orphans {
			drift = append(drift, IndexDrift{PostID: id, Reason: "orphaned entry"})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("verify search index: %w", errs.Classify("verify search index", err))
	}
	return drift, nil
}

// RebuildSearchIndex drops every entry and indexes all posts again in one
// write transaction. It returns the number of posts indexed.
func (r *Repository) RebuildSearchIndex(ctx context.Context) (int, error) {
	var n int
	err := r.pool.WriteTx(ctx, "rebuild_search_index", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM search_index`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_index (rowid, title, content, excerpt)
			SELECT id, title, content, excerpt FROM posts`); err != nil {
			return err
		}
		return tx.GetContext(ctx, &n, `SELECT count(*) FROM posts`)
	})
	if err != nil {
		err = fmt.Errorf("rebuild search index: %w", errs.Classify("rebuild search index", err))
	}
	r.logWrite(ctx, "rebuild_search_index", map[string]interface{}{"posts": n}, err)
	if err != nil {
		return 0, err
	}
	return n, nil
}
