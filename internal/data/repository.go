package data

import (
	"context"

	"go-press/internal/database"
	"go-press/internal/errs"
	"go-press/internal/logger"

	"github.com/jmoiron/sqlx"
)

// Repository is the only writer of the storage file. Every exported method
// runs as exactly one transaction on one pool lease.
type Repository struct {
	pool  *database.Pool
	log   logger.Logger
	index *SearchIndex
}

// NewRepository creates a Repository over pool.
func NewRepository(pool *database.Pool, log logger.Logger) *Repository {
	if log == nil {
		log = logger.Nop()
	}
	return &Repository{
		pool:  pool,
		log:   log,
		index: &SearchIndex{},
	}
}

// Pool exposes the pool for statistics.
func (r *Repository) Pool() *database.Pool {
	return r.pool
}

// logWrite records a finished write together with the caller identity.
func (r *Repository) logWrite(ctx context.Context, op string, fields map[string]interface{}, err error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["op"] = op
	fields["actor"] = ActorFrom(ctx)
	log := r.log.With(fields)

	switch {
	case err == nil:
		log.Info("storage write committed")
	case errs.IsNotFound(err), errs.IsDuplicateSlug(err):
		log.Debug("storage write rejected: " + err.Error())
	case errs.IsPoolExhausted(err):
		log.Warn("storage write rejected: " + err.Error())
	default:
		log.Error(err, "storage write failed")
	}
}

// Counts summarizes what the storage file holds.
type Counts struct {
	Posts     int `db:"posts" json:"posts"`
	Published int `db:"published" json:"published"`
	Tags      int `db:"tags" json:"tags"`
	Metadata  int `db:"metadata" json:"metadata"`
}

// Counts returns row counts for the content tables.
func (r *Repository) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := r.pool.ReadTx(ctx, "counts", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &c, `
			SELECT
				(SELECT count(*) FROM posts) AS posts,
				(SELECT count(*) FROM posts WHERE published = 1) AS published,
				(SELECT count(*) FROM tags) AS tags,
				(SELECT count(*) FROM post_metadata) AS metadata`)
	})
	if err != nil {
		return Counts{}, readError("counts", err)
	}
	return c, nil
}
