package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-press/internal/errs"
	"go-press/internal/logger"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// Pool bounds the number of connections open against the storage file and
// hands them out as leases. A lease is the only way to reach a connection.
//
// Writers additionally hold a single writer token for the lifetime of their
// lease so that transactions from this process never race for SQLite's
// write lock. The token is always taken before the connection slot.
type Pool struct {
	db             *sqlx.DB
	log            logger.Logger
	path           string
	size           int
	acquireTimeout time.Duration

	slots  *semaphore.Weighted
	writer *semaphore.Weighted

	metrics *Metrics
	closed  atomic.Bool

	active    atomic.Int64
	waitCount atomic.Int64
	waitTotal atomic.Int64
	exhausted atomic.Int64
	discarded atomic.Int64
}

// Stats is a point-in-time view of the pool. Taking it never needs a lease.
type Stats struct {
	Size      int           `json:"size"`
	Active    int           `json:"active"`
	Idle      int           `json:"idle"`
	Open      int           `json:"open"`
	WaitCount int64         `json:"wait_count"`
	WaitTotal time.Duration `json:"wait_time_total"`
	Exhausted int64         `json:"exhausted"`
	Discarded int64         `json:"discarded"`
}

// Acquire borrows a connection for reads. It blocks until a connection is
// free, the acquire timeout elapses (errs.ErrPoolExhausted) or ctx ends.
// A cancelled wait never consumes a slot.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	return p.acquire(ctx, false)
}

// AcquireWriter borrows a connection together with the writer token.
func (p *Pool) AcquireWriter(ctx context.Context) (*Lease, error) {
	return p.acquire(ctx, true)
}

func (p *Pool) acquire(ctx context.Context, write bool) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	if write {
		if err := p.wait(ctx, waitCtx, p.writer, start); err != nil {
			return nil, err
		}
	}
	if err := p.wait(ctx, waitCtx, p.slots, start); err != nil {
		if write {
			p.writer.Release(1)
		}
		return nil, err
	}

	conn, err := p.connect(ctx, waitCtx, start)
	if err != nil {
		p.slots.Release(1)
		if write {
			p.writer.Release(1)
		}
		return nil, err
	}

	p.active.Add(1)
	return &Lease{pool: p, conn: conn, writer: write}, nil
}

// wait takes one unit of sem, counting the acquisition as a wait only when
// the fast path fails.
func (p *Pool) wait(ctx, waitCtx context.Context, sem *semaphore.Weighted, start time.Time) error {
	if sem.TryAcquire(1) {
		return nil
	}

	p.waitCount.Add(1)
	begin := time.Now()
	err := sem.Acquire(waitCtx, 1)
	p.waitTotal.Add(int64(time.Since(begin)))
	if err == nil {
		return nil
	}
	return p.waitFailed(ctx, start)
}

func (p *Pool) waitFailed(ctx context.Context, start time.Time) error {
	if ctx.Err() != nil {
		return fmt.Errorf("acquire connection: %w", ctx.Err())
	}
	p.exhausted.Add(1)
	return errs.NewPoolExhausted(p.size, time.Since(start))
}

// connect checks out a connection from database/sql and validates it. A
// connection failing the liveness check is discarded and replaced.
func (p *Pool) connect(ctx, waitCtx context.Context, start time.Time) (*sqlx.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= p.size; attempt++ {
		conn, err := p.db.Connx(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, p.waitFailed(ctx, start)
			}
			return nil, errs.Classify("acquire connection", err)
		}

		var one int
		if err := conn.GetContext(waitCtx, &one, "SELECT 1"); err != nil {
			p.discard(conn, err)
			if waitCtx.Err() != nil {
				return nil, p.waitFailed(ctx, start)
			}
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, errs.Classify("acquire connection", fmt.Errorf("no live connection after %d attempts: %w", p.size+1, lastErr))
}

func (p *Pool) discard(conn *sqlx.Conn, cause error) {
	// Returning ErrBadConn from Raw makes database/sql drop the connection
	// instead of putting it back in its idle list.
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
	p.discarded.Add(1)
	p.log.With(map[string]interface{}{"path": p.path}).Error(cause, "discarded connection that failed liveness check")
}

// Stats returns a snapshot of pool usage.
func (p *Pool) Stats() Stats {
	dbStats := p.db.Stats()
	return Stats{
		Size:      p.size,
		Active:    int(p.active.Load()),
		Idle:      dbStats.Idle,
		Open:      dbStats.OpenConnections,
		WaitCount: p.waitCount.Load(),
		WaitTotal: time.Duration(p.waitTotal.Load()),
		Exhausted: p.exhausted.Load(),
		Discarded: p.discarded.Load(),
	}
}

// OperationStats returns per-operation timings recorded by ReadTx and WriteTx.
func (p *Pool) OperationStats() map[string]OperationStats {
	return p.metrics.Snapshot()
}

// Size is the maximum number of concurrent leases.
func (p *Pool) Size() int { return p.size }

// Path is the storage file the pool is bound to.
func (p *Pool) Path() string { return p.path }

// ReadTx runs fn in a transaction on a read lease. op names the operation
// in metrics and logs.
func (p *Pool) ReadTx(ctx context.Context, op string, fn TxFunc) error {
	return p.run(ctx, op, false, fn)
}

// WriteTx runs fn in a transaction on a writer lease. The transaction is
// committed only when fn returns nil; every other exit rolls back.
func (p *Pool) WriteTx(ctx context.Context, op string, fn TxFunc) error {
	return p.run(ctx, op, true, fn)
}

func (p *Pool) run(ctx context.Context, op string, write bool, fn TxFunc) (err error) {
	lease, err := p.acquire(ctx, write)
	if err != nil {
		p.metrics.observe(op, 0, err)
		return err
	}
	defer lease.Release()

	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if p.metrics.observe(op, elapsed, err) {
			p.log.With(map[string]interface{}{
				"op":         op,
				"elapsed_ms": elapsed.Milliseconds(),
			}).Warn("slow storage operation")
		}
	}()

	return lease.InTx(ctx, fn)
}

// Close closes every connection. Acquire fails afterwards.
func (p *Pool) Close() error {
	p.closed.Store(true)
	if err := p.db.Close(); err != nil {
		p.log.Error(err, fmt.Sprintf("sqlite pool close error for %s", p.path))
		return fmt.Errorf("closing %s: %w", p.path, err)
	}
	p.log.With(map[string]interface{}{"path": p.path}).Info("sqlite pool closed")
	return nil
}

// TxFunc is the body of a transaction.
type TxFunc func(tx *sqlx.Tx) error

// Lease is an exclusive borrow of one pooled connection. Release is safe to
// call more than once and must be deferred right after a successful acquire.
type Lease struct {
	pool   *Pool
	conn   *sqlx.Conn
	writer bool
	once   sync.Once
}

// Conn exposes the leased connection. It must not be used after Release.
func (l *Lease) Conn() *sqlx.Conn { return l.conn }

// Writer reports whether the lease holds the writer token.
func (l *Lease) Writer() bool { return l.writer }

// InTx begins a transaction on the leased connection, runs fn and commits.
// Any error or panic from fn, and a context cancelled mid-way, roll back.
func (l *Lease) InTx(ctx context.Context, fn TxFunc) error {
	tx, err := l.conn.BeginTxx(ctx, nil)
	if err != nil {
		return errs.Classify("begin transaction", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			l.pool.log.Error(rbErr, "rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Classify("commit transaction", err)
	}
	committed = true
	return nil
}

// Release returns the connection and frees the slot (and writer token).
func (l *Lease) Release() {
	l.once.Do(func() {
		if err := l.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			l.pool.log.Error(err, "returning connection to pool")
		}
		l.pool.active.Add(-1)
		l.pool.slots.Release(1)
		if l.writer {
			l.pool.writer.Release(1)
		}
	})
}
