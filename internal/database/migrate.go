package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"go-press/internal/errs"
	"go-press/internal/logger"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

const ledgerSchema = `CREATE TABLE IF NOT EXISTS migrations_applied (
	step_number INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TEXT NOT NULL
)`

// Step is one numbered schema change.
type Step struct {
	Number     uint
	Name       string
	Statements []string
}

// StepState is the lifecycle of a step: Pending, then Applying, ending in
// Applied or Failed.
type StepState int

const (
	StatePending StepState = iota
	StateApplying
	StateApplied
	StateFailed
)

func (s StepState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplying:
		return "applying"
	case StateApplied:
		return "applied"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("StepState(%d)", int(s))
	}
}

// StepStatus reports a step and where it stands.
type StepStatus struct {
	Number    uint
	Name      string
	State     StepState
	AppliedAt time.Time
}

// LoadSteps reads N_name.up.sql files from dir in fsys, in ascending order
// of N. Duplicate numbers are rejected by the source parser.
func LoadSteps(fsys fs.FS, dir string) ([]Step, error) {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first migration: %w", err)
	}

	var steps []Step
	for {
		r, identifier, err := src.ReadUp(version)
		if err != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, err)
		}
		body, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, err)
		}

		statements := splitStatements(string(body))
		if len(statements) == 0 {
			return nil, fmt.Errorf("migration %d (%s) has no statements", version, identifier)
		}
		steps = append(steps, Step{Number: version, Name: identifier, Statements: statements})

		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return steps, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next migration after %d: %w", version, err)
		}
		version = next
	}
}

// splitStatements breaks a script into statements. A statement ends at a
// line whose last non-space character is ';'. Lines starting with "--" are
// dropped.
func splitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			statements = append(statements, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		statements = append(statements, rest)
	}
	return statements
}

// Migrator applies steps exactly once, in ascending order, recording each in
// the migrations_applied ledger inside the step's own transaction.
type Migrator struct {
	pool  *Pool
	steps []Step
	log   logger.Logger
	now   func() time.Time

	mu     sync.Mutex
	states map[uint]StepState
}

// NewMigrator validates that step numbers are unique and non-zero.
func NewMigrator(pool *Pool, steps []Step, log logger.Logger) (*Migrator, error) {
	if log == nil {
		log = logger.Nop()
	}
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })

	states := make(map[uint]StepState, len(sorted))
	for i, step := range sorted {
		if step.Number == 0 {
			return nil, errs.NewMigrationFailed(0, step.Name, errors.New("step numbers start at 1"))
		}
		if i > 0 && sorted[i-1].Number == step.Number {
			return nil, errs.NewMigrationFailed(step.Number, step.Name, errors.New("duplicate step number"))
		}
		states[step.Number] = StatePending
	}

	return &Migrator{
		pool:   pool,
		steps:  sorted,
		log:    log,
		now:    time.Now,
		states: states,
	}, nil
}

// Up applies all pending steps and returns the numbers it applied. The
// first failure stops the run with an *errs.MigrationError; steps applied
// before it stay applied.
func (m *Migrator) Up(ctx context.Context) ([]uint, error) {
	lease, err := m.pool.AcquireWriter(ctx)
	if err != nil {
		return nil, errs.NewMigrationFailed(0, "acquire", err)
	}
	defer lease.Release()

	if err := lease.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, ledgerSchema)
		return err
	}); err != nil {
		return nil, errs.NewMigrationFailed(0, "ledger", err)
	}

	applied, err := readLedger(ctx, lease.Conn())
	if err != nil {
		if errs.IsMigrationFailed(err) {
			return nil, err
		}
		return nil, errs.NewMigrationFailed(0, "ledger", err)
	}
	if err := m.checkLedger(applied); err != nil {
		return nil, err
	}

	var done []uint
	for _, step := range m.steps {
		if _, ok := applied[step.Number]; ok {
			m.setState(step.Number, StateApplied)
			continue
		}

		log := m.log.With(map[string]interface{}{"step": step.Number, "name": step.Name})
		log.Info("applying migration")
		m.setState(step.Number, StateApplying)

		err := lease.InTx(ctx, func(tx *sqlx.Tx) error {
			for i, stmt := range step.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("statement %d: %w", i+1, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO migrations_applied (step_number, name, applied_at) VALUES (?, ?, ?)`,
				step.Number, step.Name, m.now().UTC().Format(time.RFC3339Nano))
			if err != nil {
				return fmt.Errorf("record step: %w", err)
			}
			return nil
		})
		if err != nil {
			m.setState(step.Number, StateFailed)
			log.Error(err, "migration failed")
			return done, errs.NewMigrationFailed(step.Number, step.Name, err)
		}

		m.setState(step.Number, StateApplied)
		done = append(done, step.Number)
	}

	if len(done) == 0 {
		m.log.Debug("schema is up to date")
	}
	return done, nil
}

// checkLedger refuses ledgers that would force a skip or a reorder: entries
// for steps this binary does not know, or pending steps numbered below the
// highest applied step.
func (m *Migrator) checkLedger(applied map[uint]time.Time) error {
	known := make(map[uint]bool, len(m.steps))
	for _, step := range m.steps {
		known[step.Number] = true
	}

	var highest uint
	for number := range applied {
		if !known[number] {
			return errs.NewMigrationFailed(number, "", errors.New("ledger lists a step unknown to this build"))
		}
		if number > highest {
			highest = number
		}
	}

	for _, step := range m.steps {
		if _, ok := applied[step.Number]; !ok && step.Number < highest {
			return errs.NewMigrationFailed(step.Number, step.Name,
				fmt.Errorf("pending step precedes applied step %d", highest))
		}
	}
	return nil
}

// Status reports every known step. It reads the ledger on a read lease and
// does not create it.
func (m *Migrator) Status(ctx context.Context) ([]StepStatus, error) {
	lease, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	var exists int
	if err := lease.Conn().GetContext(ctx, &exists,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'migrations_applied'`); err != nil {
		return nil, errs.Classify("migration status", err)
	}

	applied := map[uint]time.Time{}
	if exists > 0 {
		if applied, err = readLedger(ctx, lease.Conn()); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]StepStatus, 0, len(m.steps))
	for _, step := range m.steps {
		status := StepStatus{Number: step.Number, Name: step.Name, State: m.states[step.Number]}
		if at, ok := applied[step.Number]; ok {
			status.State = StateApplied
			status.AppliedAt = at
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Steps returns the known steps in order.
func (m *Migrator) Steps() []Step {
	return append([]Step(nil), m.steps...)
}

func (m *Migrator) setState(number uint, state StepState) {
	m.mu.Lock()
	m.states[number] = state
	m.mu.Unlock()
}

type ledgerRow struct {
	Step      uint   `db:"step_number"`
	AppliedAt string `db:"applied_at"`
}

// readLedger returns the applied steps and when each was applied. A ledger
// row whose timestamp does not parse fails the read.
func readLedger(ctx context.Context, conn *sqlx.Conn) (map[uint]time.Time, error) {
	var rows []ledgerRow
	if err := conn.SelectContext(ctx, &rows, `SELECT step_number, applied_at FROM migrations_applied ORDER BY step_number`); err != nil {
		return nil, errs.Classify("read migration ledger", err)
	}
	applied := make(map[uint]time.Time, len(rows))
	for _, row := range rows {
		at, err := time.Parse(time.RFC3339Nano, row.AppliedAt)
		if err != nil {
			return nil, errs.NewMigrationFailed(row.Step, "ledger", fmt.Errorf("malformed applied_at %q: %w", row.AppliedAt, err))
		}
		applied[row.Step] = at
	}
	return applied, nil
}
