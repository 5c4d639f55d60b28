/*
Package sqlite provides a SQLite-backed ledger.BalanceStore.

PURPOSE:
  Persists movements, invoice balances, prepayment credits and committed
  applications. The same schema runs on any SQL backend with upserts;
  only the driver and the goose dialect change.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statement ever touches the movements table
  - invoice_balances and prepayment_credits are updated only by Commit,
    and every update is guarded by the version read in the same transaction

KEY TABLES:
  movements:          Immutable ledger rows, ordered by (date, seq)
  invoice_balances:   What is still owed per invoice, versioned
  prepayment_credits: Credit pool per account, versioned
  applications:       Committed allocation plans
  application_lines:  Per-invoice and per-credit amounts of each plan

MONEY AND DATES:
  Decimals are stored as TEXT to keep exact values. Dates are TEXT in
  YYYY-MM-DD form, so string order is date order; an unknown date is ''.

MIGRATIONS:
  Versioned SQL files are embedded from migrations/ and applied by goose on
  New(). Add a new numbered file; never edit an applied one.

CONCURRENCY:
  SQLite allows a single writer. The pool is capped at one connection and a
  RWMutex serializes writers, so every in-transaction read goes through the
  transaction itself.

USAGE:
  store, err := sqlite.New("./data/cartera.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/floraexport/cartera/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements ledger.BalanceStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.BalanceStore = (*Store)(nil)

// New opens the database and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: required for ":memory:", harmless for files.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// =============================================================================
// STORE (ledger.Store interface)
// =============================================================================

// Append persists a single movement and its derived balance row.
func (s *Store) Append(ctx context.Context, m ledger.Movement) error {
	return s.AppendBatch(ctx, []ledger.Movement{m})
}

// AppendBatch persists movements atomically.
func (s *Store) AppendBatch(ctx context.Context, ms []ledger.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]bool, len(ms))
	for _, m := range ms {
		if m.IdempotencyKey == "" {
			continue
		}
		if keys[m.IdempotencyKey] {
			return ledger.ErrDuplicateIdempotencyKey
		}
		keys[m.IdempotencyKey] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range ms {
		if err := appendMovement(ctx, tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func appendMovement(ctx context.Context, tx *sql.Tx, m ledger.Movement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO movements
		(movement_id, side, counterparty_id, kind, date, gross_amount, amount_consumed,
		 counterparty_label, reference_number, notes, editable, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Account.Side, m.Account.CounterpartyID, m.Kind, m.Date.String(), m.GrossAmount.String(),
		nullDecimal(m.AmountConsumed), m.CounterpartyLabel, m.ReferenceNumber, m.Notes, m.Editable,
		nullString(m.IdempotencyKey), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append movement: %w", err)
	}

	// Existing balance rows are never overwritten.
	var res sql.Result
	switch m.Kind {
	case ledger.KindInvoice:
		inv := ledger.DerivedInvoice(m)
		res, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_balances
			(side, counterparty_id, invoice_id, reference_number, current_balance, invoice_date, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT (side, counterparty_id, invoice_id) DO NOTHING`,
			m.Account.Side, m.Account.CounterpartyID, inv.InvoiceID, inv.ReferenceNumber,
			inv.CurrentBalance.String(), inv.InvoiceDate.String(),
		)
	case ledger.KindPrepayment:
		c := ledger.DerivedCredit(m)
		res, err = tx.ExecContext(ctx, `
			INSERT INTO prepayment_credits
			(side, counterparty_id, credit_id, date, gross_amount, amount_consumed, reference_number, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT (side, counterparty_id, credit_id) DO NOTHING`,
			m.Account.Side, m.Account.CounterpartyID, c.ID, c.Date.String(),
			c.GrossAmount.String(), c.AmountConsumed.String(), c.ReferenceNumber,
		)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to derive balance row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to derive balance row: %w", err)
	}
	if n == 0 {
		return ledger.ErrDuplicateDocument
	}
	return nil
}

const movementColumns = `movement_id, side, counterparty_id, kind, date, gross_amount, amount_consumed,
	counterparty_label, reference_number, notes, editable, idempotency_key`

// Load returns every movement of the account ordered by date, then insertion.
func (s *Store) Load(ctx context.Context, account ledger.Account) ([]ledger.Movement, error) {
	return s.LoadRange(ctx, account, ledger.Date{}, ledger.Date{})
}

// LoadRange returns movements dated in [from, to]; zero bounds are open.
func (s *Store) LoadRange(ctx context.Context, account ledger.Account, from, to ledger.Date) ([]ledger.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where = []string{"side = ?", "counterparty_id = ?"}
		args  = []any{account.Side, account.CounterpartyID}
	)
	if !from.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, from.String())
	}
	if !to.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, to.String())
	}

	query := "SELECT " + movementColumns + " FROM movements WHERE " +
		strings.Join(where, " AND ") + " ORDER BY date, seq"
	return s.queryMovements(ctx, query, args...)
}

// Exists checks whether an idempotency key was already written.
func (s *Store) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM movements WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryMovements(ctx context.Context, query string, args ...any) ([]ledger.Movement, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []ledger.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanMovement(rows *sql.Rows) (ledger.Movement, error) {
	var (
		m              ledger.Movement
		date           string
		amount         string
		consumed       sql.NullString
		idempotencyKey sql.NullString
	)
	err := rows.Scan(
		&m.ID, &m.Account.Side, &m.Account.CounterpartyID, &m.Kind, &date, &amount, &consumed,
		&m.CounterpartyLabel, &m.ReferenceNumber, &m.Notes, &m.Editable, &idempotencyKey,
	)
	if err != nil {
		return m, fmt.Errorf("failed to scan movement: %w", err)
	}
	m.Date, _ = ledger.ParseDate(date)
	m.GrossAmount = ledger.MustParseDecimal(amount)
	if consumed.Valid {
		m.AmountConsumed = ledger.MustParseDecimal(consumed.String)
	}
	m.IdempotencyKey = idempotencyKey.String
	return m, nil
}

// =============================================================================
// BALANCES (ledger.BalanceStore interface)
// =============================================================================

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// OpenInvoices returns invoices with a positive balance, oldest first.
func (s *Store) OpenInvoices(ctx context.Context, account ledger.Account) ([]ledger.InvoiceBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := queryInvoices(ctx, s.db, "side = ? AND counterparty_id = ?", account.Side, account.CounterpartyID)
	if err != nil {
		return nil, err
	}
	open := all[:0]
	for _, inv := range all {
		if inv.CurrentBalance.IsPositive() {
			open = append(open, inv)
		}
	}
	return open, nil
}

// Credits returns every credit of the account, oldest first.
func (s *Store) Credits(ctx context.Context, account ledger.Account) ([]ledger.PrepaymentCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryCredits(ctx, s.db, "side = ? AND counterparty_id = ?", account.Side, account.CounterpartyID)
}

func queryInvoices(ctx context.Context, q queryer, where string, args ...any) ([]ledger.InvoiceBalance, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT invoice_id, reference_number, current_balance, invoice_date, version
		FROM invoice_balances WHERE `+where+`
		ORDER BY invoice_date, invoice_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []ledger.InvoiceBalance
	for rows.Next() {
		var (
			inv     ledger.InvoiceBalance
			balance string
			date    string
		)
		if err := rows.Scan(&inv.InvoiceID, &inv.ReferenceNumber, &balance, &date, &inv.Version); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		inv.CurrentBalance = ledger.MustParseDecimal(balance)
		inv.InvoiceDate, _ = ledger.ParseDate(date)
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func queryCredits(ctx context.Context, q queryer, where string, args ...any) ([]ledger.PrepaymentCredit, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT credit_id, date, gross_amount, amount_consumed, reference_number, version
		FROM prepayment_credits WHERE `+where+`
		ORDER BY date, credit_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credits: %w", err)
	}
	defer rows.Close()

	var credits []ledger.PrepaymentCredit
	for rows.Next() {
		var (
			c              ledger.PrepaymentCredit
			date           string
			gross          string
			amountConsumed string
		)
		if err := rows.Scan(&c.ID, &date, &gross, &amountConsumed, &c.ReferenceNumber, &c.Version); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		c.Date, _ = ledger.ParseDate(date)
		c.GrossAmount = ledger.MustParseDecimal(gross)
		c.AmountConsumed = ledger.MustParseDecimal(amountConsumed)
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies a plan in one transaction. Every touched row is re-read and
// its version compared before anything is written.
func (s *Store) Commit(ctx context.Context, app ledger.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	acc := app.Account
	invoices := make(map[ledger.InvoiceID]*ledger.InvoiceBalance, len(app.Plan.Allocations))
	for _, alloc := range app.Plan.Allocations {
		found, err := queryInvoices(ctx, tx, "side = ? AND counterparty_id = ? AND invoice_id = ?",
			acc.Side, acc.CounterpartyID, alloc.InvoiceID)
		if err != nil {
			return err
		}
		var stored *ledger.InvoiceBalance
		if len(found) == 1 {
			stored = &found[0]
		}
		if err := ledger.CheckInvoice(stored, alloc); err != nil {
			return err
		}
		invoices[alloc.InvoiceID] = stored
	}

	credits := make(map[ledger.CreditID]*ledger.PrepaymentCredit, len(app.Plan.Consumptions))
	for _, use := range app.Plan.Consumptions {
		found, err := queryCredits(ctx, tx, "side = ? AND counterparty_id = ? AND credit_id = ?",
			acc.Side, acc.CounterpartyID, use.CreditID)
		if err != nil {
			return err
		}
		var stored *ledger.PrepaymentCredit
		if len(found) == 1 {
			stored = &found[0]
		}
		if err := ledger.CheckCredit(stored, use); err != nil {
			return err
		}
		credits[use.CreditID] = stored
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO applications (id, side, counterparty_id, strategy, total, applied_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		app.ID, acc.Side, acc.CounterpartyID, app.Plan.Strategy, app.Plan.Total.String(),
		app.AppliedAt.String(), now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to record application: %w", err)
	}

	for _, m := range app.PaymentMovements() {
		if err := appendMovement(ctx, tx, m); err != nil {
			return err
		}
	}

	for _, alloc := range app.Plan.Allocations {
		stored := invoices[alloc.InvoiceID]
		if err := updateVersioned(ctx, tx, `
			UPDATE invoice_balances SET current_balance = ?, version = version + 1
			WHERE side = ? AND counterparty_id = ? AND invoice_id = ? AND version = ?`,
			stored.CurrentBalance.Sub(alloc.Applied).String(),
			acc.Side, acc.CounterpartyID, alloc.InvoiceID, stored.Version,
		); err != nil {
			return staleOr(err, &ledger.StaleSnapshotError{InvoiceID: alloc.InvoiceID, ExpectedVersion: alloc.Version, ActualVersion: stored.Version})
		}
		if err := insertLine(ctx, tx, app.ID, "invoice", string(alloc.InvoiceID), alloc.Applied); err != nil {
			return err
		}
	}

	for _, use := range app.Plan.Consumptions {
		stored := credits[use.CreditID]
		if err := updateVersioned(ctx, tx, `
			UPDATE prepayment_credits SET amount_consumed = ?, version = version + 1
			WHERE side = ? AND counterparty_id = ? AND credit_id = ? AND version = ?`,
			stored.AmountConsumed.Add(use.Used).String(),
			acc.Side, acc.CounterpartyID, use.CreditID, stored.Version,
		); err != nil {
			return staleOr(err, &ledger.StaleSnapshotError{CreditID: use.CreditID, ExpectedVersion: use.Version, ActualVersion: stored.Version})
		}
		if err := insertLine(ctx, tx, app.ID, "credit", string(use.CreditID), use.Used); err != nil {
			return err
		}
	}

	return tx.Commit()
}

var errNoRowUpdated = errors.New("no row updated")

func updateVersioned(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return errNoRowUpdated
	}
	return nil
}

// staleOr reports a lost version race as stale; any other failure is a
// database error and is returned as such.
func staleOr(err error, stale *ledger.StaleSnapshotError) error {
	if errors.Is(err, errNoRowUpdated) {
		return stale
	}
	return fmt.Errorf("failed to update balance: %w", err)
}

func insertLine(ctx context.Context, tx *sql.Tx, appID, lineType, targetID string, amount decimal.Decimal) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO application_lines (application_id, line_type, target_id, amount)
		VALUES (?, ?, ?, ?)`,
		appID, lineType, targetID, amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to record application line: %w", err)
	}
	return nil
}

// ApplicationLine is one persisted amount of a committed application.
type ApplicationLine struct {
	LineType string
	TargetID string
	Amount   decimal.Decimal
}

// ApplicationLines returns the lines recorded for an application.
func (s *Store) ApplicationLines(ctx context.Context, appID string) ([]ApplicationLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT line_type, target_id, amount FROM application_lines
		WHERE application_id = ? ORDER BY line_type DESC, target_id`, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to query application lines: %w", err)
	}
	defer rows.Close()

	var lines []ApplicationLine
	for rows.Next() {
		var (
			line   ApplicationLine
			amount string
		)
		if err := rows.Scan(&line.LineType, &line.TargetID, &amount); err != nil {
			return nil, err
		}
		line.Amount = ledger.MustParseDecimal(amount)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"application_lines", "applications", "prepayment_credits", "invoice_balances", "movements"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d decimal.Decimal) sql.NullString {
	return sql.NullString{String: d.String(), Valid: !d.IsZero()}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
