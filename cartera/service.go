// Package cartera runs statements, imports and prepayment applications for
// receivable and payable accounts on top of a ledger.BalanceStore.
package cartera

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/floraexport/cartera/cache"
	"github.com/floraexport/cartera/ledger"
)

// DefaultMaxCommitAttempts bounds Apply retries on a stale snapshot.
const DefaultMaxCommitAttempts = 3

// Service is the application layer the API and CLI share.
type Service struct {
	store  ledger.BalanceStore
	ledger ledger.Ledger
	cache  *cache.Cache
	log    zerolog.Logger
	now    func() ledger.Date

	maxCommitAttempts int
}

type Option func(*Service)

// WithCache enables statement caching. A nil cache disables it.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock fixes "today", for tests and reproducible CLI output.
func WithClock(now func() ledger.Date) Option {
	return func(s *Service) { s.now = now }
}

func WithMaxCommitAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCommitAttempts = n
		}
	}
}

func NewService(store ledger.BalanceStore, opts ...Option) *Service {
	s := &Service{
		store:             store,
		ledger:            ledger.NewLedger(store),
		log:               zerolog.Nop(),
		now:               ledger.Today,
		maxCommitAttempts: DefaultMaxCommitAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func checkAccount(account ledger.Account) error {
	if !account.Side.IsValid() || account.CounterpartyID == "" {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidAccount, account)
	}
	return nil
}

// =============================================================================
// READ PATH
// =============================================================================

// StatementQuery selects what a statement shows. A zero AsOf means the end of
// the period, or today when the period is open.
type StatementQuery struct {
	Account ledger.Account
	Period  ledger.Period
	AsOf    ledger.Date
}

// Statement is the computed view of one account over a period.
type Statement struct {
	Account        ledger.Account
	Period         ledger.Period
	AsOf           ledger.Date
	OpeningBalance decimal.Decimal
	Rows           []ledger.RunningRow
	Credits        []ledger.PrepaymentCredit
	Summary        ledger.Summary
	Aging          ledger.AgingReport
}

func (s *Service) asOf(q StatementQuery) ledger.Date {
	switch {
	case !q.AsOf.IsZero():
		return q.AsOf
	case !q.Period.End.IsZero():
		return q.Period.End
	default:
		return s.now()
	}
}

// Statement builds the statement, from the cache when one is configured.
func (s *Service) Statement(ctx context.Context, q StatementQuery) (*Statement, error) {
	if err := checkAccount(q.Account); err != nil {
		return nil, err
	}
	if err := q.Period.Validate(); err != nil {
		return nil, err
	}
	q.AsOf = s.asOf(q)

	key, err := s.cache.BuildKey(ctx, q.Account.String(), "statement",
		q.Period.Start.String(), q.Period.End.String(), q.AsOf.String())
	if err != nil {
		// Serve uncached while Redis is unreachable.
		s.log.Warn().Err(err).Str("account", q.Account.String()).Msg("statement cache unavailable")
		return s.buildStatement(ctx, q)
	}

	var st Statement
	err = s.cache.FetchJSON(ctx, key, &st, func(ctx context.Context) (any, error) {
		return s.buildStatement(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) buildStatement(ctx context.Context, q StatementQuery) (*Statement, error) {
	var (
		movements []ledger.Movement
		credits   []ledger.PrepaymentCredit
		invoices  []ledger.InvoiceBalance
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		movements, err = s.ledger.Movements(gctx, q.Account)
		return err
	})
	g.Go(func() error {
		var err error
		credits, err = s.store.Credits(gctx, q.Account)
		return err
	})
	g.Go(func() error {
		var err error
		invoices, err = s.store.OpenInvoices(gctx, q.Account)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load account %s: %w", q.Account, err)
	}

	opening := decimal.Zero
	if !q.Period.Start.IsZero() {
		opening = ledger.OpeningBalance(movements, q.Period.Start)
	}

	inWindow := make([]ledger.Movement, 0, len(movements))
	for _, m := range movements {
		if q.Period.Contains(m.Date) {
			inWindow = append(inWindow, m)
		}
	}
	rows := ledger.Accumulate(opening, ledger.SortByDate(inWindow))

	return &Statement{
		Account:        q.Account,
		Period:         q.Period,
		AsOf:           q.AsOf,
		OpeningBalance: opening,
		Rows:           rows,
		Credits:        credits,
		Summary:        ledger.Summarize(opening, rows, credits),
		Aging:          ledger.AgeInvoices(invoices, q.AsOf),
	}, nil
}

// Movements lists the account's movements inside period in date order.
// A zero period lists everything.
func (s *Service) Movements(ctx context.Context, account ledger.Account, period ledger.Period) ([]ledger.Movement, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	return s.ledger.MovementsIn(ctx, account, period)
}

func (s *Service) OpenInvoices(ctx context.Context, account ledger.Account) ([]ledger.InvoiceBalance, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	return s.store.OpenInvoices(ctx, account)
}

func (s *Service) Credits(ctx context.Context, account ledger.Account) ([]ledger.PrepaymentCredit, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	return s.store.Credits(ctx, account)
}

// Aging ages the open invoices at asOf (today when zero).
func (s *Service) Aging(ctx context.Context, account ledger.Account, asOf ledger.Date) (ledger.AgingReport, error) {
	invoices, err := s.OpenInvoices(ctx, account)
	if err != nil {
		return ledger.AgingReport{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	return ledger.AgeInvoices(invoices, asOf), nil
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportResult reports what an import did.
type ImportResult struct {
	Imported []ledger.Movement
	Skipped  int
	Issues   []ledger.ParseError
}

// Import normalizes raw records and appends them to the account in one batch.
// Records whose source id was already imported are skipped, so re-sending a
// file is harmless. Records without an id get a random one and are never
// considered duplicates.
func (s *Service) Import(ctx context.Context, account ledger.Account, raws []ledger.RawMovement) (*ImportResult, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}

	result := &ImportResult{}
	n := ledger.NewNormalizer()
	n.OnIssue = func(pe ledger.ParseError) {
		result.Issues = append(result.Issues, pe)
		s.log.Warn().
			Str("account", account.String()).
			Int("record", pe.RecordIndex).
			Str("field", pe.Field).
			Interface("value", pe.Value).
			Msg("unparsable field replaced with zero value")
	}

	seen := make(map[string]bool, len(raws))
	batch := make([]ledger.Movement, 0, len(raws))
	for _, m := range n.Normalize(raws) {
		m.Account = account
		if m.ID == "" {
			m.ID = ledger.MovementID(uuid.NewString())
		}
		m.IdempotencyKey = account.String() + ":" + string(m.ID)

		if seen[m.IdempotencyKey] {
			result.Skipped++
			continue
		}
		seen[m.IdempotencyKey] = true

		exists, err := s.store.Exists(ctx, m.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}
		batch = append(batch, m)
	}

	if len(batch) > 0 {
		if err := s.ledger.AppendBatch(ctx, batch); err != nil {
			return nil, fmt.Errorf("import into %s: %w", account, err)
		}
		s.invalidate(ctx, account)
	}
	result.Imported = batch

	s.log.Info().
		Str("account", account.String()).
		Int("imported", len(batch)).
		Int("skipped", result.Skipped).
		Int("issues", len(result.Issues)).
		Msg("movements imported")
	return result, nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocationRequest asks to apply prepayment credits to open invoices.
// Without Applications the allocator fills invoices oldest first.
// ApplicationID is optional; sending the same one twice is rejected as a
// duplicate instead of paying twice.
type AllocationRequest struct {
	ApplicationID string
	Total         decimal.Decimal
	Selections    []ledger.CreditSelection
	Applications  []ledger.InvoiceApplication
}

// Propose plans an allocation against a fresh snapshot without writing.
func (s *Service) Propose(ctx context.Context, account ledger.Account, req AllocationRequest) (*ledger.Plan, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	snap, err := ledger.TakeSnapshot(ctx, s.store, account, s.now())
	if err != nil {
		return nil, err
	}
	return snap.Plan(req.Selections, req.Total, req.Applications)
}

// ApplyResult is a committed application.
type ApplyResult struct {
	ApplicationID string
	Plan          ledger.Plan
	AppliedAt     ledger.Date
	Attempts      int
}

// Apply plans and commits. When another writer moved an invoice or credit in
// between, the plan is rebuilt from a fresh snapshot and re-validated, up to
// the configured number of attempts.
func (s *Service) Apply(ctx context.Context, account ledger.Account, req AllocationRequest) (*ApplyResult, error) {
	if err := checkAccount(account); err != nil {
		return nil, err
	}
	appID := req.ApplicationID
	if appID == "" {
		appID = uuid.NewString()
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxCommitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := ledger.TakeSnapshot(ctx, s.store, account, s.now())
		if err != nil {
			return nil, err
		}
		plan, err := snap.Plan(req.Selections, req.Total, req.Applications)
		if err != nil {
			return nil, err
		}

		app := ledger.Application{ID: appID, Account: account, Plan: *plan, AppliedAt: snap.TakenAt}
		err = s.store.Commit(ctx, app)
		if errors.Is(err, ledger.ErrStaleSnapshot) {
			lastErr = err
			s.log.Debug().Err(err).Int("attempt", attempt).Str("application", appID).Msg("stale snapshot, replanning")
			continue
		}
		if err != nil {
			return nil, err
		}

		s.invalidate(ctx, account)
		s.log.Info().
			Str("account", account.String()).
			Str("application", appID).
			Str("total", plan.Total.StringFixed(ledger.CurrencyPlaces)).
			Int("invoices", len(plan.Allocations)).
			Msg("prepayment applied")
		return &ApplyResult{ApplicationID: appID, Plan: *plan, AppliedAt: snap.TakenAt, Attempts: attempt}, nil
	}
	return nil, fmt.Errorf("apply after %d attempts: %w", s.maxCommitAttempts, lastErr)
}

// Resetter is implemented by stores that can drop all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ErrNotResettable is returned by Reset when the store cannot drop its data.
var ErrNotResettable = errors.New("store cannot be reset")

// Reset wipes the store and the statement cache. Demo use only.
func (s *Service) Reset(ctx context.Context) error {
	r, ok := s.store.(Resetter)
	if !ok {
		return ErrNotResettable
	}
	if err := r.Reset(ctx); err != nil {
		return err
	}
	if err := s.cache.Purge(ctx); err != nil {
		s.log.Warn().Err(err).Msg("cache purge failed")
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, account ledger.Account) {
	if err := s.cache.Bump(ctx, account.String()); err != nil {
		s.log.Warn().Err(err).Str("account", account.String()).Msg("cache bump failed")
	}
}
