package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/discount"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/preference"
	"github.com/noah-isme/pos-settlement/internal/pricebook"
	"github.com/noah-isme/pos-settlement/internal/resilience"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

// Source loads the catalog snapshot and currency descriptors from persistent storage.
type Source interface {
	Load(ctx context.Context) (Snapshot, []currency.Descriptor, error)
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Currency      *currency.Store
	Snapshot      Snapshot
	Preferences   preference.Store
	Notifier      Notifier
	Metrics       *obs.SettlementMetrics
	Logger        zerolog.Logger
	QuantityTiers bool
	Now           func() time.Time
}

// Service owns the process-wide currency store and the current catalog snapshot and builds
// sessions for terminals.
type Service struct {
	currency      *currency.Store
	prefs         preference.Store
	notifier      Notifier
	metrics       *obs.SettlementMetrics
	log           zerolog.Logger
	quantityTiers bool
	now           func() time.Time

	snapshot atomic.Pointer[Snapshot]
	revision atomic.Uint64
}

// NewService validates cfg and publishes its snapshot.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Currency == nil {
		return nil, ErrNotConfigured
	}
	s := &Service{
		currency:      cfg.Currency,
		prefs:         cfg.Preferences,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		log:           cfg.Logger.With().Str("component", "settlement").Logger(),
		quantityTiers: cfg.QuantityTiers,
		now:           cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.ReplaceSnapshot(cfg.Snapshot)
	return s, nil
}

// Currency returns the shared currency store.
func (s *Service) Currency() *currency.Store { return s.currency }

// Snapshot returns the snapshot new sessions price against.
func (s *Service) Snapshot() Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return Snapshot{}
}

// ReplaceSnapshot publishes snap under a new revision and returns it.
func (s *Service) ReplaceSnapshot(snap Snapshot) Snapshot {
	snap.Revision = s.revision.Add(1)
	s.snapshot.Store(&snap)
	return snap
}

// NewSession builds a session for terminal against the current snapshot.
func (s *Service) NewSession(ctx context.Context, terminal string) (*Session, error) {
	return NewSession(ctx, Config{
		Terminal:      terminal,
		Currency:      s.currency,
		Snapshot:      s.Snapshot(),
		Preferences:   s.prefs,
		Notifier:      s.notifier,
		Metrics:       s.metrics,
		Logger:        s.log,
		Now:           s.now,
		QuantityTiers: s.quantityTiers,
	})
}

// ResolvePrice looks up a unit price in the current snapshot. A positive quantity selects volume
// tiers by quantity.
func (s *Service) ResolvePrice(sku, unit, column string, qty decimal.Decimal) pricebook.Resolution {
	resolver := s.Snapshot().Resolver(s.now)
	if qty.IsPositive() {
		return resolver.ResolveForQuantity(sku, unit, column, qty)
	}
	return resolver.ResolveUnitPrice(sku, unit, column)
}

// QuoteLine is one line of a stateless quote request.
type QuoteLine struct {
	SKU             string           `json:"sku" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity"`
	Unit            string           `json:"unit"`
	DiscountPercent decimal.Decimal  `json:"discountPercent"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	Tax             *tax.Treatment   `json:"tax,omitempty"`
}

// QuoteRequest is a complete cart priced in one call.
type QuoteRequest struct {
	Terminal string          `json:"-"`
	Column   string          `json:"column"`
	Lines    []QuoteLine     `json:"lines" validate:"required,min=1,dive"`
	Discount *discount.Input `json:"discount,omitempty"`
}

// Preview compares the totals of a cart with and without a discount.
type Preview struct {
	Current PaymentTotals `json:"current"`
	Preview PaymentTotals `json:"preview"`
}

// Quote prices req and applies its discount.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (PaymentTotals, error) {
	ctx, span := otel.Tracer("settlement.Service").Start(ctx, "SettlementService.Quote")
	defer span.End()
	started := time.Now()

	out, err := s.quote(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveQuote("error", time.Since(started))
		return PaymentTotals{}, err
	}
	span.SetAttributes(
		attribute.Int("settlement.lines", len(out.Lines)),
		attribute.String("settlement.currency", out.Currency),
		attribute.Bool("settlement.discounted", out.Discount != nil),
	)
	s.metrics.ObserveQuote("ok", time.Since(started))
	return out, nil
}

// PreviewQuote prices req without its discount and with it.
func (s *Service) PreviewQuote(ctx context.Context, req QuoteRequest) (Preview, error) {
	ctx, span := otel.Tracer("settlement.Service").Start(ctx, "SettlementService.PreviewQuote")
	defer span.End()

	if req.Discount == nil {
		return Preview{}, fmt.Errorf("%w: discount required", discount.ErrInvalidDiscount)
	}
	session, err := s.session(ctx, req)
	if err != nil {
		span.RecordError(err)
		return Preview{}, err
	}
	current, err := session.Totals()
	if err != nil {
		span.RecordError(err)
		return Preview{}, err
	}
	preview, err := session.PreviewDiscount(*req.Discount)
	if err != nil {
		span.RecordError(err)
		return Preview{}, err
	}
	return Preview{Current: current, Preview: preview}, nil
}

func (s *Service) quote(ctx context.Context, req QuoteRequest) (PaymentTotals, error) {
	session, err := s.session(ctx, req)
	if err != nil {
		return PaymentTotals{}, err
	}
	if req.Discount != nil {
		return session.ApplyDiscount(*req.Discount)
	}
	return session.Totals()
}

func (s *Service) session(ctx context.Context, req QuoteRequest) (*Session, error) {
	session, err := s.NewSession(ctx, req.Terminal)
	if err != nil {
		return nil, err
	}
	if column := strings.TrimSpace(req.Column); column != "" {
		if err := session.useColumn(column); err != nil {
			return nil, err
		}
	}
	for i, line := range req.Lines {
		if _, err := session.AddItem(AddItemInput{
			SKU:             line.SKU,
			Quantity:        line.Quantity,
			Unit:            line.Unit,
			DiscountPercent: line.DiscountPercent,
			Tax:             line.Tax,
			Price:           line.Price,
		}); err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
	}
	return session, nil
}

// PriceColumn returns the column stored for terminal, or the base column when none is stored.
func (s *Service) PriceColumn(ctx context.Context, terminal string) (string, error) {
	snap := s.Snapshot()
	if s.prefs != nil {
		column, ok, err := s.prefs.Get(ctx, terminal)
		if err != nil {
			return "", err
		}
		if ok && snap.HasColumn(column) {
			return column, nil
		}
	}
	if c, ok := snap.Book.BaseColumn(); ok {
		return c.ID, nil
	}
	return "", nil
}

// SetPriceColumn validates and stores the column selected on terminal.
func (s *Service) SetPriceColumn(ctx context.Context, terminal, column string) error {
	column = strings.TrimSpace(column)
	if !s.Snapshot().HasColumn(column) {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, column)
	}
	if s.prefs == nil {
		return errors.New("settlement: preference store not configured")
	}
	return s.prefs.Set(ctx, terminal, column)
}

// Reload loads a new snapshot and currency descriptors from src. Descriptors are upserted into the
// currency store; base and document selections are kept.
func (s *Service) Reload(ctx context.Context, src Source) error {
	snap, descs, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	for _, d := range descs {
		if err := s.currency.UpdateCurrency(d); err != nil {
			s.log.Warn().Err(err).Str("currency", d.Code).Msg("skip currency descriptor")
		}
	}
	published := s.ReplaceSnapshot(snap)
	s.log.Info().
		Uint64("revision", published.Revision).
		Int("products", len(published.Book.Products)).
		Int("currencies", len(descs)).
		Msg("snapshot reloaded")
	return nil
}

// Watch reloads from src every interval until ctx is cancelled. Failed reloads are retried
// sooner with exponential backoff, never later than interval.
func (s *Service) Watch(ctx context.Context, src Source, interval time.Duration) {
	if interval <= 0 {
		return
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next := interval
			if err := s.Reload(ctx, src); err != nil {
				failures++
				s.log.Error().Err(err).Int("attempt", failures).Msg("reload snapshot")
				if d := resilience.Backoff(time.Second, failures, 0.2); d < interval {
					next = d
				}
			} else {
				failures = 0
			}
			timer.Reset(next)
		}
	}
}

// GuardedSource wraps a Source with a circuit breaker so a failing database is not queried on
// every tick.
type GuardedSource struct {
	Source  Source
	Breaker *resilience.Breaker
}

// Load implements Source.
func (g GuardedSource) Load(ctx context.Context) (Snapshot, []currency.Descriptor, error) {
	if g.Breaker == nil {
		return g.Source.Load(ctx)
	}
	var (
		snap  Snapshot
		descs []currency.Descriptor
	)
	err := g.Breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		snap, descs, err = g.Source.Load(ctx)
		return err
	})
	return snap, descs, err
}
