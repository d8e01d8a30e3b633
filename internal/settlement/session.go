package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pos-settlement/internal/cart"
	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/discount"
	"github.com/noah-isme/pos-settlement/internal/obs"
	"github.com/noah-isme/pos-settlement/internal/preference"
	"github.com/noah-isme/pos-settlement/internal/pricebook"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

var (
	// ErrUnknownColumn is returned when a price column is not part of the price book.
	ErrUnknownColumn = errors.New("settlement: unknown price column")
	// ErrNotConfigured indicates a session was built without a currency store.
	ErrNotConfigured = errors.New("settlement: session not configured")
)

// Config wires a Session.
type Config struct {
	Terminal      string
	Currency      *currency.Store
	Snapshot      Snapshot
	Preferences   preference.Store
	Notifier      Notifier
	Metrics       *obs.SettlementMetrics
	Logger        zerolog.Logger
	Now           func() time.Time
	QuantityTiers bool
	NewID         func() uuid.UUID
}

// AddItemInput describes a line added through a session. A nil Price resolves the unit price from
// the price book; a non-nil Price creates a manually priced line.
type AddItemInput struct {
	SKU             string
	Quantity        decimal.Decimal
	Unit            string
	DiscountPercent decimal.Decimal
	Tax             *tax.Treatment
	Price           *decimal.Decimal
}

type memoKey struct {
	cart     uint64
	currency uint64
	snapshot uint64
	discount uint64
}

// Session settles one cart for one terminal. It is not safe for concurrent use.
type Session struct {
	terminal      string
	currency      *currency.Store
	snapshot      Snapshot
	prefs         preference.Store
	notifier      *DedupNotifier
	metrics       *obs.SettlementMetrics
	log           zerolog.Logger
	now           func() time.Time
	quantityTiers bool

	cart        *cart.Cart
	column      string
	discount    *discount.Input
	discountRev uint64

	memo      *PaymentTotals
	memoKey   memoKey
	memoError error
}

// NewSession builds a session and restores the terminal's last selected price column.
func NewSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Currency == nil {
		return nil, ErrNotConfigured
	}
	s := &Session{
		terminal:      strings.TrimSpace(cfg.Terminal),
		currency:      cfg.Currency,
		snapshot:      cfg.Snapshot,
		prefs:         cfg.Preferences,
		notifier:      NewDedupNotifier(cfg.Notifier),
		metrics:       cfg.Metrics,
		log:           cfg.Logger.With().Str("component", "settlement").Str("terminal_id", cfg.Terminal).Logger(),
		now:           cfg.Now,
		quantityTiers: cfg.QuantityTiers,
		cart:          cart.New(),
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.cart.NewID = cfg.NewID
	if s.prefs != nil && s.terminal != "" {
		column, ok, err := s.prefs.Get(ctx, s.terminal)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("load price column preference")
		case ok && s.snapshot.HasColumn(column):
			s.column = column
		case ok:
			s.log.Debug().Str("column", column).Msg("stored price column no longer exists")
		}
	}
	return s, nil
}

// Terminal returns the terminal id the session belongs to.
func (s *Session) Terminal() string { return s.terminal }

// PriceColumn returns the selected column, falling back to the book's base column.
func (s *Session) PriceColumn() string {
	if s.column != "" {
		return s.column
	}
	if c, ok := s.snapshot.Book.BaseColumn(); ok {
		return c.ID
	}
	return ""
}

// Items returns the cart lines.
func (s *Session) Items() []cart.Item { return s.cart.Items() }

// Snapshot returns the snapshot the session prices against.
func (s *Session) Snapshot() Snapshot { return s.snapshot }

// AddItem adds a line, resolving its price unless one is given.
func (s *Session) AddItem(in AddItemInput) (cart.Item, error) {
	res := s.resolve(in.SKU, in.Unit, in.Quantity)
	item, _, err := s.cart.Add(cart.NewItem{
		SKU:             in.SKU,
		Quantity:        in.Quantity,
		Unit:            res.UsedUnit,
		DiscountPercent: in.DiscountPercent,
		Tax:             in.Tax,
		Price:           in.Price,
	})
	if err != nil {
		return cart.Item{}, err
	}
	if item.ManualPrice {
		return item, nil
	}
	return s.reprice(item)
}

// UpdateQuantity changes the quantity of a line. Tiered prices are re-evaluated when enabled.
func (s *Session) UpdateQuantity(id uuid.UUID, qty decimal.Decimal) (cart.Item, error) {
	item, err := s.cart.UpdateQuantity(id, qty)
	if err != nil {
		return cart.Item{}, err
	}
	if !s.quantityTiers || item.ManualPrice {
		return item, nil
	}
	return s.reprice(item)
}

// ChangeUnit switches the unit of a line and re-prices it, dropping any manual price.
func (s *Session) ChangeUnit(id uuid.UUID, unit string) (cart.Item, error) {
	item, err := s.cart.SetUnit(id, unit)
	if err != nil {
		return cart.Item{}, err
	}
	return s.reprice(item)
}

// SetManualPrice overrides the unit price of a line.
func (s *Session) SetManualPrice(id uuid.UUID, price decimal.Decimal) (cart.Item, error) {
	return s.cart.SetPrice(id, price)
}

// SetLineDiscount sets the per-line discount percentage.
func (s *Session) SetLineDiscount(id uuid.UUID, percent decimal.Decimal) (cart.Item, error) {
	return s.cart.SetDiscountPercent(id, percent)
}

// SetLineTax overrides the tax treatment of a line; nil restores the default treatment.
func (s *Session) SetLineTax(id uuid.UUID, treatment *tax.Treatment) (cart.Item, error) {
	return s.cart.SetTax(id, treatment)
}

// RemoveItem deletes a line.
func (s *Session) RemoveItem(id uuid.UUID) error {
	return s.cart.Remove(id)
}

// Clear empties the cart and drops the stored discount.
func (s *Session) Clear() {
	s.cart.Clear()
	s.ClearDiscount()
}

// SetPriceColumn selects the price column, re-prices every line without a manual price and
// persists the choice for the terminal. Persistence failures are logged and do not undo the change.
func (s *Session) SetPriceColumn(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.useColumn(id); err != nil {
		return err
	}
	if s.prefs == nil || s.terminal == "" {
		return nil
	}
	if err := s.prefs.Set(ctx, s.terminal, id); err != nil {
		s.log.Warn().Err(err).Str("column", id).Msg("persist price column preference")
	}
	return nil
}

func (s *Session) useColumn(id string) error {
	if !s.snapshot.HasColumn(id) {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, id)
	}
	if id == s.column {
		return nil
	}
	s.column = id
	s.Reprice()
	return nil
}

// Reprice resolves every line without a manual price again.
func (s *Session) Reprice() {
	for _, item := range s.cart.Items() {
		if item.ManualPrice {
			continue
		}
		if _, err := s.reprice(item); err != nil {
			s.log.Error().Err(err).Str("item_id", item.ID.String()).Msg("reprice line")
		}
	}
}

// ReplaceSnapshot swaps the catalog data, forgets reported gaps and re-prices the cart. A selected
// column that no longer exists falls back to the base column.
func (s *Session) ReplaceSnapshot(snap Snapshot) {
	s.snapshot = snap
	if s.column != "" && !snap.HasColumn(s.column) {
		s.column = ""
	}
	s.notifier.Reset()
	s.Reprice()
}

func (s *Session) resolve(sku, unit string, qty decimal.Decimal) pricebook.Resolution {
	resolver := s.snapshot.Resolver(s.now)
	if s.quantityTiers {
		return resolver.ResolveForQuantity(sku, unit, s.column, qty)
	}
	return resolver.ResolveUnitPrice(sku, unit, s.column)
}

func (s *Session) reprice(item cart.Item) (cart.Item, error) {
	res := s.resolve(item.SKU, item.Unit, item.Quantity)
	updated, err := s.cart.ApplyResolution(item.ID, res)
	if err != nil {
		return cart.Item{}, err
	}
	if !res.HasPrice {
		s.notifier.NotifyMissingPrice(MissingPrice{
			Terminal:    s.terminal,
			SKU:         pricebook.NormalizeSKU(item.SKU),
			Unit:        res.UsedUnit,
			ColumnID:    res.UsedColumn,
			ColumnLabel: res.ColumnLabel,
		})
	}
	return updated, nil
}

// ComputeTotals computes the totals for the current cart with the given discount. It does not
// change the session.
func (s *Session) ComputeTotals(in *discount.Input) (PaymentTotals, error) {
	out, err := Compute(s.cart.Items(), s.snapshot, s.currency.Snapshot(), in)
	if err != nil {
		return PaymentTotals{}, err
	}
	mode := ""
	if out.Discount != nil {
		mode = string(out.Discount.Mode)
		if out.Discount.Clamped {
			s.metrics.ObserveClamped()
			s.log.Debug().
				Str("mode", mode).
				Str("applied", out.Discount.Amount.String()).
				Msg("discount capped at eligible base")
		}
	}
	s.metrics.ObserveComputation(mode)
	return out, nil
}

// PreviewDiscount computes the totals the cart would have with in applied.
func (s *Session) PreviewDiscount(in discount.Input) (PaymentTotals, error) {
	if err := in.Validate(); err != nil {
		return PaymentTotals{}, err
	}
	return s.ComputeTotals(&in)
}

// ApplyDiscount stores the global discount and returns the resulting totals.
func (s *Session) ApplyDiscount(in discount.Input) (PaymentTotals, error) {
	if err := in.Validate(); err != nil {
		return PaymentTotals{}, err
	}
	s.discount = &in
	s.discountRev++
	return s.Totals()
}

// ClearDiscount removes the stored global discount.
func (s *Session) ClearDiscount() {
	if s.discount == nil {
		return
	}
	s.discount = nil
	s.discountRev++
}

// Discount returns the stored global discount.
func (s *Session) Discount() (discount.Input, bool) {
	if s.discount == nil {
		return discount.Input{}, false
	}
	return *s.discount, true
}

// Totals returns the totals for the current cart and stored discount. The result is reused until
// the cart, the currency store, the snapshot or the discount changes.
func (s *Session) Totals() (PaymentTotals, error) {
	key := memoKey{
		cart:     s.cart.Revision(),
		currency: s.currency.Version(),
		snapshot: s.snapshot.Revision,
		discount: s.discountRev,
	}
	if (s.memo != nil || s.memoError != nil) && key == s.memoKey {
		if s.memoError != nil {
			return PaymentTotals{}, s.memoError
		}
		return s.memo.Clone(), nil
	}
	out, err := s.ComputeTotals(s.discount)
	s.memoKey = key
	if err != nil {
		s.memo, s.memoError = nil, err
		return PaymentTotals{}, err
	}
	memo := out.Clone()
	s.memo, s.memoError = &memo, nil
	return out, nil
}
