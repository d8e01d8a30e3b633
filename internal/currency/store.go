package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownCurrency is returned when a currency code is not configured in the store.
	ErrUnknownCurrency = errors.New("currency: unknown currency")
	// ErrInvalidCurrency indicates a descriptor failed validation.
	ErrInvalidCurrency = errors.New("currency: invalid descriptor")
	// ErrBaseCurrency is returned when an operation would leave the store without a usable base currency.
	ErrBaseCurrency = errors.New("currency: base currency constraint")
)

// SymbolPosition controls where the display symbol is rendered.
type SymbolPosition string

const (
	SymbolBefore SymbolPosition = "before"
	SymbolAfter  SymbolPosition = "after"
)

// Descriptor describes one configured currency. Rate expresses the value of one unit of the
// currency in the reference currency the rates were captured against.
type Descriptor struct {
	Code      string          `json:"code"`
	Name      string          `json:"name,omitempty"`
	Rate      decimal.Decimal `json:"rate"`
	Precision int32           `json:"precision"`
	Symbol    string          `json:"symbol"`
	Position  SymbolPosition  `json:"position"`
	Active    bool            `json:"active"`
	Base      bool            `json:"base"`
}

func (d Descriptor) normalized() (Descriptor, error) {
	d.Code = NormalizeCode(d.Code)
	if d.Code == "" {
		return d, fmt.Errorf("%w: code is required", ErrInvalidCurrency)
	}
	if !d.Rate.IsPositive() {
		return d, fmt.Errorf("%w: %s rate must be positive", ErrInvalidCurrency, d.Code)
	}
	if d.Precision < 0 {
		d.Precision = 0
	}
	if d.Position != SymbolAfter {
		d.Position = SymbolBefore
	}
	d.Symbol = strings.TrimSpace(d.Symbol)
	return d, nil
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Snapshot is an immutable view of the store taken under a single read lock.
type Snapshot struct {
	Version    uint64
	BaseCode   string
	Document   string
	currencies map[string]Descriptor
}

// Descriptor returns the descriptor for code.
func (s Snapshot) Descriptor(code string) (Descriptor, bool) {
	d, ok := s.currencies[NormalizeCode(code)]
	return d, ok
}

// Currencies lists descriptors ordered with the base first, then by code.
func (s Snapshot) Currencies() []Descriptor {
	out := make([]Descriptor, 0, len(s.currencies))
	for _, d := range s.currencies {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base != out[j].Base {
			return out[i].Base
		}
		return out[i].Code < out[j].Code
	})
	return out
}

// EffectiveRate returns the rate of code relative to the current base currency.
func (s Snapshot) EffectiveRate(code string) (decimal.Decimal, error) {
	d, ok := s.Descriptor(code)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(code))
	}
	if d.Code == s.BaseCode {
		return decimal.NewFromInt(1), nil
	}
	base := s.currencies[s.BaseCode]
	return d.Rate.Div(base.Rate), nil
}

// GetRate returns the multiplier converting one unit of from into to. The base rate cancels out
// of the pivot, so stored rates are divided directly.
func (s Snapshot) GetRate(from, to string) (decimal.Decimal, error) {
	src, ok := s.Descriptor(from)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(from))
	}
	dst, ok := s.Descriptor(to)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(to))
	}
	if src.Code == dst.Code {
		return decimal.NewFromInt(1), nil
	}
	return src.Rate.Div(dst.Rate), nil
}

// Convert converts amount from one currency into another and rounds to the destination precision.
// A positive override replaces the derived rate.
func (s Snapshot) Convert(amount decimal.Decimal, from, to string, override *decimal.Decimal) (decimal.Decimal, error) {
	dest, ok := s.Descriptor(to)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(to))
	}
	var rate decimal.Decimal
	if override != nil && override.IsPositive() {
		if _, ok := s.Descriptor(from); !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(from))
		}
		rate = *override
	} else {
		r, err := s.GetRate(from, to)
		if err != nil {
			return decimal.Zero, err
		}
		rate = r
	}
	return amount.Mul(rate).Round(dest.Precision), nil
}

// Round rounds amount to the precision configured for code.
func (s Snapshot) Round(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	d, ok := s.Descriptor(code)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, NormalizeCode(code))
	}
	return amount.Round(d.Precision), nil
}

// Store holds currency descriptors for one or more settlement sessions. All mutations are applied
// under a write lock and subscribers are notified synchronously afterwards with the committed snapshot.
type Store struct {
	mu          sync.RWMutex
	currencies  map[string]Descriptor
	base        string
	document    string
	version     uint64
	subscribers map[uint64]func(Snapshot)
	nextSub     uint64
}

// NewStore builds a store from descriptors. base selects the base currency explicitly; when empty
// the descriptor flagged Base is used. document defaults to the base currency.
func NewStore(descs []Descriptor, base, document string) (*Store, error) {
	s := &Store{
		currencies:  make(map[string]Descriptor, len(descs)),
		subscribers: make(map[uint64]func(Snapshot)),
	}
	base = NormalizeCode(base)
	for _, raw := range descs {
		d, err := raw.normalized()
		if err != nil {
			return nil, err
		}
		if _, dup := s.currencies[d.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidCurrency, d.Code)
		}
		if base == "" && d.Base {
			base = d.Code
		}
		s.currencies[d.Code] = d
	}
	if base == "" {
		return nil, fmt.Errorf("%w: no base currency configured", ErrBaseCurrency)
	}
	if _, ok := s.currencies[base]; !ok {
		return nil, fmt.Errorf("%w: base %s", ErrUnknownCurrency, base)
	}
	s.setBaseLocked(base)
	document = NormalizeCode(document)
	if document == "" {
		document = base
	}
	if _, ok := s.currencies[document]; !ok {
		return nil, fmt.Errorf("%w: document %s", ErrUnknownCurrency, document)
	}
	s.document = document
	return s, nil
}

// Snapshot returns a consistent copy of the store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	copied := make(map[string]Descriptor, len(s.currencies))
	for k, v := range s.currencies {
		copied[k] = v
	}
	return Snapshot{Version: s.version, BaseCode: s.base, Document: s.document, currencies: copied}
}

// Version increases on every committed mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Base returns the base currency code.
func (s *Store) Base() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

// Document returns the document currency code.
func (s *Store) Document() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.document
}

// Currencies lists configured descriptors.
func (s *Store) Currencies() []Descriptor {
	return s.Snapshot().Currencies()
}

// Descriptor returns the descriptor registered for code.
func (s *Store) Descriptor(code string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.currencies[NormalizeCode(code)]
	return d, ok
}

// GetRate returns the conversion multiplier between two currencies.
func (s *Store) GetRate(from, to string) (decimal.Decimal, error) {
	return s.Snapshot().GetRate(from, to)
}

// Convert converts amount between currencies, rounding to the destination precision.
func (s *Store) Convert(amount decimal.Decimal, from, to string, override *decimal.Decimal) (decimal.Decimal, error) {
	return s.Snapshot().Convert(amount, from, to, override)
}

// SetBaseCurrency makes code the base currency. Stored rates are left untouched; effective rates are
// derived relative to the new base. A document currency pointing at the old base follows the new one.
func (s *Store) SetBaseCurrency(code string) error {
	code = NormalizeCode(code)
	snap, err := s.mutate(func() error {
		d, ok := s.currencies[code]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
		}
		if !d.Active {
			return fmt.Errorf("%w: %s is inactive", ErrBaseCurrency, code)
		}
		old := s.base
		s.setBaseLocked(code)
		if s.document == old {
			s.document = code
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(snap)
	return nil
}

// SetDocumentCurrency selects the currency documents are denominated in.
func (s *Store) SetDocumentCurrency(code string) error {
	code = NormalizeCode(code)
	snap, err := s.mutate(func() error {
		if _, ok := s.currencies[code]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
		}
		s.document = code
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(snap)
	return nil
}

// UpdateCurrency inserts or replaces a descriptor. The base flag on the input is ignored; use
// SetBaseCurrency to move the base.
func (s *Store) UpdateCurrency(desc Descriptor) error {
	d, err := desc.normalized()
	if err != nil {
		return err
	}
	snap, err := s.mutate(func() error {
		d.Base = d.Code == s.base
		if d.Base && !d.Active {
			return fmt.Errorf("%w: cannot deactivate base %s", ErrBaseCurrency, d.Code)
		}
		s.currencies[d.Code] = d
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(snap)
	return nil
}

// RemoveCurrency deletes a descriptor that is neither the base nor the document currency.
func (s *Store) RemoveCurrency(code string) error {
	code = NormalizeCode(code)
	snap, err := s.mutate(func() error {
		if _, ok := s.currencies[code]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
		}
		if code == s.base || code == s.document {
			return fmt.Errorf("%w: %s is in use", ErrBaseCurrency, code)
		}
		delete(s.currencies, code)
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(snap)
	return nil
}

// Subscribe registers fn to be called after every committed mutation. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *Store) mutate(apply func() error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := apply(); err != nil {
		return Snapshot{}, err
	}
	s.version++
	return s.snapshotLocked(), nil
}

func (s *Store) notify(snap Snapshot) {
	s.mu.RLock()
	ids := make([]uint64, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subscribers[id])
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Store) setBaseLocked(code string) {
	for k, d := range s.currencies {
		d.Base = k == code
		s.currencies[k] = d
	}
	s.base = code
}
