package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pos-settlement/internal/currency"
	"github.com/noah-isme/pos-settlement/internal/discount"
	"github.com/noah-isme/pos-settlement/internal/preference"
	"github.com/noah-isme/pos-settlement/internal/resilience"
	"github.com/noah-isme/pos-settlement/internal/settlement"
	"github.com/noah-isme/pos-settlement/internal/tax"
)

func newService(t *testing.T, prefs preference.Store) *settlement.Service {
	t.Helper()
	svc, err := settlement.NewService(settlement.ServiceConfig{
		Currency:    newCurrencyStore(t),
		Snapshot:    newSnapshot(igv),
		Preferences: prefs,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc
}

type stubSource struct {
	snap  settlement.Snapshot
	descs []currency.Descriptor
	err   error
}

func (s stubSource) Load(context.Context) (settlement.Snapshot, []currency.Descriptor, error) {
	return s.snap, s.descs, s.err
}

func TestNewServiceRequiresCurrency(t *testing.T) {
	_, err := settlement.NewService(settlement.ServiceConfig{})
	require.ErrorIs(t, err, settlement.ErrNotConfigured)
}

func TestServiceQuote(t *testing.T) {
	svc := newService(t, nil)
	totals, err := svc.Quote(context.Background(), settlement.QuoteRequest{
		Lines: []settlement.QuoteLine{
			{SKU: "P100", Quantity: dec("1")},
			{SKU: "P300", Quantity: dec("1")},
		},
		Discount: &discount.Input{Mode: discount.ModePercent, Percent: dec("10")},
	})
	require.NoError(t, err)
	requireDec(t, "424.80", totals.Total)

	_, err = svc.Quote(context.Background(), settlement.QuoteRequest{
		Lines: []settlement.QuoteLine{{SKU: "P100", Quantity: dec("0")}},
	})
	require.Error(t, err)

	_, err = svc.Quote(context.Background(), settlement.QuoteRequest{
		Column: "vip",
		Lines:  []settlement.QuoteLine{{SKU: "P100", Quantity: dec("1")}},
	})
	require.ErrorIs(t, err, settlement.ErrUnknownColumn)
}

func TestServiceQuoteHonoursLineOverrides(t *testing.T) {
	svc := newService(t, nil)
	price := dec("50")
	exempt := tax.Treatment{Kind: tax.KindExempt}
	totals, err := svc.Quote(context.Background(), settlement.QuoteRequest{
		Lines: []settlement.QuoteLine{{SKU: "P100", Quantity: dec("2"), Price: &price, Tax: &exempt}},
	})
	require.NoError(t, err)
	requireDec(t, "100", totals.Total)
	requireDec(t, "0", totals.Tax)
	require.True(t, totals.Lines[0].Manual)
}

func TestServicePreviewQuote(t *testing.T) {
	svc := newService(t, nil)
	preview, err := svc.PreviewQuote(context.Background(), settlement.QuoteRequest{
		Lines:    []settlement.QuoteLine{{SKU: "P100", Quantity: dec("1")}, {SKU: "P300", Quantity: dec("1")}},
		Discount: &discount.Input{Mode: discount.ModePercent, Percent: dec("10")},
	})
	require.NoError(t, err)
	requireDec(t, "472", preview.Current.Total)
	requireDec(t, "424.80", preview.Preview.Total)

	_, err = svc.PreviewQuote(context.Background(), settlement.QuoteRequest{
		Lines: []settlement.QuoteLine{{SKU: "P100", Quantity: dec("1")}},
	})
	require.ErrorIs(t, err, discount.ErrInvalidDiscount)
}

func TestServicePriceColumn(t *testing.T) {
	prefs := preference.NewMemoryStore()
	svc := newService(t, prefs)
	ctx := context.Background()

	column, err := svc.PriceColumn(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, "retail", column)

	require.NoError(t, svc.SetPriceColumn(ctx, "T1", "wholesale"))
	column, err = svc.PriceColumn(ctx, "T1")
	require.NoError(t, err)
	require.Equal(t, "wholesale", column)

	require.ErrorIs(t, svc.SetPriceColumn(ctx, "T1", "vip"), settlement.ErrUnknownColumn)
	require.ErrorIs(t, svc.SetPriceColumn(ctx, " ", "retail"), preference.ErrInvalidTerminal)

	session, err := svc.NewSession(ctx, "T1")
	require.NoError(t, err)
	item, err := session.AddItem(settlement.AddItemInput{SKU: "ABC", Quantity: dec("1")})
	require.NoError(t, err)
	requireDec(t, "8", item.UnitPrice)
}

func TestServiceResolvePrice(t *testing.T) {
	svc := newService(t, nil)
	res := svc.ResolvePrice("ABC", "CAJA", "", dec("0"))
	require.True(t, res.HasPrice)
	require.False(t, res.HasExplicitPrice)
	requireDec(t, "120", res.Price)

	res = svc.ResolvePrice("VOL", "", "retail", dec("12"))
	requireDec(t, "4", res.Price)
}

func TestServiceReload(t *testing.T) {
	svc := newService(t, nil)
	first := svc.Snapshot().Revision

	snap := newSnapshot()
	err := svc.Reload(context.Background(), stubSource{
		snap: snap,
		descs: []currency.Descriptor{
			{Code: "USD", Rate: dec("3.80"), Precision: 2, Active: true},
			{Code: "", Rate: dec("1")},
		},
	})
	require.NoError(t, err)
	require.Greater(t, svc.Snapshot().Revision, first)
	require.True(t, svc.Snapshot().PricesIncludeTax())

	usd, ok := svc.Currency().Descriptor("USD")
	require.True(t, ok)
	requireDec(t, "3.80", usd.Rate)

	boom := errors.New("db down")
	require.ErrorIs(t, svc.Reload(context.Background(), stubSource{err: boom}), boom)
}

func TestServiceWatchStopsOnCancel(t *testing.T) {
	svc := newService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Watch(ctx, stubSource{snap: newSnapshot()}, 1)
	svc.Watch(context.Background(), stubSource{}, 0)
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) Load(context.Context) (settlement.Snapshot, []currency.Descriptor, error) {
	s.calls++
	return newSnapshot(), nil, s.err
}

func TestGuardedSourceOpensAfterFailures(t *testing.T) {
	boom := errors.New("db down")
	src := &countingSource{err: boom}
	guarded := settlement.GuardedSource{Source: src, Breaker: resilience.NewBreaker(1, 0.5, time.Hour)}
	svc := newService(t, nil)

	require.ErrorIs(t, svc.Reload(context.Background(), guarded), boom)
	require.ErrorIs(t, svc.Reload(context.Background(), guarded), resilience.ErrOpenCircuit)
	require.Equal(t, 1, src.calls)

	src.err = nil
	plain := settlement.GuardedSource{Source: src}
	require.NoError(t, svc.Reload(context.Background(), plain))
	require.Equal(t, 2, src.calls)
}
