package obs

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics groups collectors describing settlement and currency activity.
type SettlementMetrics struct {
	Computations      *prometheus.CounterVec
	MissingPrice      *prometheus.CounterVec
	DiscountClamped   prometheus.Counter
	CurrencyMutations *prometheus.CounterVec
	QuoteDuration     *prometheus.HistogramVec
}

// NewSettlementMetrics registers settlement collectors on reg, reusing collectors that were
// registered before.
func NewSettlementMetrics(namespace string, reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &SettlementMetrics{
		Computations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_computations_total",
			Help:      "Count of settlement totals computations by discount mode.",
		}, []string{"mode"})),
		MissingPrice: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_missing_price_total",
			Help:      "Count of unresolved unit prices by price column.",
		}, []string{"column"})),
		DiscountClamped: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_discount_clamped_total",
			Help:      "Number of global discounts capped at the eligible base.",
		})),
		CurrencyMutations: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "currency_mutations_total",
			Help:      "Count of currency store mutations by operation.",
		}, []string{"op"})),
		QuoteDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_quote_duration_ms",
			Help:      "Latency of settlement quotes in milliseconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}, []string{"result"})),
	}
}

// ObserveComputation counts one totals computation. An empty mode is recorded as "none".
func (m *SettlementMetrics) ObserveComputation(mode string) {
	if m == nil {
		return
	}
	mode = strings.TrimSpace(mode)
	if mode == "" {
		mode = "none"
	}
	m.Computations.WithLabelValues(mode).Inc()
}

// ObserveMissingPrice counts one unresolved price.
func (m *SettlementMetrics) ObserveMissingPrice(column string) {
	if m == nil {
		return
	}
	if column == "" {
		column = "unknown"
	}
	m.MissingPrice.WithLabelValues(column).Inc()
}

// ObserveClamped counts one capped discount.
func (m *SettlementMetrics) ObserveClamped() {
	if m == nil {
		return
	}
	m.DiscountClamped.Inc()
}

// ObserveCurrencyMutation counts one currency store mutation.
func (m *SettlementMetrics) ObserveCurrencyMutation(op string) {
	if m == nil {
		return
	}
	m.CurrencyMutations.WithLabelValues(op).Inc()
}

// ObserveQuote records quote latency.
func (m *SettlementMetrics) ObserveQuote(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.QuoteDuration.WithLabelValues(result).Observe(DurationMillis(d))
}
