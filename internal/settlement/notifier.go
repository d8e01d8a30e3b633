package settlement

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pos-settlement/internal/obs"
)

// MissingPrice describes a unit price that could not be resolved.
type MissingPrice struct {
	Terminal    string `json:"terminal,omitempty"`
	SKU         string `json:"sku"`
	Unit        string `json:"unit"`
	ColumnID    string `json:"columnId"`
	ColumnLabel string `json:"columnLabel,omitempty"`
}

func (m MissingPrice) key() string {
	return m.SKU + "\x00" + m.Unit + "\x00" + m.ColumnID
}

// Notifier receives missing price reports. Reports are informational.
type Notifier interface {
	NotifyMissingPrice(MissingPrice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(MissingPrice)

// NotifyMissingPrice calls f.
func (f NotifierFunc) NotifyMissingPrice(m MissingPrice) {
	f(m)
}

// Notifiers fans a report out to every notifier.
type Notifiers []Notifier

// NotifyMissingPrice forwards m to each notifier.
func (n Notifiers) NotifyMissingPrice(m MissingPrice) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.NotifyMissingPrice(m)
		}
	}
}

// DedupNotifier forwards each SKU/unit/column combination at most once until Reset.
type DedupNotifier struct {
	Next Notifier

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupNotifier wraps next.
func NewDedupNotifier(next Notifier) *DedupNotifier {
	return &DedupNotifier{Next: next, seen: make(map[string]struct{})}
}

// NotifyMissingPrice forwards m unless the same gap was already reported.
func (d *DedupNotifier) NotifyMissingPrice(m MissingPrice) {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.seen == nil {
		d.seen = make(map[string]struct{})
	}
	key := m.key()
	if _, dup := d.seen[key]; dup {
		d.mu.Unlock()
		return
	}
	d.seen[key] = struct{}{}
	d.mu.Unlock()
	if d.Next != nil {
		d.Next.NotifyMissingPrice(m)
	}
}

// Reset forgets every reported gap.
func (d *DedupNotifier) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.seen = make(map[string]struct{})
	d.mu.Unlock()
}

// LogNotifier writes missing price reports to a logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

// NotifyMissingPrice logs m at warn level.
func (l LogNotifier) NotifyMissingPrice(m MissingPrice) {
	l.Logger.Warn().
		Str("terminal_id", m.Terminal).
		Str("sku", m.SKU).
		Str("unit", m.Unit).
		Str("column", m.ColumnID).
		Msg("price not found")
}

// MetricsNotifier counts missing price reports per column.
type MetricsNotifier struct {
	Metrics *obs.SettlementMetrics
}

// NotifyMissingPrice increments the missing price counter.
func (n MetricsNotifier) NotifyMissingPrice(m MissingPrice) {
	n.Metrics.ObserveMissingPrice(m.ColumnID)
}
