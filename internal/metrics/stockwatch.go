package metrics

import "github.com/prometheus/client_golang/prometheus"

// StockwatchMetrics tracks OrderPlaced events handled by the stock watcher.
type StockwatchMetrics struct {
	events   *prometheus.CounterVec
	lowStock prometheus.Counter
}

func NewStockwatchMetrics(reg prometheus.Registerer) *StockwatchMetrics {
	if reg == nil {
		return &StockwatchMetrics{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quickbuy_stockwatch_events_total",
		Help: "OrderPlaced events by handling result.",
	}, []string{"result"})
	low := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quickbuy_stockwatch_low_stock_total",
		Help: "Products flagged as low on stock.",
	})
	reg.MustRegister(events, low)
	return &StockwatchMetrics{events: events, lowStock: low}
}

func (m *StockwatchMetrics) IncEvent(result string) {
	if m == nil || m.events == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *StockwatchMetrics) IncLowStock() {
	if m == nil || m.lowStock == nil {
		return
	}
	m.lowStock.Inc()
}
