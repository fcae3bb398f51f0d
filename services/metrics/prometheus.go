// Package metricsvc exposes matrix engine activity as prometheus metrics.
package metricsvc

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core/matrix"
)

const namespace = "downline"

// Collector implements matrix.Metrics.
type Collector struct {
	placements       *prometheus.CounterVec
	conflicts        prometheus.Counter
	failures         *prometheus.CounterVec
	commissions      *prometheus.CounterVec
	commissionAmount *prometheus.CounterVec
}

var _ matrix.Metrics = (*Collector)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "succeeded_total",
			Help:      "Nodes placed in the matrix, by matrix level and whether they spilled over.",
		}, []string{"level", "spillover"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "conflicts_total",
			Help:      "Slot claims lost to a concurrent placement.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "placement",
			Name:      "failed_total",
			Help:      "Placements that failed, by error kind.",
		}, []string{"reason"}),
		commissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "records_total",
			Help:      "Commission records paid, by type.",
		}, []string{"type"}),
		commissionAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commission",
			Name:      "amount_total",
			Help:      "Commission amounts paid, by type.",
		}, []string{"type"}),
	}

	for _, col := range []prometheus.Collector{c.placements, c.conflicts, c.failures, c.commissions, c.commissionAmount} {
		if err := reg.Register(col); err != nil {
			return nil, errors.Wrap(err, "registering collector")
		}
	}
	return c, nil
}

func (c *Collector) PlacementSucceeded(level int, spillover bool) {
	c.placements.WithLabelValues(strconv.Itoa(level), strconv.FormatBool(spillover)).Inc()
}

func (c *Collector) PlacementConflict() { c.conflicts.Inc() }

func (c *Collector) PlacementFailed(reason string) { c.failures.WithLabelValues(reason).Inc() }

func (c *Collector) CommissionPaid(typ matrix.CommissionType, amount decimal.Decimal) {
	c.commissions.WithLabelValues(string(typ)).Inc()
	f, _ := amount.Float64()
	c.commissionAmount.WithLabelValues(string(typ)).Add(f)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
