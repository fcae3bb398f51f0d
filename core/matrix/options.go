package matrix

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/downline/core"
)

const (
	DefaultMaxAttempts    = 5
	DefaultRetryInterval  = 10 * time.Millisecond
	DefaultLeaseTTL       = 10 * time.Minute
	DefaultJobConcurrency = 8
)

type (
	// Notifier is told about placements worth telling someone about.
	Notifier interface {
		// SpilloverPlaced is called when node landed under parentID rather than under its sponsor.
		SpilloverPlaced(ctx context.Context, parentID string, node Node)
	}

	// Metrics records engine activity.
	Metrics interface {
		PlacementSucceeded(level int, spillover bool)
		PlacementConflict()
		PlacementFailed(reason string)
		CommissionPaid(typ CommissionType, amount decimal.Decimal)
	}
)

type nopNotifier struct{}

func (nopNotifier) SpilloverPlaced(context.Context, string, Node) {}

type nopMetrics struct{}

func (nopMetrics) PlacementSucceeded(int, bool)                   {}
func (nopMetrics) PlacementConflict()                             {}
func (nopMetrics) PlacementFailed(string)                         {}
func (nopMetrics) CommissionPaid(CommissionType, decimal.Decimal) {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type options struct {
	logger         core.Logger
	metrics        Metrics
	notifier       Notifier
	maxAttempts    int
	retryInterval  time.Duration
	maxVisits      int
	leaseTTL       time.Duration
	jobConcurrency int
	now            func() time.Time
}

// Option configures the matrix Service and its components.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		logger:         nopLogger{},
		metrics:        nopMetrics{},
		notifier:       nopNotifier{},
		maxAttempts:    DefaultMaxAttempts,
		retryInterval:  DefaultRetryInterval,
		leaseTTL:       DefaultLeaseTTL,
		jobConcurrency: DefaultJobConcurrency,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithMaxAttempts bounds locate-and-claim attempts per placement (minimum 1).
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// WithRetryInterval sets the initial wait between placement attempts; it grows exponentially.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.retryInterval = d
		}
	}
}

// WithSearchLimit bounds the nodes a single slot search may inspect.
func WithSearchLimit(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxVisits = n
		}
	}
}

func WithLeaseTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.leaseTTL = d
		}
	}
}

func WithJobConcurrency(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.jobConcurrency = n
		}
	}
}

// WithClock replaces time.Now; tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
