package dig_container

import (
	"context"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/downline/apps/api/echo"
	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
	logsvc "github.com/trezcool/downline/services/logger"
	metricsvc "github.com/trezcool/downline/services/metrics"
	notifysvc "github.com/trezcool/downline/services/notify"
	"github.com/trezcool/downline/storage/database"
	sqlxrepos "github.com/trezcool/downline/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Stores groups the persistence the matrix service needs.
type Stores struct {
	dig.Out
	Nodes  matrix.NodeStore
	Ledger matrix.Ledger
	Lease  matrix.Lease
}

func buildLogger(name string, conf *core.Config) core.Logger {
	zl, err := logsvc.NewZapLogger(name, conf.Debug)
	if err != nil {
		log.Fatal(errors.Wrap(err, "building logger"))
	}
	if conf.RollbarToken == "" {
		return zl
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newLogger(conf *core.Config) core.Logger {
	return buildLogger("api", conf)
}

func newDBLogger(conf *core.Config) core.Logger {
	return buildLogger("db", conf)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sqlx.DB, core.DB) {
	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(context.Background(), db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newStores(db core.DB) Stores {
	return Stores{
		Nodes:  sqlxrepos.NewNodeStore(db),
		Ledger: sqlxrepos.NewLedger(db),
		Lease:  sqlxrepos.NewLease(db),
	}
}

func newPlan(conf *core.Config) (plan.Plan, error) {
	if conf.PlanFile == "" {
		return plan.Default(), nil
	}
	return plan.LoadFile(conf.PlanFile)
}

func newRegistry() (*prometheus.Registry, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return reg, reg
}

func newMetrics(reg *prometheus.Registry) (matrix.Metrics, error) {
	return metricsvc.New(reg)
}

func newNotifier(logger core.Logger) matrix.Notifier {
	return notifysvc.NewLogNotifier(logger)
}

type serviceParams struct {
	dig.In
	Conf     *core.Config
	Logger   core.Logger
	Nodes    matrix.NodeStore
	Ledger   matrix.Ledger
	Lease    matrix.Lease
	Plan     plan.Plan
	Metrics  matrix.Metrics
	Notifier matrix.Notifier
}

func newMatrixService(p serviceParams) *matrix.Service {
	return matrix.NewService(p.Nodes, p.Ledger, p.Lease, p.Plan,
		matrix.WithLogger(p.Logger),
		matrix.WithMetrics(p.Metrics),
		matrix.WithNotifier(p.Notifier),
		matrix.WithMaxAttempts(p.Conf.Placement.MaxAttempts),
		matrix.WithRetryInterval(p.Conf.Placement.RetryInterval),
		matrix.WithLeaseTTL(p.Conf.Jobs.LeaseTTL),
		matrix.WithJobConcurrency(p.Conf.Jobs.Concurrency),
	)
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newStores))
	must(c.Provide(newPlan))
	must(c.Provide(newRegistry))
	must(c.Provide(newMetrics))
	must(c.Provide(newNotifier))
	must(c.Provide(newMatrixService))
	must(c.Provide(func(svc *matrix.Service) echoapi.Service { return svc }))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(core.NewValidator))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
