package main

import (
	"fmt"
	"os"

	"github.com/trezcool/downline/core"
	"github.com/trezcool/downline/core/matrix"
	"github.com/trezcool/downline/core/plan"
	logsvc "github.com/trezcool/downline/services/logger"
	"github.com/trezcool/downline/storage/database"
	sqlxrepos "github.com/trezcool/downline/storage/database/sqlx"
)

func main() {
	conf, err := core.NewConfig()
	errAndDie(err)

	logger, err := logsvc.NewZapLogger("admin", conf.Debug)
	errAndDie(err)
	defer func() { _ = logger.Sync() }()

	p := plan.Default()
	if conf.PlanFile != "" {
		p, err = plan.LoadFile(conf.PlanFile)
		errAndDie(err)
	}

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()

	svc := matrix.NewService(sqlxrepos.NewNodeStore(db), sqlxrepos.NewLedger(db), sqlxrepos.NewLease(db), p,
		matrix.WithLogger(logger),
		matrix.WithMaxAttempts(conf.Placement.MaxAttempts),
		matrix.WithRetryInterval(conf.Placement.RetryInterval),
		matrix.WithLeaseTTL(conf.Jobs.LeaseTTL),
		matrix.WithJobConcurrency(conf.Jobs.Concurrency),
	)
	translator := core.NewTranslator()

	// start CLI
	cli := commandLine{
		db:         db,
		svc:        svc,
		validate:   core.NewValidator(translator),
		translator: translator,
		out:        os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		_ = db.Close()
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
