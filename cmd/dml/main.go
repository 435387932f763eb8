// Command dml fits double/debiased machine learning models on a table or on
// simulated data.
//
//	dml simulate --design plr --n 1000 --out data.csv
//	dml fit --data data.csv --y y --d d1 --bootstrap normal --format yaml
//	dml fit --config run.yaml --n-rep 5
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/causalgo/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).Run(ctx, os.Args); err != nil {
		log.GetLogger().Error("dml failed", err)
		stop()
		os.Exit(1)
	}
}
