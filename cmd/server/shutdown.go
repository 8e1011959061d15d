package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// stopper is one component shut down after the drain period.
type stopper struct {
	name string
	fn   func(context.Context) error
}

// waitDrain sleeps for the drain period so the load balancer sees the failed
// readiness probe. A signal on force cuts it short; it reports whether that
// happened.
func waitDrain(L log.Logger, d time.Duration, force <-chan os.Signal) bool {
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", d.Seconds())
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
		return false
	case <-force:
		L.Warn(context.Background(), "second signal received, skipping drain")
		return true
	}
}

// stopAll shuts components down in order, each with an equal slice of budget.
// Components without a stop func are skipped. Every failure is logged and
// returned joined.
func stopAll(L log.Logger, budget time.Duration, stoppers []stopper) error {
	var live []stopper
	for _, s := range stoppers {
		if s.fn != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil
	}

	perComponent := budget / time.Duration(len(live))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var errs []error
	for _, s := range live {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
		ccancel()
	}
	return errors.Join(errs...)
}
