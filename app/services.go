package app

import (
	"context"
	"github.com/lefinal/event-status-server/errors"
	"github.com/lefinal/event-status-server/service"
	"golang.org/x/sync/errgroup"
)

type services map[string]service.Service

// serviceFunc allows using ordinary functions as service.Service.
type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// run all services until the given context is done or one of them fails. In
// the latter case, all remaining ones are stopped as well.
func (s services) run(ctx context.Context) error {
	wg, lifetime := errgroup.WithContext(ctx)
	for name, serviceToRun := range s {
		name := name
		serviceToRun := serviceToRun
		wg.Go(func() error {
			if err := serviceToRun.Run(lifetime); err != nil {
				return errors.Wrap(err, "run service", errors.Details{"service_name": name})
			}
			return nil
		})
	}
	return wg.Wait()
}
