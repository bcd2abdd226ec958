package runtime

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"
)

func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Shutdown runs every stop func under one shared deadline, in order, and joins their errors.
func Shutdown(timeout time.Duration, stops ...func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, stop := range stops {
		if stop == nil {
			continue
		}
		if err := stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
