package kafkax

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReadyCheck passes once any broker answers a metadata request. A TCP connect alone
// does not prove the broker is serving.
func ReadyCheck(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		var errs []error
		for _, b := range brokers {
			if err := brokerMetadata(ctx, b); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", b, err))
				continue
			}
			return nil
		}
		return errors.Join(errs...)
	}
}

func brokerMetadata(ctx context.Context, addr string) error {
	dialer := kafka.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	_, err = conn.Brokers()
	return err
}
