// Package health probes service-package instances after they start.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	apperrors "hostfleet/internal/errors"
	"hostfleet/internal/logger"
)

// Probe checks that a Redis-protocol server answers PING.
type Probe struct {
	// Addr is host:port of the instance.
	Addr string
	// Password is sent with AUTH when set.
	Password string
	// Attempts bounds the number of PINGs. Zero means 5.
	Attempts uint64
	// Interval is the initial wait between attempts. Zero means 200ms.
	Interval time.Duration
	// Timeout bounds each dial and PING. Zero means 2s.
	Timeout time.Duration
}

func (p Probe) withDefaults() Probe {
	if p.Attempts == 0 {
		p.Attempts = 5
	}
	if p.Interval <= 0 {
		p.Interval = 200 * time.Millisecond
	}
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Second
	}
	return p
}

// Check pings the server until it answers PONG or the attempts run out.
func (p Probe) Check(ctx context.Context) error {
	p = p.withDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         p.Addr,
		Password:     p.Password,
		DialTimeout:  p.Timeout,
		ReadTimeout:  p.Timeout,
		WriteTimeout: p.Timeout,
		MaxRetries:   -1,
	})
	defer client.Close()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.Interval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		reply, err := client.Ping(ctx).Result()
		if err != nil {
			logger.WithFields(logger.Fields{
				"addr":    p.Addr,
				"attempt": attempt,
			}).WithError(err).Debug("Health probe failed")
			return err
		}
		if reply != "PONG" {
			return backoff.Permanent(fmt.Errorf("unexpected PING reply %q", reply))
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, p.Attempts-1), ctx))
	if err != nil {
		return apperrors.WrapWithDetails(apperrors.ErrHealthCheckFailed, "Instance did not answer PING",
			fmt.Sprintf("Address: %s, Attempts: %d", p.Addr, attempt), err)
	}
	return nil
}
