package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Expirer fails pending transactions whose payment window has closed.
type Expirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// RunSweeper calls ExpireStale every interval until ctx is done. A failed
// sweep is logged and retried on the next tick.
func RunSweeper(ctx context.Context, interval time.Duration, expirer Expirer, logger *logrus.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.WithField("interval", interval).Info("[Sweeper] Started")
	for {
		select {
		case <-ctx.Done():
			logger.Info("[Sweeper] Stopped")
			return
		case <-ticker.C:
			n, err := expirer.ExpireStale(ctx)
			if err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("expired", n).Warn("[Sweeper] Sweep finished with errors")
				continue
			}
			if n > 0 {
				logger.WithField("expired", n).Info("[Sweeper] Expired stale transactions")
			}
		}
	}
}
