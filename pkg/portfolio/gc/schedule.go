package gc

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Schedule registers a collector run on a cron spec such as "@every 10m"
// or "*/5 * * * *". The returned scheduler is not started.
func Schedule(c *Collector, spec string, batchSize int) (*cron.Cron, error) {
	scheduler := cron.New()
	_, err := scheduler.AddFunc(spec, func() {
		if _, err := c.Run(context.Background(), batchSize); err != nil {
			c.logger.Error("scheduled asset gc failed", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid gc schedule %q: %w", spec, err)
	}
	return scheduler, nil
}
