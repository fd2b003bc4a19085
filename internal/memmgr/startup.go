package memmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// enumerateSegmentReaders issues the bounded-latency RPC that asks the bus
// for every reader already subscribed to the SegmentReader group before
// memmgrd's own cc_members subscription existed, so startup catches readers
// that connected in the window before step 5. Ported from the teacher's
// Claimer.ClaimWithRetry: a handful of fast, short-backoff retries against a
// transient bus error, never against a clean empty result.
func (c *Coordinator) enumerateSegmentReaders(ctx context.Context) ([]string, error) {
	cfg := c.cfgGetter().Builder

	var members []string
	err := retry.Do(
		func() error {
			results, err := c.bus.RPC(ctx, "get_module_clients", "SegmentReader", nil)
			if err != nil {
				return err
			}
			members = toStringSlice(results)
			return nil
		},
		retry.Attempts(max(1, cfg.StartupRPCRetries)),
		retry.Delay(firstNonZero(cfg.StartupRPCBackoff, 50*time.Millisecond)),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			c.log.WarnContext(ctx, "retrying reader enumeration RPC", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("enumerating segment readers: %w", err)
	}
	return members, nil
}

func toStringSlice(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func firstNonZero(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
