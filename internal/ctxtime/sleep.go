package ctxtime

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Sleep pauses for d on clk, returning early with the context's error if ctx is
// done first. A nil clock means the wall clock.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if clk == nil {
		clk = clock.New()
	}
	if ctx == nil {
		clk.Sleep(d)
		return nil
	}

	t := clk.Timer(d)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	return nil
}
