package lights

import (
	"context"
	"time"
)

// LampTest wipes red and then blue across the strips one at a time,
// holding each for hold, and leaves everything dark. It returns early
// with ctx's error if cancelled; the strips are still turned off.
func LampTest(ctx context.Context, d Driver, hold time.Duration, strips ...Strip) error {
	if len(strips) == 0 {
		strips = AllStrips
	}
	defer func() {
		for _, s := range strips {
			d.Solid(s, Black)
		}
	}()

	timer := time.NewTimer(hold)
	defer timer.Stop()

	for _, c := range []Color{Red, Blue} {
		for _, s := range strips {
			d.Solid(s, c)

			timer.Reset(hold)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}
