package bot

import (
	"context"
	"math/rand"
	"time"
)

// Latency is a uniform random delay between Min and Max, inclusive.
type Latency struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// Draw returns a delay using int64n as the random source.
func (l Latency) Draw(int64n func(n int64) int64) time.Duration {
	if l.Max <= l.Min {
		return l.Min
	}
	return l.Min + time.Duration(int64n(int64(l.Max-l.Min)+1))
}

// Sleeper blocks for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// defaultInt64N is the production random source.
var defaultInt64N = rand.Int63n
