package mockprobe

import (
	"context"
	"sync/atomic"
	"time"
)

type Settings struct {
	Name      string        `json:"name"`
	Duration  time.Duration `json:"duration"`
	FailFirst int64         `json:"fail_first"`
}

// MockProbe is a scripted strategy for tests and local stands: it fails
// the first FailFirst checks and succeeds afterwards, simulating an
// instance that needs warmup.
type MockProbe struct {
	name      string
	duration  time.Duration
	failFirst int64
	calls     atomic.Int64
}

func New(settings *Settings) *MockProbe {
	return &MockProbe{
		name:      settings.Name,
		duration:  settings.Duration,
		failFirst: settings.FailFirst,
	}
}

func (p *MockProbe) Check(ctx context.Context) (bool, error) {
	if p.duration > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(p.duration):
		}
	}
	return p.calls.Add(1) > p.failFirst, nil
}
