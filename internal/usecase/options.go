package usecase

import (
	"sync/atomic"
	"time"
)

// Option customizes a use case.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Report summarizes one worker pass.
type Report struct {
	Checked int // items examined after diffing
	Applied int // items moved to SUCCEEDED or renewed
	Expired int // items moved to EXPIRED
	Failed  int // items skipped because of an error, retried next pass
}

// notStarted counts items a pass never reached because ctx ended first.
// They are reported as failed so the next pass picks them up.
func notStarted(total int, started *atomic.Int64) int {
	return total - int(started.Load())
}

func (r *Report) add(o Report) {
	r.Checked += o.Checked
	r.Applied += o.Applied
	r.Expired += o.Expired
	r.Failed += o.Failed
}
