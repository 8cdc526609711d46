// Package driver implements the core's periodic-cadence orchestration
// loop: one independent ticker per cadence (status polling, issue-store
// polling, tmux discovery, cost reaggregation, subscription polling,
// health checks, auto-recovery cycles), each gated so a new tick
// cannot start while the previous one for that cadence is still running.
package driver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jedarden/forge/pkg/log"
	"github.com/jedarden/forge/pkg/metrics"
)

// Job is one periodic unit of work. Name is used only for logging.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Driver runs a fixed set of Jobs, each on its own goroutine and ticker,
// mirroring the teacher's single-ticker-goroutine scheduler shape but
// generalized to many independent cadences instead of one.
type Driver struct {
	jobs []Job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Driver over jobs. Jobs with a non-positive Interval
// are dropped (disabled) rather than busy-looping.
func New(jobs []Job) *Driver {
	var enabled []Job
	for _, j := range jobs {
		if j.Interval > 0 && j.Run != nil {
			enabled = append(enabled, j)
		}
	}
	return &Driver{jobs: enabled}
}

// Start launches every job's ticker loop in its own goroutine. Start is
// not safe to call twice on the same Driver.
func (d *Driver) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for _, j := range d.jobs {
		d.wg.Add(1)
		go d.runJob(j)
	}
}

// Stop cancels every job's context and waits for in-flight ticks to
// return. A cycle already in progress is allowed to finish; stop is
// cooperative, not preemptive.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Driver) runJob(j Job) {
	defer d.wg.Done()
	logger := log.WithComponent("driver").With().Str("job", j.Name).Logger()

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	var running int32
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				metrics.CycleSkippedTotal.WithLabelValues(j.Name).Inc()
				logger.Debug().Msg("tick skipped, previous cycle still running")
				continue
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				defer atomic.StoreInt32(&running, 0)
				timer := metrics.NewTimer()
				err := j.Run(d.ctx)
				timer.ObserveDurationVec(metrics.CycleDuration, j.Name)
				if err != nil {
					logger.Error().Err(err).Msg("cycle failed")
				}
			}()
		}
	}
}
