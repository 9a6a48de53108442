// Sends archives to their destinations, one transmission per target group
package mbtransport

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/log/logex"
	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/perjahn/multibackup/pkg/mbconfig"
	"github.com/perjahn/multibackup/pkg/mbstats"
	"github.com/perjahn/multibackup/pkg/mbtypes"
	"github.com/perjahn/multibackup/pkg/redact"
)

// Transport sends every file in sourceDir to target, removing each source file
// once it has arrived
type Transport interface {
	Transmit(ctx context.Context, sourceDir string, target mbtypes.Target) error
}

type GroupOutcome struct {
	Target   mbtypes.Target
	Staged   int // archives moved into the group's staging folder
	Attempts int
	Sent     bool
}

type Dispatcher struct {
	transport  Transport
	stats      *mbstats.Statistics
	stagingDir string
	attempts   int
	delay      time.Duration
	policy     mbconfig.TransmitFailurePolicy
	clock      clock.Clock
	logl       *logex.Leveled
}

func NewDispatcher(
	transport Transport,
	stats *mbstats.Statistics,
	stagingDir string,
	attempts int,
	delay time.Duration,
	policy mbconfig.TransmitFailurePolicy,
	logger *log.Logger,
) *Dispatcher {
	return &Dispatcher{
		transport:  transport,
		stats:      stats,
		stagingDir: stagingDir,
		attempts:   attempts,
		delay:      delay,
		policy:     policy,
		clock:      clock.WallClock,
		logl:       logex.Levels(logex.Prefix("sync", logger)),
	}
}

// StagingDirFor is stable across runs, so archives a failed run left behind
// go to the same destination on the next run
func (d *Dispatcher) StagingDirFor(target mbtypes.Target) string {
	return filepath.Join(d.stagingDir, redact.Hash(target.Server + "\n" + target.Account + "\n" + target.CertFile)[:16])
}

// Dispatch groups jobs by target and transmits each group once. Jobs without an
// archive are skipped. Only cancellation is an error.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []*mbtypes.BackupJob) ([]GroupOutcome, error) {
	outcomes := []GroupOutcome{}

	for _, group := range mbtypes.GroupByTarget(jobs) {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, d.dispatchGroup(ctx, group))
	}

	return outcomes, nil
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, group mbtypes.TargetGroup) GroupOutcome {
	outcome := GroupOutcome{Target: group.Target}

	secrets := []string{group.Target.Server, group.Target.Account}

	staging := d.StagingDirFor(group.Target)
	if err := os.MkdirAll(staging, 0700); err != nil {
		d.logl.Error.Printf("staging folder %s: %v", staging, err)
		return outcome
	}

	for _, job := range group.Jobs {
		if _, err := os.Stat(job.ArchivePath); err != nil {
			d.logl.Debug.Printf("file missing: %s", job.ArchivePath)
			continue
		}

		dest := filepath.Join(staging, filepath.Base(job.ArchivePath))

		if err := os.Rename(job.ArchivePath, dest); err != nil {
			d.logl.Error.Printf("move %s: %v", job.ArchivePath, err)
			continue
		}

		outcome.Staged++
	}

	if outcome.Staged == 0 {
		d.logl.Warn.Printf("no archives for server=%s, not sending", redact.Mask(group.Target.Server, secrets...))
		return outcome
	}

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			outcome.Attempts++

			started := time.Now()
			err := d.transport.Transmit(ctx, staging, group.Target)
			d.stats.AddTransmitTime(time.Since(started))

			return err
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			d.logl.Info.Printf("try %d failed: %s", attempt, redact.Mask(err.Error(), secrets...))
		},
		Attempts: d.attempts,
		Delay:    d.delay,
		Clock:    d.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		d.logl.Error.Printf(
			"sync fail: archives=%d tries=%d policy=%s err=%s",
			outcome.Staged,
			outcome.Attempts,
			d.policy,
			redact.Mask(lastError(err).Error(), secrets...))

		switch d.policy {
		case mbconfig.PolicyResetRun:
			d.stats.ResetSuccesses()
		default:
			d.stats.DeductSuccesses(outcome.Staged)
		}

		return outcome
	}

	outcome.Sent = true

	d.logl.Info.Printf("sent %d archives in %d tries", outcome.Staged, outcome.Attempts)

	return outcome
}

// unwraps retry's bookkeeping errors. a fatal error comes back as-is.
func lastError(err error) error {
	if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
		if last := retry.LastError(err); last != nil {
			return last
		}
	}

	return err
}
