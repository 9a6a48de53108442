// Drives backup jobs through export and archiving, then hands the archives
// over for transmission
package mbbackup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/function61/gokit/log/logex"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/perjahn/multibackup/pkg/mbcleanup"
	"github.com/perjahn/multibackup/pkg/mbexec"
	"github.com/perjahn/multibackup/pkg/mbjobs"
	"github.com/perjahn/multibackup/pkg/mbstats"
	"github.com/perjahn/multibackup/pkg/mbtypes"
)

type State string

const (
	StatePending       State = "Pending"
	StateExporting     State = "Exporting"
	StateExported      State = "Exported"
	StateExportFailed  State = "ExportFailed"
	StateEncrypting    State = "Encrypting"
	StateDone          State = "Done"
	StateEncryptFailed State = "EncryptFailed"
)

type Exporter interface {
	// one attempt
	Export(ctx context.Context, job *mbtypes.BackupJob) (mbexec.Result, error)
}

type Archiver interface {
	Archive(ctx context.Context, req mbexec.ArchiveRequest) (mbexec.Result, error)
}

// JobOutcome is what happened to one job. Only Done jobs have an archive.
type JobOutcome struct {
	Job              *mbtypes.BackupJob
	State            State
	ExportAttempts   int
	UncompressedSize int64
	CompressedSize   int64
	ExportTime       time.Duration
	ArchiveTime      time.Duration
	Reason           string
}

func (o *JobOutcome) Succeeded() bool {
	return o.State == StateDone
}

type Runner struct {
	exporter  Exporter
	archiver  Archiver
	deleter   *mbcleanup.Deleter
	stats     *mbstats.Statistics
	exportDir string
	attempts  int
	delay     time.Duration
	clock     clock.Clock
	logger    *log.Logger
}

func NewRunner(
	exporter Exporter,
	archiver Archiver,
	deleter *mbcleanup.Deleter,
	stats *mbstats.Statistics,
	exportDir string,
	attempts int,
	delay time.Duration,
	logger *log.Logger,
) *Runner {
	return &Runner{
		exporter:  exporter,
		archiver:  archiver,
		deleter:   deleter,
		stats:     stats,
		exportDir: exportDir,
		attempts:  attempts,
		delay:     delay,
		clock:     clock.WallClock,
		logger:    logger,
	}
}

// RunAll processes jobs one at a time in order. A job's failure never stops the
// others; only cancellation does, in which case the outcomes so far are returned.
func (r *Runner) RunAll(ctx context.Context, jobs []*mbtypes.BackupJob) ([]*JobOutcome, error) {
	outcomes := []*JobOutcome{}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		outcomes = append(outcomes, r.Run(ctx, job))
	}

	return outcomes, nil
}

// Run takes one job from Pending to Done, ExportFailed or EncryptFailed
func (r *Runner) Run(ctx context.Context, job *mbtypes.BackupJob) *JobOutcome {
	logl := logex.Levels(logex.Prefix(job.Name, r.logger))

	outcome := &JobOutcome{
		Job:   job,
		State: StatePending,
	}

	if len(job.Tags) > 0 {
		logl.Info.Printf("tags: %s", mbjobs.FormatTags(job.Tags))
	}

	r.export(ctx, outcome, logl)

	if outcome.State != StateExported {
		return outcome
	}

	r.archive(ctx, outcome, logl)

	return outcome
}

var errAttemptFailed = errors.New("attempt failed")

func (r *Runner) export(ctx context.Context, outcome *JobOutcome, logl *logex.Leveled) {
	job := outcome.Job
	outcome.State = StateExporting

	logl.Debug.Printf("exporting %s to %s", job.Kind(), job.ExportPath)

	var last mbexec.Result
	var lastErr error

	err := retry.Call(retry.CallArgs{
		Func: func() error {
			outcome.ExportAttempts++

			if err := r.prepareExport(job); err != nil {
				lastErr = err
				return err
			}

			last, lastErr = r.exporter.Export(ctx, job)

			r.stats.AddExportTime(job.Kind(), last.Elapsed)
			outcome.ExportTime += last.Elapsed

			if lastErr != nil {
				return lastErr
			}

			if !last.Succeeded() || !mbcleanup.ContainsData(job.ExportPath) {
				return errAttemptFailed
			}

			return nil
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			logl.Info.Printf("export try %d failed: result=%d err=%v", attempt, last.ExitCode, err)
		},
		Attempts: r.attempts,
		Delay:    r.delay,
		Clock:    r.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		r.cleanupFailedExport(job)

		outcome.State = StateExportFailed
		outcome.Reason = fmt.Sprintf("export failed after %d tries", outcome.ExportAttempts)
		if ctx.Err() != nil {
			outcome.Reason = fmt.Sprintf("export cancelled: %v", ctx.Err())
		}

		logl.Error.Printf(
			"export fail: binary=%s args=%s result=%d elapsedms=%d err=%v",
			last.Command.Binary,
			last.Command.MaskedArgs(),
			last.ExitCode,
			last.Elapsed.Milliseconds(),
			lastErr)
		return
	}

	size, err := mbcleanup.Size(job.ExportPath)
	if err != nil { // shouldn't happen, we just saw the data
		logl.Error.Printf("size of %s: %v", job.ExportPath, err)
	}

	outcome.UncompressedSize = size
	outcome.State = StateExported
	r.stats.AddUncompressed(size)

	logl.Info.Printf(
		"exported: tries=%d size=%d elapsedms=%d",
		outcome.ExportAttempts,
		size,
		outcome.ExportTime.Milliseconds())
}

// some tools need an empty output directory and no leftovers from a previous try
func (r *Runner) prepareExport(job *mbtypes.BackupJob) error {
	if journaled, ok := job.Source.(interface{ JournalDir(string) string }); ok {
		r.deleter.RobustDelete(journaled.JournalDir(job.ExportPath))
	}

	if job.Source.Artifact() == mbtypes.ArtifactFreshDir {
		if !r.deleter.RobustDelete(job.ExportPath) {
			return errors.Errorf("cannot clear %s", job.ExportPath)
		}

		return os.MkdirAll(job.ExportPath, 0700)
	}

	return nil
}

// a leftover that holds data is kept for inspection
func (r *Runner) cleanupFailedExport(job *mbtypes.BackupJob) {
	info, err := os.Stat(job.ExportPath)
	if err != nil {
		return
	}

	switch {
	case info.IsDir():
		if !mbcleanup.ContainsData(job.ExportPath) {
			r.deleter.RobustDelete(job.ExportPath)
		}
	case info.Size() == 0:
		_ = os.Remove(job.ExportPath)
	}
}

// archives exactly once. the export is verified already, re-running on the same
// input would rarely help.
func (r *Runner) archive(ctx context.Context, outcome *JobOutcome, logl *logex.Leveled) {
	job := outcome.Job
	outcome.State = StateEncrypting

	req := mbexec.ArchiveRequest{
		Level:        job.Source.CompressionLevel(),
		Archive:      filepath.Base(job.ArchivePath),
		Input:        filepath.Base(job.ExportPath),
		DeleteSource: true,
		Password:     job.ZipPassword,
	}

	var result mbexec.Result
	err := mbexec.InDir(r.exportDir, func() error {
		var err error
		result, err = r.archiver.Archive(ctx, req)
		return err
	})

	r.stats.AddArchiveTime(result.Elapsed)
	outcome.ArchiveTime = result.Elapsed

	compressedSize := int64(0)
	if info, statErr := os.Stat(job.ArchivePath); statErr == nil {
		compressedSize = info.Size()
	}

	if err != nil || !result.Succeeded() || compressedSize == 0 {
		// a partial archive must not get transmitted
		_ = os.Remove(job.ArchivePath)

		outcome.State = StateEncryptFailed
		outcome.Reason = fmt.Sprintf("archive failed: result=%d", result.ExitCode)

		logl.Error.Printf(
			"zip fail: binary=%s args=%s result=%d elapsedms=%d err=%v",
			result.Command.Binary,
			result.Command.MaskedArgs(),
			result.ExitCode,
			result.Elapsed.Milliseconds(),
			err)
		return
	}

	outcome.CompressedSize = compressedSize
	outcome.State = StateDone

	r.stats.Succeeded()
	r.stats.AddCompressed(compressedSize)

	logl.Info.Printf(
		"archived: size=%d elapsedms=%d",
		compressedSize,
		result.Elapsed.Milliseconds())
}
