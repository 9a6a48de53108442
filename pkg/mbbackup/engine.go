package mbbackup

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/function61/gokit/app/dynversion"
	"github.com/function61/gokit/log/logex"
	"github.com/function61/gokit/net/http/ezhttp"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"

	"github.com/perjahn/multibackup/pkg/mbcleanup"
	"github.com/perjahn/multibackup/pkg/mbconfig"
	"github.com/perjahn/multibackup/pkg/mbexec"
	"github.com/perjahn/multibackup/pkg/mbjobs"
	"github.com/perjahn/multibackup/pkg/mbstats"
	"github.com/perjahn/multibackup/pkg/mbtransport"
	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// Engine runs whole backups: load jobs, export and archive each, send the
// archives, report
type Engine struct {
	conf      *mbconfig.Config
	logger    *log.Logger
	runner    mbexec.Runner // for pre/post actions
	exporter  Exporter
	archiver  Archiver
	transport mbtransport.Transport
	// preflight. fails if a tool the jobs need is missing
	checkTools func(kinds []mbtypes.Kind, needRsync bool) error
	now        func() time.Time
}

func NewEngine(conf *mbconfig.Config, logger *log.Logger) *Engine {
	runner := mbexec.NewRunner(conf.ToolTimeout.Duration, logger)

	binaries := map[mbtypes.Kind]string{}
	for _, kind := range mbtypes.Kinds {
		binaries[kind] = conf.Tools.ExporterFor(kind)
	}

	var rsync mbtransport.Transport
	if conf.Tools.Rsync != "" {
		rsync = mbtransport.NewRsync(
			conf.Tools.Rsync,
			conf.Tools.Ssh,
			conf.CertDir,
			conf.ToolLogDir,
			runner,
			logger)
	}

	return &Engine{
		conf:     conf,
		logger:   logger,
		runner:   runner,
		exporter: mbexec.NewToolExporter(binaries, conf.ToolLogDir, runner, logger),
		archiver: mbexec.NewSevenZip(conf.Tools.SevenZip, runner),
		transport: mbtransport.NewRouter(
			rsync,
			mbtransport.NewS3(conf.S3Region, conf.CertDir, logger)),
		checkTools: conf.CheckTools,
		now:        time.Now,
	}
}

// Run takes one backup. only restricts it to one kind ("" = all kinds). Job
// failures don't make an error; they show in the summary.
func (e *Engine) Run(ctx context.Context, only mbtypes.Kind) (*mbstats.Summary, error) {
	started := e.now()
	session := uuid.New().String()

	logl := logex.Levels(logex.Prefix("backup", e.logger))

	logl.Info.Printf("starting: BackupSession=%s Version=%s", session, dynversion.Version)

	e.runAction(ctx, e.conf.PreBackupAction, "pre-backup action", logl)

	jobFiles, err := mbjobs.Glob(e.conf.JobFiles)
	if err != nil {
		return nil, err
	}

	jobs, err := mbjobs.Load(jobFiles, mbjobs.Options{
		DefaultTarget: e.conf.DefaultTarget(),
		ExportDir:     e.conf.ExportDir,
		Date:          started.Format(mbjobs.DateFormat),
	}, e.logger)
	if err != nil {
		return nil, err
	}

	if only != "" {
		jobs = mbjobs.OnlyKind(jobs, only)
		logl.Info.Printf("only backing up %s: %d jobs", only, len(jobs))
	}

	mbjobs.LogJobs(jobs, e.logger)

	if err := e.checkTools(kindsOf(jobs), mbtransport.NeedsRsync(jobs)); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.conf.ExportDir, 0700); err != nil {
		return nil, errors.Annotate(err, "export dir")
	}

	stats := mbstats.New()

	runner := NewRunner(
		e.exporter,
		e.archiver,
		mbcleanup.New(e.conf.Retry.CleanupAttempts, e.conf.Retry.CleanupDelay.Duration, e.logger),
		stats,
		e.conf.ExportDir,
		e.conf.Retry.ExportAttempts,
		e.conf.Retry.ExportDelay.Duration,
		e.logger)

	if _, err := runner.RunAll(ctx, jobs); err != nil {
		return nil, errors.Annotate(err, "backup interrupted")
	}

	dispatcher := mbtransport.NewDispatcher(
		e.transport,
		stats,
		e.conf.StagingDir,
		e.conf.Retry.TransmitAttempts,
		e.conf.Retry.TransmitDelay.Duration,
		e.conf.TransmitFailurePolicy,
		e.logger)

	if _, err := dispatcher.Dispatch(ctx, jobs); err != nil {
		return nil, errors.Annotate(err, "sending interrupted")
	}

	summary := stats.Summarize(jobs, e.now().Sub(started))
	summary.Session = session
	summary.Version = dynversion.Version

	logl.Info.Printf("summary: %s", summary.String())

	if e.conf.MetricsTextfile != "" {
		if err := mbstats.WriteTextfile(e.conf.MetricsTextfile, summary); err != nil {
			logl.Error.Printf("metrics textfile: %v", err)
		}
	}

	if e.conf.DeadMansSwitchUrl != "" && summary.FailCount == 0 {
		if err := checkIn(ctx, e.conf.DeadMansSwitchUrl); err != nil {
			logl.Error.Printf("dead man's switch check-in: %v", err)
		}
	}

	e.runAction(ctx, e.conf.PostBackupAction, "post-backup action", logl)

	return &summary, nil
}

// actions are best-effort
func (e *Engine) runAction(ctx context.Context, action *mbconfig.ActionConfig, name string, logl *logex.Leveled) {
	if action == nil || action.Binary == "" {
		return
	}

	args, err := shellquote.Split(action.Args)
	if err != nil {
		logl.Error.Printf("%s: args: %v", name, err)
		return
	}

	result, err := e.runner.Run(ctx, mbexec.Command{Binary: action.Binary, Args: args})
	switch {
	case err != nil:
		logl.Error.Printf("%s: %v", name, err)
	case !result.Succeeded():
		logl.Error.Printf("%s: %s result=%d", name, result.Command.String(), result.ExitCode)
	default:
		logl.Debug.Printf("%s ran in %s", name, result.Elapsed)
	}
}

func checkIn(ctx context.Context, url string) error {
	reqCtx, cancel := context.WithTimeout(ctx, ezhttp.DefaultTimeout10s)
	defer cancel()

	_, err := ezhttp.Post(reqCtx, url)
	return err
}

// distinct kinds, in Kinds order
func kindsOf(jobs []*mbtypes.BackupJob) []mbtypes.Kind {
	counts := mbtypes.CountByKind(jobs)

	kinds := []mbtypes.Kind{}
	for _, kind := range mbtypes.Kinds {
		if counts[kind] > 0 {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}
