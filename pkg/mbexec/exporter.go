package mbexec

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/log/logex"
	"github.com/juju/errors"

	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// ToolExporter exports a job's source with the tool configured for its kind
type ToolExporter struct {
	binaries   map[mbtypes.Kind]string
	runner     Runner
	toolLogDir string
	now        func() time.Time
	logl       *logex.Leveled
}

func NewToolExporter(
	binaries map[mbtypes.Kind]string,
	toolLogDir string,
	runner Runner,
	logger *log.Logger,
) *ToolExporter {
	return &ToolExporter{
		binaries:   binaries,
		runner:     runner,
		toolLogDir: toolLogDir,
		now:        time.Now,
		logl:       logex.Levels(logex.Prefix("export", logger)),
	}
}

// Export makes one attempt. The artifact appears at job.ExportPath.
func (e *ToolExporter) Export(ctx context.Context, job *mbtypes.BackupJob) (Result, error) {
	binary, found := e.binaries[job.Kind()]
	if !found || binary == "" {
		return Result{ExitCode: -1}, errors.NotFoundf("export tool for %s", job.Kind().Label())
	}

	toolLogSpec := job.Source.ToolLog()

	toolLog := ""
	if toolLogSpec != nil {
		var err error
		toolLog, err = PrepareToolLog(e.toolLogDir, job.Name, e.now())
		if err != nil {
			return Result{ExitCode: -1}, errors.Annotate(err, "tool log")
		}
	}

	result, err := e.runner.Run(ctx, Command{
		Binary:  binary,
		Args:    job.Source.ExportArgs(job.ExportPath, toolLog),
		Secrets: job.Secrets(),
	})

	if toolLogSpec != nil {
		content, logErr := ConsumeToolLog(toolLog, toolLogSpec.Noise)
		switch {
		case logErr != nil:
			e.logl.Error.Printf("tool log %s: %v", toolLog, logErr)
		case content != "":
			e.logl.Info.Printf("%s results:\n%s", job.Kind(), content)
		}
	}

	return result, err
}

// ArchiveRequest is the archiver's whole input
type ArchiveRequest struct {
	Level        mbtypes.CompressionLevel
	Archive      string // created
	Input        string // file or directory
	DeleteSource bool
	Password     string // also encrypts headers, so file names aren't visible either
}

// SevenZip archives with 7-Zip
type SevenZip struct {
	binary string
	runner Runner
}

func NewSevenZip(binary string, runner Runner) *SevenZip {
	return &SevenZip{binary, runner}
}

func (s *SevenZip) Archive(ctx context.Context, req ArchiveRequest) (Result, error) {
	return s.runner.Run(ctx, Command{
		Binary:  s.binary,
		Args:    SevenZipArgs(req),
		Secrets: []string{req.Password},
	})
}

func SevenZipArgs(req ArchiveRequest) []string {
	args := []string{
		"a",
		fmt.Sprintf("-mx%d", req.Level),
		req.Archive,
		req.Input,
	}

	if req.DeleteSource {
		args = append(args, "-sdel")
	}

	return append(args, "-mhe", "-p"+req.Password)
}
