package mbtransport

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/function61/gokit/log/logex"
	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"

	"github.com/perjahn/multibackup/pkg/mbexec"
	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// per-file progress lines of a successful transfer
var rsyncNoise = []string{
	".d..t...... ",
	"<f..t...... ",
}

// Rsync sends over ssh, authenticating with the target's private key file
type Rsync struct {
	binary     string
	ssh        string
	certDir    string
	toolLogDir string
	runner     mbexec.Runner
	now        func() time.Time
	logl       *logex.Leveled
}

func NewRsync(
	binary string,
	ssh string,
	certDir string,
	toolLogDir string,
	runner mbexec.Runner,
	logger *log.Logger,
) *Rsync {
	return &Rsync{
		binary:     binary,
		ssh:        ssh,
		certDir:    certDir,
		toolLogDir: toolLogDir,
		runner:     runner,
		now:        time.Now,
		logl:       logex.Levels(logex.Prefix("rsync", logger)),
	}
}

var _ Transport = (*Rsync)(nil)

func (r *Rsync) Transmit(ctx context.Context, sourceDir string, target mbtypes.Target) error {
	// rsync runs from its own folder (it may ship with its own ssh there), so
	// everything we hand it must be absolute
	absSource, err := filepath.Abs(sourceDir)
	if err != nil {
		return err
	}

	absCert, err := filepath.Abs(filepath.Join(r.certDir, target.CertFile))
	if err != nil {
		return err
	}

	absLogDir, err := filepath.Abs(r.toolLogDir)
	if err != nil {
		return err
	}

	toolLog, err := mbexec.PrepareToolLog(absLogDir, "rsync", r.now())
	if err != nil {
		return errors.Annotate(err, "tool log")
	}

	cmd := mbexec.Command{
		Binary:  r.binary,
		Args:    RsyncArgs(r.ssh, absCert, absSource, target, toolLog),
		Secrets: []string{target.Server, target.Account},
	}

	var result mbexec.Result
	runErr := mbexec.InDir(filepath.Dir(r.binary), func() error {
		var err error
		result, err = r.runner.Run(ctx, cmd)
		return err
	})

	content, logErr := mbexec.ConsumeToolLog(toolLog, rsyncNoise)
	switch {
	case logErr != nil:
		r.logl.Error.Printf("tool log %s: %v", toolLog, logErr)
	case content != "":
		r.logl.Info.Printf("results:\n%s", content)
	}

	if runErr != nil {
		return runErr
	}

	if !result.Succeeded() {
		return fmt.Errorf(
			"rsync failed: args=%s result=%d elapsedms=%d",
			cmd.MaskedArgs(),
			result.ExitCode,
			result.Elapsed.Milliseconds())
	}

	return nil
}

func RsyncArgs(ssh string, certPath string, sourceDir string, target mbtypes.Target, toolLog string) []string {
	return []string{
		"--checksum",
		"--remove-source-files",
		"-a",
		"-l",
		"-e", shellquote.Join(ssh, "-o", "StrictHostKeyChecking=no", "-i", certPath),
		sourceDir + "/",
		fmt.Sprintf("%s@%s:.", target.Account, target.Server),
		"--log-file", toolLog,
	}
}
