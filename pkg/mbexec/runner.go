// Runs the external tools that do the actual exporting, archiving and sending
package mbexec

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/function61/gokit/log/logex"

	"github.com/perjahn/multibackup/pkg/redact"
)

type Command struct {
	Binary  string
	Args    []string
	Secrets []string // masked whenever the command is logged
}

// MaskedArgs is safe to log
func (c Command) MaskedArgs() string {
	return redact.Args(c.Args, c.Secrets...)
}

func (c Command) String() string {
	return c.Binary + " " + c.MaskedArgs()
}

// Result of one tool invocation
type Result struct {
	Command  Command
	ExitCode int
	Elapsed  time.Duration
}

func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Runner blocks until the tool exits. A non-zero exit is not an error; error
// means the tool could not be run at all (or was cancelled).
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type processRunner struct {
	timeout time.Duration
	output  io.Writer
	logl    *logex.Leveled
}

// NewRunner runs tools as child processes. Zero timeout means no limit.
func NewRunner(timeout time.Duration, logger *log.Logger) Runner {
	return &processRunner{
		timeout: timeout,
		output:  os.Stderr,
		logl:    logex.Levels(logex.Prefix("exec", logger)),
	}
}

func (p *processRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	result := Result{Command: cmd, ExitCode: -1}

	p.logl.Debug.Printf("running: %s", cmd.String())

	proc := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	proc.Stdout = p.output
	proc.Stderr = p.output

	started := time.Now()
	err := proc.Run()
	result.Elapsed = time.Since(started)

	switch err.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		if ctx.Err() != nil { // killed by us
			return result, ctx.Err()
		}

		result.ExitCode = err.(*exec.ExitError).ExitCode()
	default:
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		return result, err
	}

	p.logl.Debug.Printf("ran: %s exitcode=%d", cmd.Binary, result.ExitCode)

	return result, nil
}
