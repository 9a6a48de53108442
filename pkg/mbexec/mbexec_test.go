package mbexec

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perjahn/multibackup/pkg/mbtypes"
	"github.com/perjahn/multibackup/pkg/redact"
)

func TestInDirRestoresOnSuccessAndFailure(t *testing.T) {
	original, err := os.Getwd()
	require.NoError(t, err)

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	var inside string
	require.NoError(t, InDir(dir, func() error {
		inside, err = os.Getwd()
		return err
	}))
	assert.Equal(t, dir, inside)

	now, _ := os.Getwd()
	assert.Equal(t, original, now)

	failure := errors.New("archiver exploded")
	assert.Equal(t, failure, InDir(dir, func() error { return failure }))

	now, _ = os.Getwd()
	assert.Equal(t, original, now)

	assert.Panics(t, func() {
		_ = InDir(dir, func() error { panic("boom") })
	})

	now, _ = os.Getwd()
	assert.Equal(t, original, now)

	assert.Error(t, InDir(filepath.Join(dir, "missing"), func() error {
		t.Fatal("must not run")
		return nil
	}))
}

func TestConsumeToolLog(t *testing.T) {
	dir := t.TempDir()

	path, err := PrepareToolLog(dir, "job1", time.Date(2024, 3, 4, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job1_20240304.log"), path)

	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"[2024][VERBOSE] Start transfer: a",
		"real problem",
		"[2024][VERBOSE] Finished transfer: a",
		"another",
	}, "\n")), 0600))

	content, err := ConsumeToolLog(path, []string{"][VERBOSE] Start transfer: ", "][VERBOSE] Finished transfer: "})
	require.NoError(t, err)
	assert.Equal(t, "real problem\nanother", content)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	content, err = ConsumeToolLog(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "", content)
}

func TestConsumeToolLogTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("0123456789\n"), 5000), 0600))

	content, err := ConsumeToolLog(path, nil)
	require.NoError(t, err)
	assert.Len(t, content, redact.MaxLogContent+3)
}

func TestPrepareToolLogRemovesStale(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	stale := filepath.Join(dir, "job_20240304.log")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0600))

	path, err := PrepareToolLog(dir, "job", now)
	require.NoError(t, err)
	assert.Equal(t, stale, path)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestSevenZipArgs(t *testing.T) {
	assert.Equal(t, []string{"a", "-mx0", "out.7z", "in.bacpac", "-sdel", "-mhe", "-psecret"}, SevenZipArgs(ArchiveRequest{
		Level:        mbtypes.CompressionStore,
		Archive:      "out.7z",
		Input:        "in.bacpac",
		DeleteSource: true,
		Password:     "secret",
	}))

	assert.Equal(t, []string{"a", "-mx9", "out.7z", "dir", "-mhe", "-psecret"}, SevenZipArgs(ArchiveRequest{
		Level:    mbtypes.CompressionMaximum,
		Archive:  "out.7z",
		Input:    "dir",
		Password: "secret",
	}))
}

type recordingRunner struct {
	commands []Command
	exitCode int
	// runs while the tool "runs"
	sideEffect func(cmd Command)
}

func (r *recordingRunner) Run(_ context.Context, cmd Command) (Result, error) {
	r.commands = append(r.commands, cmd)
	if r.sideEffect != nil {
		r.sideEffect(cmd)
	}
	return Result{Command: cmd, ExitCode: r.exitCode}, nil
}

func TestToolExporterReadsBackAndDeletesToolLog(t *testing.T) {
	logDir := t.TempDir()
	logBuf := &bytes.Buffer{}

	runner := &recordingRunner{
		sideEffect: func(cmd Command) {
			for _, arg := range cmd.Args {
				if strings.HasPrefix(arg, "/ErrorLog:") {
					require.NoError(t, os.WriteFile(strings.TrimPrefix(arg, "/ErrorLog:"), []byte("collection throttled\n"), 0600))
				}
			}
		},
	}

	exporter := NewToolExporter(
		map[mbtypes.Kind]string{mbtypes.KindCosmosDB: "/tools/dt"},
		logDir,
		runner,
		log.New(logBuf, "", 0))

	job := &mbtypes.BackupJob{
		Name:        "orders",
		Source:      &mbtypes.CosmosDB{ConnectionString: "AccountKey=xyz", Collection: "orders"},
		ExportPath:  "/export/cosmosdb_orders_1.json",
		ZipPassword: "pw",
	}

	result, err := exporter.Export(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	require.Len(t, runner.commands, 1)
	assert.Equal(t, "/tools/dt", runner.commands[0].Binary)
	assert.Contains(t, runner.commands[0].Args, "/t.File:/export/cosmosdb_orders_1.json")
	assert.NotContains(t, runner.commands[0].String(), "AccountKey=xyz")

	assert.Contains(t, logBuf.String(), "collection throttled")

	leftovers, err := os.ReadDir(logDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestToolExporterWithoutTool(t *testing.T) {
	exporter := NewToolExporter(map[mbtypes.Kind]string{}, t.TempDir(), &recordingRunner{}, log.New(&bytes.Buffer{}, "", 0))

	_, err := exporter.Export(context.Background(), &mbtypes.BackupJob{Name: "x", Source: &mbtypes.MongoDB{}})
	assert.Error(t, err)
}

func TestProcessRunnerExitCodes(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh")
	}

	runner := NewRunner(0, log.New(&bytes.Buffer{}, "", 0)).(*processRunner)
	runner.output = &bytes.Buffer{}

	result, err := runner.Run(context.Background(), Command{Binary: sh, Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)

	result, err = runner.Run(context.Background(), Command{Binary: sh, Args: []string{"-c", "true"}})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	_, err = runner.Run(context.Background(), Command{Binary: filepath.Join(t.TempDir(), "nonexistent")})
	assert.Error(t, err)
}

func TestProcessRunnerTimeout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh")
	}

	runner := NewRunner(50*time.Millisecond, log.New(&bytes.Buffer{}, "", 0)).(*processRunner)
	runner.output = &bytes.Buffer{}

	result, err := runner.Run(context.Background(), Command{Binary: sh, Args: []string{"-c", "exec sleep 5"}})
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.False(t, result.Succeeded())
}
