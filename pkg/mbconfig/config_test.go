package mbconfig

import (
	"bytes"
	"context"
	"encoding/base64"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perjahn/multibackup/pkg/mbexec"
	"github.com/perjahn/multibackup/pkg/mbtypes"
)

func TestReadFromEnv(t *testing.T) {
	t.Setenv(envConfKey, base64.StdEncoding.EncodeToString([]byte(`{
		"target_server": "srv",
		"tools": {"sevenzip": "/bin/7z"},
		"retry": {"export_delay": "250ms"}
	}`)))

	conf, err := ReadFromEnvOrFile()
	require.NoError(t, err)

	assert.Equal(t, "srv", conf.TargetServer)
	assert.Equal(t, 250*time.Millisecond, conf.Retry.ExportDelay.Duration)
	assert.Equal(t, DefaultAttempts, conf.Retry.ExportAttempts)
	assert.Equal(t, 2*time.Second, conf.Retry.CleanupDelay.Duration)
	assert.Equal(t, PolicyDeductGroup, conf.TransmitFailurePolicy)
	assert.Equal(t, []string{"backupjobs*.json", "backupjobs*.yaml"}, conf.JobFiles)
}

func TestReadRejectsUnknownFields(t *testing.T) {
	t.Setenv(envConfKey, base64.StdEncoding.EncodeToString([]byte(`{"tools": {"sevenzip": "7z"}, "nope": 1}`)))

	_, err := ReadFromEnvOrFile()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	conf := DefaultConfig(false)
	assert.NoError(t, conf.Validate())

	conf.TransmitFailurePolicy = "whatever"
	assert.True(t, errors.IsNotValid(conf.Validate()))

	conf = DefaultConfig(false)
	conf.Tools.SevenZip = ""
	assert.True(t, errors.IsNotValid(conf.Validate()))
}

func TestKitchenSinkValidates(t *testing.T) {
	assert.NoError(t, DefaultConfig(true).Validate())
}

func TestCheckTools(t *testing.T) {
	dir := t.TempDir()
	touch := func(name string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0755))
		return path
	}

	conf := DefaultConfig(false)
	conf.Tools.SevenZip = touch("7z")
	conf.Tools.Azcopy = touch("azcopy")
	conf.Tools.Rsync = filepath.Join(dir, "missing-rsync")

	assert.NoError(t, conf.CheckTools([]mbtypes.Kind{mbtypes.KindAzureStorage}, false))

	err := conf.CheckTools([]mbtypes.Kind{mbtypes.KindAzureStorage}, true)
	assert.True(t, errors.IsNotFound(err))

	conf.Tools.SqlPackage = ""
	err = conf.CheckTools([]mbtypes.Kind{mbtypes.KindSqlServer}, false)
	assert.True(t, errors.IsNotValid(err))
}

func TestReadFillsDefaultsAndValidates(t *testing.T) {
	conf, err := Read(strings.NewReader(`{"tools": {"sevenzip": "/usr/bin/7z"}, "retry": {"export_attempts": 3}}`))
	require.NoError(t, err)
	assert.Equal(t, 3, conf.Retry.ExportAttempts)
	assert.Equal(t, DefaultAttempts, conf.Retry.TransmitAttempts)

	_, err = Read(strings.NewReader(`{"tools": {}}`))
	assert.True(t, errors.IsNotValid(err))
}

func TestRelativeToolPathWorksFromOtherWorkdir(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tools"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "export"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tools", "7z"), []byte("#!/bin/sh\nexit 0\n"), 0755))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(root))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	conf, err := Read(strings.NewReader(`{"tools": {"sevenzip": "tools/7z", "rsync": "rsync"}}`))
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(conf.Tools.SevenZip))
	assert.Equal(t, "rsync", conf.Tools.Rsync) // bare names go through $PATH
	assert.Equal(t, "ssh", conf.Tools.Ssh)

	require.NoError(t, conf.CheckTools(nil, false))

	runner := mbexec.NewRunner(0, log.New(&bytes.Buffer{}, "", 0))

	var result mbexec.Result
	require.NoError(t, mbexec.InDir(filepath.Join(root, "export"), func() error {
		var runErr error
		result, runErr = runner.Run(context.Background(), mbexec.Command{Binary: conf.Tools.SevenZip})
		return runErr
	}))
	assert.Equal(t, 0, result.ExitCode)
}
