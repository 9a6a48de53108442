package main

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
)

func TestNextBackupTime(t *testing.T) {
	at := func(day int, hour int, minute int) time.Time {
		return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
	}

	assert.Equal(t, at(4, 1, 0), nextBackupTime(at(4, 0, 30), 1))
	assert.Equal(t, at(5, 1, 0), nextBackupTime(at(4, 1, 0), 1))
	assert.Equal(t, at(5, 1, 0), nextBackupTime(at(4, 13, 0), 1))
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), nextBackupTime(time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC), 0))

	// local time input is converted
	helsinki := time.FixedZone("EET", 2*60*60)
	assert.Equal(t, at(4, 1, 0), nextBackupTime(time.Date(2024, 3, 4, 2, 30, 0, 0, helsinki), 1))
}

func TestNowFlagsAreMutuallyExclusive(t *testing.T) {
	cmd := nowEntry()
	cmd.SetArgs([]string{"--only-backup-sqlserver", "--only-backup-mongodb"})
	cmd.Run = func(cmd *cobra.Command, args []string) {}

	assert.Error(t, cmd.Execute())
}

func TestSchedulerReturnsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logged := &bytes.Buffer{}
	backups := 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		runScheduler(ctx, 1, log.New(logged, "", 0), func(context.Context) error {
			backups++
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.Equal(t, 0, backups)
	assert.Contains(t, logged.String(), "stopped")
}
