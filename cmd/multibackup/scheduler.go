package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/function61/gokit/app/dynversion"
	"github.com/function61/gokit/log/logex"
	"github.com/function61/gokit/os/osutil"
	"github.com/function61/gokit/os/systemdinstaller"
	"github.com/spf13/cobra"

	"github.com/perjahn/multibackup/pkg/mbconfig"
)

// runs until ctx is cancelled, which also interrupts a backup in progress
func runScheduler(ctx context.Context, hourUtc int, logger *log.Logger, backup func(context.Context) error) {
	logl := logex.Levels(logger)

	logl.Info.Println("started")
	defer logl.Info.Println("stopped")

	for {
		now := time.Now()
		next := nextBackupTime(now, hourUtc)

		logl.Info.Printf("next backup will be at: %s", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			logl.Info.Println("it's backup time!")

			if err := backup(ctx); err != nil {
				logl.Error.Printf("error: %v", err)
			} else {
				logl.Info.Println("backup completed")
			}
		}
	}
}

// next occurrence of hourUtc:00, strictly after now
func nextBackupTime(now time.Time, hourUtc int) time.Time {
	now = now.UTC()

	next := time.Date(now.Year(), now.Month(), now.Day(), hourUtc, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

func schedulerEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Scheduled backup related commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run a scheduler to take a backup every day",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rootLogger := logex.StandardLogger()
			logl := logex.Levels(logex.Prefix("main", rootLogger))

			conf, err := mbconfig.ReadFromEnvOrFile()
			if err != nil {
				logl.Error.Fatalf("config: %v", err)
			}

			logl.Info.Printf("Started %s", dynversion.Version)

			runScheduler(
				osutil.CancelOnInterruptOrTerminate(rootLogger),
				conf.SchedulerHourUtc,
				logex.Prefix("scheduler", rootLogger),
				func(ctx context.Context) error { return runBackup(ctx, "") })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "install-systemd-service-file",
		Short: "Install scheduled backups as a system service",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			service := systemdinstaller.Service(
				"multibackup",
				"multibackup",
				systemdinstaller.Args("scheduler", "run"),
				systemdinstaller.RequireNetworkOnline)

			osutil.ExitIfError(systemdinstaller.Install(service))

			fmt.Println(systemdinstaller.EnableAndStartCommandHints(service))
		},
	})

	return cmd
}
