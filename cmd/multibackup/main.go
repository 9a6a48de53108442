package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/function61/gokit/app/dynversion"
	"github.com/function61/gokit/encoding/jsonfile"
	"github.com/function61/gokit/log/logex"
	"github.com/function61/gokit/os/osutil"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/perjahn/multibackup/pkg/mbbackup"
	"github.com/perjahn/multibackup/pkg/mbconfig"
	"github.com/perjahn/multibackup/pkg/mbjobs"
	"github.com/perjahn/multibackup/pkg/mbtypes"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	app := &cobra.Command{
		Use:     os.Args[0],
		Short:   "Backs up databases and blob storage, sends encrypted archives off-site",
		Version: dynversion.Version,
	}

	app.AddCommand(nowEntry())
	app.AddCommand(schedulerEntry())
	app.AddCommand(configEntry())
	app.AddCommand(jobsEntry())
	app.AddCommand(remoteEntry())

	osutil.ExitIfError(app.Execute())
}

func nowEntry() *cobra.Command {
	only := map[mbtypes.Kind]*bool{}

	cmd := &cobra.Command{
		Use:   "now",
		Short: "Takes a backup now",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			onlyKind := mbtypes.Kind("")
			for kind, set := range only {
				if *set {
					onlyKind = kind
				}
			}

			osutil.ExitIfError(runBackup(
				osutil.CancelOnInterruptOrTerminate(nil),
				onlyKind))
		},
	}

	flagNames := []string{}
	for _, kind := range mbtypes.Kinds {
		flagName := "only-backup-" + string(kind)
		only[kind] = cmd.Flags().Bool(flagName, false, "Back up only "+kind.Label()+" jobs")
		flagNames = append(flagNames, flagName)
	}

	cmd.MarkFlagsMutuallyExclusive(flagNames...)

	return cmd
}

// only "" means all kinds
func runBackup(ctx context.Context, only mbtypes.Kind) error {
	conf, err := mbconfig.ReadFromEnvOrFile()
	if err != nil {
		return err
	}

	logger, closeLog := rootLogger(conf)
	defer closeLog()

	if SupportsSettingPriorities {
		if err := SetLowCpuPriority(); err != nil {
			return err
		}
	}

	_, err = mbbackup.NewEngine(conf, logger).Run(ctx, only)
	return err
}

// also writes to a rotated log file if one is configured. close releases the file.
func rootLogger(conf *mbconfig.Config) (*log.Logger, func() error) {
	if conf.LogFile == "" {
		return logex.StandardLogger(), func() error { return nil }
	}

	logFile := &lumberjack.Logger{
		Filename:   conf.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 30,
		Compress:   true,
	}

	return log.New(io.MultiWriter(os.Stderr, logFile), "", log.LstdFlags), logFile.Close
}

func configEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Commands related to the configuration file",
	}

	cmd.AddCommand(configExampleEntry())
	cmd.AddCommand(configValidateEntry())

	return cmd
}

func configValidateEntry() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validates your config file (from stdin)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			_, err := mbconfig.Read(os.Stdin)
			osutil.ExitIfError(err)
		},
	}
}

func configExampleEntry() *cobra.Command {
	kitchenSink := false

	cmd := &cobra.Command{
		Use:   "example",
		Short: "Shows you an example config file",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(jsonfile.Marshal(os.Stdout, mbconfig.DefaultConfig(kitchenSink)))
		},
	}

	cmd.Flags().BoolVarP(&kitchenSink, "kitchensink", "", kitchenSink, "All the possible configuration option examples")

	return cmd
}

func jobsEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Commands related to backup job files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file ...]",
		Short: "Validates job files (default: the configured ones) and lists the jobs",
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				conf, err := mbconfig.ReadFromEnvOrFile()
				if err != nil {
					return err
				}

				patterns := conf.JobFiles
				if len(args) > 0 {
					patterns = args
				}

				paths, err := mbjobs.Glob(patterns)
				if err != nil {
					return err
				}

				logger := logex.StandardLogger()

				jobs, err := mbjobs.Load(paths, mbjobs.Options{
					DefaultTarget: conf.DefaultTarget(),
					ExportDir:     conf.ExportDir,
				}, logger)
				if err != nil {
					return err
				}

				mbjobs.LogJobs(jobs, logger)

				fmt.Printf("%d valid backup jobs\n", len(jobs))

				return nil
			}())
		},
	})

	return cmd
}
