package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/function61/gokit/log/logex"
	"github.com/function61/gokit/os/osutil"
	"github.com/spf13/cobra"

	"github.com/perjahn/multibackup/pkg/mbconfig"
	"github.com/perjahn/multibackup/pkg/mbtransport"
	"github.com/perjahn/multibackup/pkg/mbtypes"
)

// archives sent over rsync live on ssh hosts; only object storage targets can be browsed
func remoteEntry() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Browse archives at an s3:// target",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [server] [account] [certfile]",
		Short: "List archives at a target, oldest first",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func(ctx context.Context, target mbtypes.Target) error {
				store, err := remoteStore()
				if err != nil {
					return err
				}

				archives, err := store.List(ctx, target)
				if err != nil {
					return err
				}

				for _, archive := range archives {
					fmt.Printf(
						"%s\t%s\t%s\n",
						archive.LastModified.UTC().Format("2006-01-02 15:04Z"),
						humanize.IBytes(uint64(archive.Size)),
						archive.Key)
				}

				return nil
			}(osutil.CancelOnInterruptOrTerminate(nil), targetFromArgs(args)))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get [server] [account] [certfile] [key]",
		Short: "Write one archive to stdout",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func(ctx context.Context, target mbtypes.Target, key string) error {
				store, err := remoteStore()
				if err != nil {
					return err
				}

				body, err := store.Get(ctx, target, key)
				if err != nil {
					return err
				}
				defer body.Close()

				_, err = io.Copy(os.Stdout, body)
				return err
			}(osutil.CancelOnInterruptOrTerminate(nil), targetFromArgs(args), args[3]))
		},
	})

	return cmd
}

func remoteStore() (*mbtransport.S3, error) {
	conf, err := mbconfig.ReadFromEnvOrFile()
	if err != nil {
		return nil, err
	}

	return mbtransport.NewS3(conf.S3Region, conf.CertDir, logex.StandardLogger()), nil
}

func targetFromArgs(args []string) mbtypes.Target {
	return mbtypes.Target{
		Server:   args[0],
		Account:  args[1],
		CertFile: args[2],
	}
}
