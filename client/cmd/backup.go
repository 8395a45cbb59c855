package cmd

import (
	"context"
	"fmt"

	"github.com/daybook-app/daybook/client/backup"
	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/lib"
	"github.com/daybook-app/daybook/client/store"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:     "backup",
	Short:   "Upload a full snapshot of all local data to the backup store",
	GroupID: GROUP_ID_BACKUP,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		st := store.NewDbStore(hctx.GetDb(ctx))
		imagesDir, err := hctx.GetImagesDir()
		lib.CheckFatalError(err)

		bar := progressbar.Default(100, "Backing up")
		onProgress := func(p backup.Progress) {
			bar.Describe(p.Stage)
			_ = bar.Set(p.Percent)
		}

		archive, err := backup.BuildArchive(ctx, st, store.NewAttachmentDir(imagesDir), onProgress)
		lib.CheckFatalError(err)

		transport, err := newDriveTransport(ctx)
		lib.CheckFatalError(err)
		size, err := transport.Upload(ctx, archive, onProgress)
		lib.CheckFatalError(err)
		_ = bar.Finish()
		fmt.Printf("\nBacked up %d bytes\n", size)
	},
}

var deleteBackupsCmd = &cobra.Command{
	Use:     "delete-backups",
	Short:   "Delete every snapshot stored remotely",
	GroupID: GROUP_ID_BACKUP,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		transport, err := newDriveTransport(ctx)
		lib.CheckFatalError(err)
		deleted, err := transport.DeleteExisting(ctx)
		lib.CheckFatalError(err)
		fmt.Printf("Deleted %d backup(s)\n", deleted)
	},
}

func newDriveTransport(ctx context.Context) (*backup.DriveTransport, error) {
	config := hctx.GetConf(ctx)
	if config.DriveAccessToken == "" {
		return nil, fmt.Errorf("no backup provider token configured, connect a storage account first")
	}
	return backup.NewDriveTransport(ctx, config.DriveAccessToken)
}

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(deleteBackupsCmd)
}
