package cmd

import (
	"errors"
	"fmt"

	"github.com/daybook-app/daybook/client/backup"
	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/lib"
	"github.com/daybook-app/daybook/client/store"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:     "restore",
	Short:   "Replace all local data with the remote snapshot",
	GroupID: GROUP_ID_BACKUP,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		st := store.NewDbStore(hctx.GetDb(ctx))
		imagesDir, err := hctx.GetImagesDir()
		lib.CheckFatalError(err)
		transport, err := newDriveTransport(ctx)
		lib.CheckFatalError(err)

		bar := progressbar.Default(100, "Restoring")
		err = backup.Restore(ctx, transport, st, store.NewAttachmentDir(imagesDir), func(p backup.Progress) {
			bar.Describe(p.Stage)
			_ = bar.Set(p.Percent)
		})
		if errors.Is(err, backup.ErrNoBackupFound) {
			fmt.Println("\nNo backup found, nothing to restore")
			return
		}
		if err != nil {
			// Restore failures leave local data possibly inconsistent, but a
			// retry is always safe
			lib.CheckFatalError(fmt.Errorf("%w (it is safe to retry the restore)", err))
		}
		_ = bar.Finish()
		fmt.Println("\nRestore complete")
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
