package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/lib"
	"github.com/daybook-app/daybook/client/store"
	"github.com/daybook-app/daybook/client/sync"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Sync local data with the daybook backend now",
	GroupID: GROUP_ID_SYNC,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		coordinator := sync.NewCoordinator(store.NewDbStore(hctx.GetDb(ctx)))
		err := coordinator.SyncNow(ctx)
		if errors.Is(err, sync.ErrNoSession) {
			fmt.Println("Not logged in, nothing to sync")
			return
		}
		if err != nil {
			if lib.IsOfflineError(ctx, err) {
				fmt.Println("Warning: daybook is offline, changes will sync once a connection is available")
				return
			}
			lib.CheckFatalError(err)
		}
		fmt.Println("Synced successfully")
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Keep syncing in the background until interrupted",
	GroupID: GROUP_ID_SYNC,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		coordinator := sync.NewCoordinator(store.NewDbStore(hctx.GetDb(ctx)))
		coordinator.StartBackground(ctx)
		defer coordinator.Stop()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		fmt.Printf("Syncing every %s, press ctrl-c to stop\n", hctx.GetConf(ctx).SyncInterval())
		<-signals
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}
