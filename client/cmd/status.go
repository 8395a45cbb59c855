package cmd

import (
	"fmt"
	"time"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/lib"
	"github.com/daybook-app/daybook/client/store"
	"github.com/daybook-app/daybook/client/sync"

	"github.com/spf13/cobra"
)

var verbose *bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View sync status and account info",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		config := hctx.GetConf(ctx)
		fmt.Printf("daybook: v0.%s\n", lib.Version)
		fmt.Printf("Logged In: %v\n", config.SessionToken != "")
		fmt.Printf("Premium: %v\n", config.IsPremium)

		coordinator := sync.NewCoordinator(store.NewDbStore(hctx.GetDb(ctx)))
		marker, err := coordinator.LastSyncedAt(ctx)
		lib.CheckFatalError(err)
		if marker == 0 {
			fmt.Println("Last Synced: never")
		} else {
			fmt.Printf("Last Synced: %s\n", time.UnixMilli(marker).Local().Format(time.RFC1123))
		}

		if *verbose {
			fmt.Printf("User ID: %s\n", data.UserId(config.UserSecret))
			fmt.Printf("Device ID: %s\n", config.DeviceId)
			fmt.Printf("Sync Interval: %s\n", config.SyncInterval())
			fmt.Printf("Commit Hash: %s\n", lib.GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	verbose = statusCmd.Flags().BoolP("verbose", "v", false, "Display verbose status info")
}
