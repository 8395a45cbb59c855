package cmd

import (
	"fmt"

	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/lib"

	"github.com/spf13/cobra"
)

var resetRemoteCmd = &cobra.Command{
	Use:     "reset-remote",
	Short:   "Wipe all server-side data for this account (local data is kept)",
	GroupID: GROUP_ID_SYNC,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := hctx.MakeContext()
		lib.CheckFatalError(lib.ResetRemote(ctx))
		fmt.Println("Wiped all server-side data")
	},
}

func init() {
	rootCmd.AddCommand(resetRemoteCmd)
}
