package cmd

import (
	"os"

	"github.com/daybook-app/daybook/client/lib"

	"github.com/spf13/cobra"
)

const (
	GROUP_ID_SYNC   = "group_id_sync"
	GROUP_ID_BACKUP = "group_id_backup"
)

var rootCmd = &cobra.Command{
	Use:   "daybook",
	Short: "daybook: A local-first personal productivity tracker",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: GROUP_ID_SYNC, Title: "Syncing"})
	rootCmd.AddGroup(&cobra.Group{ID: GROUP_ID_BACKUP, Title: "Backup & Restore"})
	rootCmd.Version = "v0." + lib.Version
}
