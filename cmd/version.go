package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cometsec/comet/internal/message"
	"github.com/cometsec/comet/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of Comet",
	Run: func(cmd *cobra.Command, args []string) {
		message.Info("%s", version.FullVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
