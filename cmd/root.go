package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/cometsec/comet/internal/logs"
	"github.com/cometsec/comet/internal/message"
	"github.com/cometsec/comet/pkg/config"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	quiet     bool
	noColor   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "comet",
	Short: "Comet streams Azure AD and ARM inventory into an event hub.",
	Long: `Comet exports Microsoft Entra ID directory objects and Azure Resource
Manager inventory (subscriptions, resource groups, resources, governance
objects) into Azure Event Hubs as size-bounded JSON batches for downstream
analytics ingestion.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logs.Setup(logLevel, logFormat)
		message.SetQuiet(quiet)
		message.SetNoColor(noColor)
	},
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default comet.yaml or $HOME/.comet.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational console output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored console output")
}

// loadConfig reads the configuration once for the invoked command.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
