package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"xrayctl/internal/logger"
)

var cfgFile string
var noProxy bool
var verbose bool
var logFile string

var rootCmd = &cobra.Command{
	Use:   "xrayctl",
	Short: "Manage proxy profiles and drive an xray-core engine",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(verbose, logFile)
	},
	PostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noProxy, "no-proxy", false, "Do not touch the system proxy settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (overwrites file)")
}
