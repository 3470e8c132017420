package main

import (
	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/store"

	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <id|remark>",
	Short: "Remove a stored profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Log.Fatalf("Error loading config: %v", err)
		}

		s, err := store.Open(cfg.Database.Path)
		if err != nil {
			logger.Log.Fatalf("Cannot open profile store: %v", err)
		}
		defer s.Close()

		if err := s.Remove(args[0]); err != nil {
			logger.Log.Fatalf("Remove failed: %v", err)
		}
		logger.Log.Infof("Removed %s", args[0])
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
