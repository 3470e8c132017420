package main

import (
	"io"
	"os"

	"xrayctl/internal/config"
	"xrayctl/internal/geoip"
	"xrayctl/internal/logger"
	"xrayctl/internal/profile"
	"xrayctl/internal/store"

	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import share links from a file or stdin",
	Long: `Scan the input for ss://, vmess:// and vless:// links and store the
valid ones. Duplicates (same server, port and credentials) are skipped
even when their remarks differ.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Log.Fatalf("Error loading config: %v", err)
		}

		var data []byte
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
			if err != nil {
				logger.Log.Fatalf("Cannot read %s: %v", args[0], err)
			}
		} else {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				logger.Log.Fatalf("Cannot read stdin: %v", err)
			}
		}

		links := store.ExtractLinks(string(data))
		if len(links) == 0 {
			logger.Log.Warn("No share links found in input")
			return
		}
		logger.Log.Infof("Found %d links", len(links))

		var enrich func(*profile.Profile) string
		if err := geoip.Init(cfg.GeoIP.CountryPath); err != nil {
			logger.Log.Warnf("GeoIP unavailable, skipping country lookup: %v", err)
		} else {
			defer geoip.Close()
			enrich = func(p *profile.Profile) string {
				return geoip.CountryOfHost(p.Host)
			}
		}

		s, err := store.Open(cfg.Database.Path)
		if err != nil {
			logger.Log.Fatalf("Cannot open profile store: %v", err)
		}
		defer s.Close()

		added, dup, failed := s.Import(links, enrich)
		logger.Log.Infof("✅ Imported %d new, %d duplicates, %d invalid", added, dup, failed)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
