package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/store"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
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

		recs, err := s.List()
		if err != nil {
			logger.Log.Fatalf("Cannot list profiles: %v", err)
		}
		if len(recs) == 0 {
			fmt.Println("No profiles stored. Use 'xrayctl import' first.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROTO\tREMARK\tSERVER\tCOUNTRY\tLATENCY")
		for _, r := range recs {
			lat := "-"
			switch {
			case r.LatencyMS > 0:
				lat = fmt.Sprintf("%dms", r.LatencyMS)
			case r.LatencyMS < 0:
				lat = "dead"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s:%d\t%s\t%s\n",
				r.ID, r.Protocol, r.Remark, r.Address, r.Port, r.Country, lat)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
