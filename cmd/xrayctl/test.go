package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/store"
	"xrayctl/internal/tester"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	flagTestWorkers int
	flagTestTimeout time.Duration
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Measure TCP latency to every stored profile",
	Long: `Dial each stored server's port once and record the connect time.
This checks reachability of the endpoint, not protocol correctness; use
'run --verify' for an end-to-end check through a live session.`,
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
			logger.Log.Warn("No profiles stored, nothing to test")
			return
		}

		targets := make([]tester.Target, 0, len(recs))
		for _, r := range recs {
			targets = append(targets, tester.Target{Key: r.ID, Host: r.Address, Port: r.Port})
		}

		bar := progressbar.NewOptions(len(targets),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(15),
			progressbar.OptionSetDescription("[cyan]Pinging...[reset]"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		t := tester.New(flagTestTimeout, flagTestWorkers)

		alive := 0
		t.PingAll(ctx, targets, func(res tester.Result) {
			bar.Add(1)
			ok := res.Err == nil
			if ok {
				alive++
			}
			if err := s.RecordLatency(res.Key, res.Latency, ok); err != nil {
				logger.Log.Warnf("Failed to record latency for %d: %v", res.Key, err)
			}
		})

		bar.Finish()
		fmt.Print("\n")
		logger.Log.Infof("✅ Tested %d profiles, %d reachable", len(targets), alive)
	},
}

func init() {
	testCmd.Flags().IntVar(&flagTestWorkers, "workers", 10, "Concurrent connection attempts")
	testCmd.Flags().DurationVar(&flagTestTimeout, "timeout", 3*time.Second, "Per-connection timeout")
	rootCmd.AddCommand(testCmd)
}
