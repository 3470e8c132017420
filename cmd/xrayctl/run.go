package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xrayctl/internal/config"
	"xrayctl/internal/logger"
	"xrayctl/internal/orch"
	"xrayctl/internal/profile"
	"xrayctl/internal/store"
	"xrayctl/internal/tester"

	"github.com/spf13/cobra"
)

var (
	flagRunTUN    bool
	flagRunVerify string
)

var runCmd = &cobra.Command{
	Use:   "run <id|remark|share-link>",
	Short: "Connect through a profile and hold the session until interrupted",
	Long: `Resolve the argument against the stored profiles (by ID or remark),
or parse it directly when it looks like a share link, then bring the
session up and keep it until Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			logger.Log.Fatalf("Error loading config: %v", err)
		}
		if noProxy {
			cfg.SystemProxy.Enabled = false
		}
		if flagRunTUN {
			cfg.TUN.Enabled = true
		}

		p, err := resolveProfile(cfg, args[0])
		if err != nil {
			logger.Log.Fatalf("Cannot resolve profile: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o := orch.New(cfg)
		loopDone := make(chan struct{})
		loopCtx, loopCancel := context.WithCancel(context.Background())
		go func() {
			defer close(loopDone)
			o.Run(loopCtx)
		}()

		st, err := o.Connect(ctx, p)
		if err != nil {
			loopCancel()
			<-loopDone
			logger.Log.Fatalf("Connect failed: %v", err)
		}
		logger.Log.Infof("Session up. SOCKS %s, HTTP %s", st.SOCKSAddr, st.HTTPAddr)

		if flagRunVerify != "" {
			t := tester.New(cfg.Health.Timeout, 1)
			if err := t.VerifyThroughProxy(st.SOCKSAddr, flagRunVerify); err != nil {
				logger.Log.Warnf("End-to-end check against %s failed: %v", flagRunVerify, err)
			} else {
				logger.Log.Infof("End-to-end check against %s OK", flagRunVerify)
			}
		}

		<-ctx.Done()
		logger.Log.Info("Shutting down...")

		discCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := o.Disconnect(discCtx); err != nil {
			logger.Log.Errorf("Disconnect: %v", err)
		}
		loopCancel()
		<-loopDone
	},
}

// resolveProfile accepts either a raw share link or a reference into the
// store. Links win: anything that parses is used as-is.
func resolveProfile(cfg *config.Config, arg string) (*profile.Profile, error) {
	if p, err := profile.Parse(arg); err == nil {
		return p, nil
	}

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	rec, err := s.Resolve(arg)
	if err != nil {
		return nil, err
	}
	return profile.Parse(rec.Raw)
}

func init() {
	runCmd.Flags().BoolVar(&flagRunTUN, "tun", false, "Enable TUN mode for this session")
	runCmd.Flags().StringVar(&flagRunVerify, "verify", "", "host:port to dial through the session after connect")
	rootCmd.AddCommand(runCmd)
}
