package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"xrayctl/internal/logger"
	"xrayctl/internal/profile"

	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse <share-link>",
	Short: "Parse a share link and print the normalized profile",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		p, err := profile.Parse(args[0])
		if err != nil {
			logger.Log.Fatalf("Parse failed: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Protocol:\t%s\n", p.Protocol)
		fmt.Fprintf(w, "Remark:\t%s\n", p.Remark)
		fmt.Fprintf(w, "Server:\t%s:%d\n", p.Host, p.Port)
		if m := p.Method(); m != "" {
			fmt.Fprintf(w, "Method:\t%s\n", m)
		}

		net := p.Transport.Network
		if net == "" {
			net = "tcp"
		}
		fmt.Fprintf(w, "Transport:\t%s\n", net)
		if p.Transport.Path != "" {
			fmt.Fprintf(w, "Path:\t%s\n", p.Transport.Path)
		}
		if p.Transport.Host != "" {
			fmt.Fprintf(w, "Host header:\t%s\n", p.Transport.Host)
		}
		if p.Transport.ServiceName != "" {
			fmt.Fprintf(w, "gRPC service:\t%s\n", p.Transport.ServiceName)
		}

		if p.TLS.Enabled {
			fmt.Fprintf(w, "TLS:\ton (SNI %s)\n", p.TLS.SNI)
			if len(p.TLS.ALPN) > 0 {
				fmt.Fprintf(w, "ALPN:\t%s\n", strings.Join(p.TLS.ALPN, ","))
			}
		} else {
			fmt.Fprintf(w, "TLS:\toff\n")
		}
		fmt.Fprintf(w, "Fingerprint:\t%s\n", p.Fingerprint()[:16])
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(parseCmd)
}
