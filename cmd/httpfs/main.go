// httpfs serves a directory over tcp, websocket or the reliable datagram
// protocol: GET lists and reads files, POST writes them.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/httpnio/internal/app"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/fileserver"
	"github.com/1ureka/httpnio/internal/util"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		cfg       = config.Default()
		udp       bool
		transport string
	)

	cmd := &cobra.Command{
		Use:   "httpfs",
		Short: "File server over tcp, websocket or reliable udp",
		Long: `httpfs serves the files under a directory.

  GET /        lists every file below the directory
  GET /dir     lists one directory
  GET /file    returns the file
  POST /file   writes the request body to the file

Examples:
  httpfs -d ./public
  httpfs --udp -p 8007 -v
  httpfs --udp --router localhost:3000 --metrics :9090`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := config.ParseTransport(transport)
			if err != nil {
				return err
			}
			if udp {
				kind = config.TransportReliable
			}
			cfg.Transport = kind
			if cfg.Verbose {
				util.EnableDebug()
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Listen port")
	fs.StringVarP(&cfg.Directory, "dir", "d", cfg.Directory, "Directory to serve")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Debug logging and periodic traffic stats")
	fs.BoolVar(&udp, "udp", false, "Shorthand for --transport udp")
	fs.StringVar(&transport, "transport", string(cfg.Transport), "Transport: tcp, udp or ws")
	fs.StringVar(&cfg.RouterAddr, "router", "", "Send datagrams through a router at host:port (udp)")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent sessions")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "Serve /metrics and /healthz on this address")
	fs.DurationVar(&cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "Per-exchange timeout (tcp and ws)")
	fs.IntVar(&cfg.WindowSize, "window", cfg.WindowSize, "Sliding window size (udp)")
	fs.DurationVar(&cfg.PacketTimeout, "packet-timeout", cfg.PacketTimeout, "Retransmission timeout (udp)")
	fs.IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Timeouts before giving up (udp)")
	fs.DurationVar(&cfg.TombstoneTTL, "tombstone", cfg.TombstoneTTL, "How long a finished client's stale SYNs are ignored (udp)")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	handler, err := fileserver.New(cfg.Directory)
	if err != nil {
		return err
	}

	pterm.DefaultBox.WithTitle("httpfs v" + version).Println(
		pterm.Sprintf("Directory : %s\nTransport : %s\nPort      : %d", handler.Root(), cfg.Transport, cfg.Port))

	if err := app.Serve(ctx, cfg, handler); err != nil {
		return err
	}
	util.LogInfo("server stopped")
	return nil
}
