package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/httpnio/internal/app"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/httpmsg"
	"github.com/1ureka/httpnio/internal/util"
)

// requestFlags are shared by get and post.
type requestFlags struct {
	verbose   bool
	headers   []string
	output    string
	path      string
	udp       bool
	transport string
	router    string

	timeout       time.Duration
	window        int
	packetTimeout time.Duration
	retries       int
}

func (f *requestFlags) register(cmd *cobra.Command) {
	defaults := config.Default()

	fs := cmd.Flags()
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Print the response status line and headers, and debug logs")
	fs.StringArrayVarP(&f.headers, "header", "H", nil, "Request header 'Key: value' (repeatable)")
	fs.StringVarP(&f.output, "output", "o", "", "Write the response body to a file")
	fs.StringVarP(&f.path, "path", "p", "", "Request path (udp only; tcp and ws take it from the URL)")
	fs.BoolVar(&f.udp, "udp", false, "Shorthand for --transport udp")
	fs.StringVar(&f.transport, "transport", string(defaults.Transport), "Transport: tcp, udp or ws")
	fs.StringVar(&f.router, "router", "", "Send datagrams through a router at host:port (udp)")

	fs.DurationVar(&f.timeout, "timeout", defaults.RequestTimeout, "Overall request timeout")
	fs.IntVar(&f.window, "window", defaults.WindowSize, "Sliding window size (udp)")
	fs.DurationVar(&f.packetTimeout, "packet-timeout", defaults.PacketTimeout, "Retransmission timeout (udp)")
	fs.IntVar(&f.retries, "retries", defaults.MaxRetries, "Timeouts before giving up (udp)")
}

func (f *requestFlags) config() (config.Config, error) {
	cfg := config.Default()

	kind, err := config.ParseTransport(f.transport)
	if err != nil {
		return cfg, err
	}
	if f.udp {
		kind = config.TransportReliable
	}
	cfg.Transport = kind
	cfg.RouterAddr = f.router
	cfg.RequestTimeout = f.timeout
	cfg.WindowSize = f.window
	cfg.PacketTimeout = f.packetTimeout
	cfg.MaxRetries = f.retries
	cfg.Verbose = f.verbose

	if f.verbose {
		util.EnableDebug()
	}
	return cfg, cfg.Validate()
}

// run performs the request described by the flags against raw.
func (f *requestFlags) run(cmd *cobra.Command, raw string, opts app.FetchOptions) error {
	cfg, err := f.config()
	if err != nil {
		return err
	}
	target, err := app.ParseTarget(cfg.Transport, raw, f.path)
	if err != nil {
		return err
	}
	opts.Header = f.headers

	resp, err := app.Fetch(cmd.Context(), cfg, target, opts)
	if err != nil {
		return err
	}
	return f.print(cmd.OutOrStdout(), resp)
}

func (f *requestFlags) print(stdout io.Writer, resp *httpmsg.Response) error {
	if f.verbose {
		pterm.Fprintln(stdout, pterm.Gray(resp.Head()))
		fmt.Fprintln(stdout)
	}

	if f.output != "" {
		if err := os.WriteFile(f.output, resp.Body, 0o644); err != nil {
			return err
		}
		util.LogSuccess("wrote %d bytes to %s", len(resp.Body), f.output)
		return nil
	}

	_, err := stdout.Write(resp.Body)
	return err
}
