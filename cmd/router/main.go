// router relays reliable-protocol datagrams between clients and servers and
// can drop, delay and rate-limit them to exercise retransmission.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/httpnio/internal/router"
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
		port    int
		opts    router.Options
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "router",
		Short: "Lossy datagram router for the reliable transport",
		Long: `router forwards each datagram to the endpoint named in its header,
rewriting that field to the sender so replies find their way back.

Examples:
  router
  router --port 3000 --drop-rate 0.2 --max-delay 50ms --seed 1`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				util.EnableDebug()
			}

			r, err := router.Listen(cmd.Context(), fmt.Sprintf(":%d", port), opts, util.NewStats(nil))
			if err != nil {
				return err
			}
			pterm.Info.Printfln("router v%s on %s, Ctrl+C to stop", version, r.Addr())

			<-r.Done()
			util.LogInfo("router stopped")
			return nil
		},
	}

	fs := cmd.Flags()
	fs.IntVar(&port, "port", 3000, "Listen port")
	fs.Float64Var(&opts.DropRate, "drop-rate", 0, "Probability of discarding a datagram, 0 to 1")
	fs.DurationVar(&opts.MaxDelay, "max-delay", 0, "Hold each datagram for a random time below this")
	fs.Float64Var(&opts.Rate, "rate", 0, "Datagrams per second, 0 for unlimited")
	fs.Uint64Var(&opts.Seed, "seed", 0, "Random seed, 0 for a random one")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Log every dropped datagram")

	return cmd
}
