package main

import (
	"github.com/spf13/cobra"

	"github.com/1ureka/httpnio/internal/app"
	"github.com/1ureka/httpnio/internal/httpmsg"
)

func getCmd() *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   "get URL",
		Short: "Send a GET request",
		Long: `Send a GET request and print the response body.

URL is http://host:port/path for tcp and ws, or host:port together with
--path for udp.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return f.run(cmd, args[0], app.FetchOptions{Method: httpmsg.MethodGet})
		},
	}

	f.register(cmd)
	return cmd
}
