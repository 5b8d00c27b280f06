package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/1ureka/httpnio/internal/app"
	"github.com/1ureka/httpnio/internal/httpmsg"
)

func postCmd() *cobra.Command {
	var (
		f    requestFlags
		data string
		file string
	)

	cmd := &cobra.Command{
		Use:   "post URL",
		Short: "Send a POST request",
		Long: `Send a POST request with an inline body (-d) or the contents of a
file (-f), and print the response body.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := []byte(data)
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return errors.Wrap(err, "read request body")
				}
				body = b
			}
			return f.run(cmd, args[0], app.FetchOptions{Method: httpmsg.MethodPost, Body: body})
		},
	}

	f.register(cmd)
	cmd.Flags().StringVarP(&data, "data", "d", "", "Inline request body")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the request body from a file")
	cmd.MarkFlagsMutuallyExclusive("data", "file")

	return cmd
}
