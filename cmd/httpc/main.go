// httpc is a small HTTP/1.0 client that speaks over a stream socket, a
// websocket or the reliable datagram protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/1ureka/httpnio/internal/arq"
	"github.com/1ureka/httpnio/internal/config"
	"github.com/1ureka/httpnio/internal/transport"
	"github.com/1ureka/httpnio/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// stdout carries the response body
	util.SetLogOutput(os.Stderr)

	rootCmd := &cobra.Command{
		Use:   "httpc",
		Short: "HTTP/1.0 client over tcp, websocket or reliable udp",
		Long: `httpc sends one GET or POST request and prints the response body.

Examples:
  httpc get http://localhost:8080/
  httpc post -d '{"a":1}' http://localhost:8080/notes.json
  httpc get --udp -p /notes.json localhost:8080
  httpc get --udp --router localhost:3000 -p / localhost:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(getCmd(), postCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		util.LogError("%s", describe(err))
		os.Exit(1)
	}
}

// describe turns the error taxonomy into a message for the terminal.
func describe(err error) string {
	switch {
	case errors.Is(err, transport.ErrRequestTimeout):
		return fmt.Sprintf("no response in time: %v", err)
	case errors.Is(err, arq.ErrHandshakeFailure):
		return fmt.Sprintf("server did not answer the handshake: %v", err)
	case errors.Is(err, arq.ErrTransferIncomplete):
		return fmt.Sprintf("transfer gave up after too many retries: %v", err)
	case errors.Is(err, config.ErrInvalidConfig):
		return fmt.Sprintf("bad arguments: %v", err)
	default:
		return err.Error()
	}
}
