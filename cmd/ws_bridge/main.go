// Command ws_bridge exposes a stdio program, typically `mcpchat --acp`, over a
// websocket. Every websocket message becomes one line on the program's
// stdin; every stdout or stderr line is sent back as a JSON frame.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr, path string
	cmd := &cobra.Command{
		Use:           "ws_bridge [flags] -- command [args...]",
		Short:         "Bridge a stdio agent to a websocket",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
				With().Timestamp().Logger()
			b := &bridge{command: args, log: log}
			return b.ListenAndServe(cmd.Context(), addr, path)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&path, "path", "/ws", "websocket endpoint path")
	return cmd
}
