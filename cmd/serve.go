package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/churnlens/internal/server"
)

var (
	serveAddr    string
	servePreload string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		addr := c.ListenAddr
		if serveAddr != "" {
			addr = serveAddr
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := buildService(c)
		if servePreload != "" {
			up, err := uploadFile(ctx, svc, servePreload)
			if err != nil {
				return fmt.Errorf("preload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Preloaded %d customers from %s\n", up.Session.Rows(), servePreload)
		}
		srv := server.New(svc, server.Options{MaxUploadBytes: c.MaxUploadBytes()})
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Serving on %s (model: %s)\n", addr, c.ModelPath)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().StringVar(&servePreload, "preload", "", "score this dataset at startup")
}
