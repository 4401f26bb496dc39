package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"embedwrap/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the render hook over HTTP",
	Long: `Starts an HTTP server the host calls after rendering a post:
POST /rehydrate?page_url=<url> with the post HTML as body.`,
	Args: cobra.NoArgs,
	RunE: serveRun,
}

func init() {
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default from config)")
}

func serveRun(cmd *cobra.Command, args []string) error {
	if flagListen != "" {
		cfg.Listen = flagListen
	}

	r, err := newRehydrator()
	if err != nil {
		return err
	}

	srv := server.New(r, server.Options{
		PageURL:    pageURL(),
		Settle:     cfg.ExpandDelay + time.Second,
		OnlyStream: cfg.OnlyStream,
		Logger:     logger,
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.ListenAndServe(ctx, cfg.Listen)
}
