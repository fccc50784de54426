package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/deepresearch/server"
)

var serveFlags struct {
	addr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket API",
	Long: `Serves POST /deep-research (form fields original_query and source_mode),
GET /ws for streamed progress, GET /health and GET /.

The listen address comes from --addr, DEEP_RESEARCH_ADDR or server.addr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "Listen address (default: server.addr from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}

	addr := serveFlags.addr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("Deep research API listening on %s", addr)
	return server.New(p, server.Config{
		Addr:           addr,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, log).ListenAndServe(ctx)
}
