package commands

import (
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pact/certstore"
	"github.com/teranos/pact/logger"
	"github.com/teranos/pact/server"
	"github.com/teranos/pact/sym"
)

// ServeCmd serves stored certificates
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   sym.Store + " Serve certificates and the live feed",
	Long: sym.Store + ` serve: Serve stored certificates over HTTP

Endpoints:
  GET /certificates/{traceId}  stored certificate JSON, 404 when absent or expired
  GET /healthz                 liveness and version
  GET /ws/certificates         websocket feed of certificates stored by this process

Run 'pact certify --serve' to get live events; a standalone server only
reads the store.`,
	RunE: runServe,
}

var (
	servePort  int
	serveStore string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	ServeCmd.Flags().StringVar(&serveStore, "store", "", "Certificate store: sqlite, redis (overrides certification.store)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	if serveStore != "" {
		cfg.Certification.Store = serveStore
	}
	port := cfg.GetServerPort()
	if servePort > 0 {
		port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := certstore.Open(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pterm.Info.Printfln("Serving certificates on http://localhost:%d (Ctrl+C to stop)", port)
	return server.New(cfg, store, logger.Logger).ListenAndServe(ctx, port)
}
