package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vaultsearch/internal/api"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the semantic search HTTP API",
	Long: `Load the vault, then serve /semantic_search and /refresh.

The API answers 503 until the initial embedding pass has finished.

Examples:
  vaultsearch serve
  vaultsearch serve --addr 0.0.0.0:3333 --watch`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Watch the vault and refresh changed notes (overrides vault.watch)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if cmd.Flags().Changed("watch") {
		cfg.Vault.Watch = serveWatch
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	rebuild := func() {
		go func() {
			if err := a.indexer.Rebuild(ctx, a.reader); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("manual rebuild failed", zap.Error(err))
			}
		}()
	}
	gin.SetMode(gin.ReleaseMode)
	h := api.NewHandler(a.indexer, a.searcher, a.store.Size, rebuild, log)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(h, api.RouterConfig{AllowedOrigins: cfg.Server.AllowedOrigins, Gatherer: a.registry, Logger: log}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	go func() {
		if err := a.loadWithRetry(ctx); err != nil {
			return
		}
		if cfg.Vault.Watch && a.indexer.Status().Serving() {
			a.watch(ctx)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
