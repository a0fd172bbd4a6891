package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-registry/internal/constants"
	"github.com/kozaktomas/face-registry/internal/database"
	"github.com/kozaktomas/face-registry/internal/identity"
	"github.com/kozaktomas/face-registry/internal/metrics"
	"github.com/kozaktomas/face-registry/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Registry HTTP API.

Endpoints live under /api/v1 (match, identities, photos). /health and
/metrics are served without authentication. Set WEB_API_TOKEN to require a
bearer token on the API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// saveIndexSnapshot persists the in-process HNSW index, if the backend keeps one.
func saveIndexSnapshot(index database.IdentityWriter, log *zap.Logger) {
	rebuilder, ok := index.(database.HNSWRebuilder)
	if !ok {
		return
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		log.Warn("failed to save HNSW index", zap.Error(err))
		return
	}
	log.Info("HNSW index saved", zap.Int("identities", rebuilder.HNSWCount()))
}

func runServe(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	observer := metrics.NewPrometheusObserver(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, identity.WithObserver(observer))
	if err != nil {
		return err
	}
	defer a.Close()

	webCfg := a.cfg.Web
	if port := mustGetInt(cmd, "port"); port > 0 {
		webCfg.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		webCfg.Host = host
	}

	server := web.NewServer(&webCfg, a.svc, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), a.log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		saveIndexSnapshot(a.index, a.log)

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ServerShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Error("error during shutdown", zap.Error(err))
		}
	}()

	fmt.Printf("Starting Face Registry API on http://%s:%d\n", webCfg.Host, webCfg.Port)
	if webCfg.APIToken == "" {
		fmt.Println("Warning: WEB_API_TOKEN is not set, the API is unauthenticated")
	}
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
