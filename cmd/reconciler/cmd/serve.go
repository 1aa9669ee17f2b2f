package cmd

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"payment-reconciliation-engine/internal/api"
	"payment-reconciliation-engine/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation engine over HTTP",
	Long: `Serve exposes matching, reconciliation, suggestions, training and
evaluation as a JSON API. With the sqlite storage driver the published
events are available under /api/events.

Examples:
  reconciler serve
  reconciler serve --port 9090 --storage-driver sqlite --storage-path state.db`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "port to listen on")
	addToleranceFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	log := logger.WithComponent("server")

	eng, err := openEngine(ctx, appConfig)
	if err != nil {
		return err
	}
	defer eng.Close()

	serverConfig := appConfig.Server
	serverConfig.Version = version
	server := api.NewServer(serverConfig, eng.service, eng.events, logger.GetGlobalLogger())

	errc := make(chan error, 1)
	go func() {
		log.WithField("port", serverConfig.Port).Info("HTTP server listening")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errc
}
