package cmd

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conciliation-service/internal/api"
	"conciliation-service/pkg/errors"
	"conciliation-service/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve exposes the reconciliation operations over HTTP until it receives
SIGINT or SIGTERM, then drains in-flight requests.

Examples:
  conciliator serve --addr :8080
  CONCILIATOR_DATABASE_DRIVER=postgres CONCILIATOR_DATABASE_DSN=postgres://... conciliator serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.config.Log.Level != logger.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              rt.config.Server.Addr,
		Handler:           api.NewRouter(api.NewHandler(rt.service, rt.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log := rt.logger.WithFields(logger.Fields{
		"addr":   srv.Addr,
		"driver": rt.config.Database.Driver,
	})
	log.Info("HTTP server started")

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.InternalError(errors.CodeUnexpectedError, "serve", err).
				WithSuggestion("check that the listen address is free")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	log.Info("HTTP server stopped")
	return nil
}
