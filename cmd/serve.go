package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/atlas-cli/internal/frame"
	"github.com/sells-group/atlas-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve fused neighborhood boundaries over HTTP",
	Long: `Starts a read-only HTTP server over the GeoJSON export directory.

GET /health             liveness check
GET /api/neighborhoods  newest export; ?geography=tract picks a granularity`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		port := cfg.Server.Port
		if servePort != 0 {
			port = servePort
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildMux(cfg.Data.GeoJSONDir),
		}

		// On SIGINT/SIGTERM, drain in-flight requests on a fresh context;
		// ctx itself is already cancelled by then.
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			drain, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(drain); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("geojson_dir", cfg.Data.GeoJSONDir))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildMux wires the read-only routes. Split from the command so tests can
// exercise the handlers without binding a port. Exports are re-resolved per
// request, so a fuse run that lands a newer file is picked up immediately.
func buildMux(geojsonDir string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/neighborhoods", func(w http.ResponseWriter, r *http.Request) {
		identifier := "neighborhoods"
		if g := r.URL.Query().Get("geography"); g != "" {
			geography, err := model.ParseGeography(g)
			if err != nil {
				http.Error(w, `{"error":"unknown geography"}`, http.StatusBadRequest)
				return
			}
			identifier = string(geography) + "_neighborhoods"
		}

		path, err := frame.RecentFile(geojsonDir, identifier, ".geojson")
		if err != nil {
			http.Error(w, `{"error":"no geojson export found"}`, http.StatusNotFound)
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			http.Error(w, `{"error":"read export failed"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/geo+json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	return mux
}
