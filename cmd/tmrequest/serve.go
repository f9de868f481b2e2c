package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernandezvara/tmrequest"
)

const shutdownTimeout = 10 * time.Second

// newHandler builds the HTTP routes. The user id is taken from the header
// named by cfg.UserHeader, set by an authenticating proxy in front of us.
func newHandler(a *app) http.Handler {
	mw := tmrequest.NewMiddleware(a.reconciler,
		tmrequest.WithUserIDExtractor(func(r *http.Request) string {
			return r.Header.Get(a.cfg.UserHeader)
		}),
	)

	mux := http.NewServeMux()
	mux.Handle("POST /training-manager/request", mw.InjectAuditContext()(mw.HandleRequest()))
	mux.Handle("GET /training-manager", mw.RequireTrainingManager()(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if !a.store.IsHealthy(r.Context()) {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	return mux
}

func newServeCommand() *Command {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	return &Command{
		Name:        "serve",
		Description: "Serve the request endpoint, health and metrics over HTTP",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return runWithApp(*configPath, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           newHandler(a),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", slog.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
