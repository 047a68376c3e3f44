package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var log = logging.Logger("metrics")

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Handler returns the router serving /metrics and /healthz.
func (m *Metrics) Handler(checks map[string]Check) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(checks)).Methods(http.MethodGet)
	return r
}

func healthHandler(checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	}
}

// Serve serves Handler on addr until ctx is done. An empty addr disables
// the listener and returns immediately.
func (m *Metrics) Serve(ctx context.Context, addr string, checks map[string]Check) error {
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(checks),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("metrics server shutdown: %s", err.Error())
		}
	}()

	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
