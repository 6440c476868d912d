package app

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kilnworks/kiln/internal/dag"
)

// startStatusServer serves run liveness and per-node state over HTTP for
// the duration of the run.
func (a *App) startStatusServer(addr string, graph *dag.Graph) {
	a.logger.Debug("Configuring status server.")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		a.logger.Debug("Status endpoint hit.", "remote_addr", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(graph.States()); err != nil {
			a.logger.Error("Status encoding failed", "error", err)
		}
	})

	go func() {
		a.logger.Info("🩺 Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			a.logger.Error("Status server failed", "error", err)
		}
	}()
}

// healthHandler reports process liveness.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
