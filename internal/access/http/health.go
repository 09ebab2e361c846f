package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/trackgate/internal/access/store"
	"github.com/aussiebroadwan/trackgate/pkg/httpx"
	"github.com/aussiebroadwan/trackgate/pkg/jwtx"
)

type healthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// LivezHandler always answers 200 while the process is serving.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, healthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// pinger is implemented by credential stores backed by a remote server.
type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler reports 503 until the database and, when it is a separate
// server, the credential store answer and signing keys are loaded.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	creds store.Credentials,
	keys *jwtx.KeyManager,
) http.HandlerFunc {
	remote, _ := creds.(pinger)

	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"database": "ok", "signer": "ok"}
		status, code := "ok", http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks["database"] = "error: " + err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}
		if remote != nil {
			checks["credentials"] = "ok"
			if err := remote.Ping(r.Context()); err != nil {
				checks["credentials"] = "error: " + err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		if !keys.IsReady() {
			checks["signer"] = "error: no keys loaded"
			status, code = "degraded", http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, healthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
