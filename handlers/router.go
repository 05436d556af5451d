// Package handlers exposes the backend store over HTTP: REST endpoints for
// rows, a websocket endpoint for change events, health and metrics.
package handlers

import (
	"net/http"

	"crisisfeed/gateway"
	"crisisfeed/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Options struct {
	// APIKeyHash enables key checks on the REST and realtime routes.
	APIKeyHash string
	RateRPS    float64
	RateBurst  int
	// Registry receives the HTTP and realtime metrics and is served at
	// /metrics. Nil uses a fresh registry.
	Registry *prometheus.Registry
}

type API struct {
	store   *gateway.Local
	hub     *realtime.Hub
	log     *zap.Logger
	metrics *httpMetrics
}

// NewRouter wires every route onto a ServeMux. The hub must already be
// created with the same registry if its metrics should be served.
func NewRouter(store *gateway.Local, hub *realtime.Hub, log *zap.Logger, opts Options) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &API{
		store:   store,
		hub:     hub,
		log:     log,
		metrics: newHTTPMetrics(reg),
	}

	var verifier *KeyVerifier
	if opts.APIKeyHash != "" {
		verifier = NewKeyVerifier(opts.APIKeyHash)
	}
	guard := func(route string, h http.HandlerFunc) http.Handler {
		return RequireKey(verifier, a.metrics.wrap(route, log, h))
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+gateway.RESTPath, guard("list_posts", a.ShowPosts))
	mux.Handle("POST "+gateway.RESTPath, guard("create_post", a.PostSubmit))
	mux.Handle("PATCH "+gateway.RESTPath+"/{id}/likes", guard("update_likes", a.LikesUpdate))
	mux.Handle("PATCH "+gateway.RESTPath+"/{id}/comments", guard("update_comments", a.CommentsUpdate))
	mux.Handle("DELETE "+gateway.RESTPath+"/{id}", guard("delete_post", a.PostDelete))
	mux.Handle("GET "+gateway.RealtimePath, guard("realtime", a.Realtime))
	mux.HandleFunc("GET /healthz", a.Health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return LimitWrites(opts.RateRPS, opts.RateBurst, mux)
}

// Realtime upgrades to the websocket change channel.
func (a *API) Realtime(w http.ResponseWriter, r *http.Request) {
	a.hub.ServeWS(w, r)
}

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"realtime_clients": a.hub.Clients(),
	})
}
