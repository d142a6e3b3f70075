package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"dialogd/pkg/api"
	"dialogd/pkg/auth"
	"dialogd/pkg/banner"
	"dialogd/pkg/telemetry"
)

const shutdownGrace = 10 * time.Second

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.Print(a.cfg, a.addr, a.cfg.Storage.DBPath, verStr)
}

// setupRoutes mounts the API plus the operational endpoints. Telemetry is
// attached via router.Use so handlers observe the mux route template.
func (a *App) setupRoutes(r *mux.Router) {
	r.Use(telemetry.Middleware)

	api.Register(r, api.Deps{
		Store:       a.store,
		Gen:         a.gen,
		Tmpl:        a.tmpl,
		ContextSize: a.cfg.ContextSize(),
		MaxTokens:   a.cfg.MaxTokens(),
	})

	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs"))).Methods(http.MethodGet)
}

// readyzHandler reports readiness once the store accepts reads.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !a.store.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready"}`))
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","version":"` + ver + `"}`))
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// startHTTP builds the handler chain, starts the HTTP server in a
// goroutine and returns a channel that receives any server error.
func (a *App) startHTTP() <-chan error {
	router := mux.NewRouter()
	a.setupRoutes(router)

	secCfg := auth.SecConfig{
		AllowUnauth:    a.cfg.Security.APIKeys.AllowUnauth,
		AllowedOrigins: append([]string{}, a.cfg.Security.CORS.AllowedOrigins...),
		IPWhitelist:    append([]string{}, a.cfg.Security.IPWhitelist...),
		RPS:            a.cfg.Security.RateLimit.RPS,
		Burst:          a.cfg.Security.RateLimit.Burst,
		BackendKeys:    map[string]struct{}{},
	}
	for _, k := range a.cfg.Security.APIKeys.Backend {
		secCfg.BackendKeys[k] = struct{}{}
	}

	var handler http.Handler = auth.Middleware(secCfg)(router)
	if limit := int64(a.cfg.Server.MaxBodyBytes); limit > 0 {
		inner := handler
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			inner.ServeHTTP(w, r)
		})
	}

	a.srv = &http.Server{Addr: a.addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		cert := a.cfg.Server.TLS.CertFile
		key := a.cfg.Server.TLS.KeyFile
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}
