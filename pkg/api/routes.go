package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/cuemby/burrow/pkg/metrics"
	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

func (s *Server) newRouter(logWriter io.Writer) *mux.Router {
	router := mux.NewRouter()
	router.Use(instrument)
	logged := func(fn http.HandlerFunc) http.Handler {
		return gorillaHandlers.CombinedLoggingHandler(logWriter, fn)
	}

	router.Handle("/health", logged(metrics.HealthHandler())).Methods("GET")
	router.Handle("/ready", logged(s.readyHandler)).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// The engine relay is served by the node that owns the engine, so it is
	// registered ahead of the leader-forwarding subrouter.
	engineRouter := router.PathPrefix("/v1/engine").Subrouter()
	engineRouter.Handle("/export", logged(s.engineExportHandler)).Methods("POST")
	engineRouter.Handle("/import", logged(s.engineImportHandler)).Methods("POST")
	engineRouter.Handle("/{op}", logged(s.engineHandler)).Methods("POST")

	apiRouter := router.PathPrefix("/v1").Subrouter()
	apiRouter.Use(s.rateLimit, s.forwardToLeader)

	// hosts
	apiRouter.Handle("/hosts", logged(s.listHostsHandler)).Methods("GET")
	apiRouter.Handle("/hosts/{id}", logged(s.getHostHandler)).Methods("GET")

	// settings
	apiRouter.Handle("/settings", logged(s.listSettingsHandler)).Methods("GET")
	apiRouter.Handle("/settings/{name}", logged(s.getSettingHandler)).Methods("GET")
	apiRouter.Handle("/settings/{name}", logged(s.updateSettingHandler)).Methods("PUT")

	// volumes
	apiRouter.Handle("/volumes", logged(s.listVolumesHandler)).Methods("GET")
	apiRouter.Handle("/volumes", logged(s.createVolumeHandler)).Methods("POST")
	apiRouter.Handle("/volumes/{name}", logged(s.getVolumeHandler)).Methods("GET")
	apiRouter.Handle("/volumes/{name}", logged(s.deleteVolumeHandler)).Methods("DELETE")
	apiRouter.Handle("/volumes/{name}/{action}", logged(s.volumeActionHandler)).Methods("POST")

	// backup volumes
	apiRouter.Handle("/backupvolumes", logged(s.listBackupVolumesHandler)).Methods("GET")
	apiRouter.Handle("/backupvolumes/{name}", logged(s.getBackupVolumeHandler)).Methods("GET")
	apiRouter.Handle("/backupvolumes/{name}/{action}", logged(s.backupVolumeActionHandler)).Methods("POST")

	// cluster
	apiRouter.Handle("/cluster", logged(s.clusterInfoHandler)).Methods("GET")
	apiRouter.Handle("/cluster/readindex", logged(s.readIndexHandler)).Methods("GET")
	apiRouter.Handle("/cluster/tokens", logged(s.createTokenHandler)).Methods("POST")
	apiRouter.Handle("/cluster/join", logged(s.joinHandler)).Methods("POST")

	router.NotFoundHandler = logged(notFoundHandler)
	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument counts requests per route template and status
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		method := r.Method + " " + route

		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	})
}
