package router

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	handlers "mssqlpipe/handler"
)

type Route struct {
	Path    string
	Methods []string
	Handler func(w http.ResponseWriter, r *http.Request) error
}

func WithErrorHandle(hndl func(w http.ResponseWriter, r *http.Request) error,
) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		err := hndl(w, r)
		if err != nil {
			w.WriteHeader(500)
			w.Write([]byte(err.Error()))
		}
	}
}

func routes(h *handlers.Handler) []*Route {
	return []*Route{
		{Path: "/query", Methods: []string{"POST", "GET"}, Handler: h.Query},
		{Path: "/sessions", Methods: []string{"POST"}, Handler: h.StartSession},
		{Path: "/sessions", Methods: []string{"GET"}, Handler: h.ListSessions},
		{Path: "/sessions/{id}", Methods: []string{"GET"}, Handler: h.GetSession},
		{Path: "/sessions/{id}/results", Methods: []string{"GET"}, Handler: h.GetSessionResults},
		{Path: "/sessions/{id}", Methods: []string{"DELETE"}, Handler: h.StopSession},
		{Path: "/databases", Methods: []string{"GET"}, Handler: h.ListDatabases},
		{Path: "/tables", Methods: []string{"GET"}, Handler: h.ListTables},
		{Path: "/tables/{table}/schema", Methods: []string{"GET"}, Handler: h.TableSchema},
	}
}

func NewRouter(h *handlers.Handler, log *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(accessLog(log))
	for _, r := range routes(h) {
		router.HandleFunc(r.Path, WithErrorHandle(r.Handler)).Methods(r.Methods...)
	}
	return router
}

// accessLog tags every request with an id and logs it on completion.
func accessLog(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New().String()
			w.Header().Set("X-Request-Id", requestID)
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
