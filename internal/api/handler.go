// Package api is the BookFlow REST API.
package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookflow/internal/auth"
	"bookflow/internal/logging"
	"bookflow/library"
)

// Options configures a Handler.
type Options struct {
	Auth        auth.Config
	Logger      *logging.Logger
	Metrics     *Metrics
	CORSOrigins []string
}

// Handler serves the REST API over a LibraryManager.
type Handler struct {
	lib         *library.LibraryManager
	auth        auth.Config
	log         *logging.Logger
	metrics     *Metrics
	corsOrigins []string
}

// NewHandler wires the API. Nil logger and metrics get defaults.
func NewHandler(lib *library.LibraryManager, opts Options) *Handler {
	h := &Handler{
		lib:         lib,
		auth:        opts.Auth,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		corsOrigins: opts.CORSOrigins,
	}
	if h.log == nil {
		h.log = logging.Default("api")
	}
	if h.metrics == nil {
		h.metrics = NewMetrics("bookflow")
	}
	return h
}

// Router returns the configured HTTP routes.
//
//	GET    /health
//	GET    /metrics
//	POST   /api/login
//	POST   /api/register
//	POST   /api/logout
//	GET    /api/me
//	GET    /api/users                (admin)
//	GET    /api/books[?status=]
//	POST   /api/books                (admin)
//	GET    /api/books/{id}
//	PUT    /api/books/{id}           (admin)
//	DELETE /api/books/{id}           (admin)
//	GET    /api/loans[?status=&from=&to=]
//	POST   /api/loans
//	GET    /api/loans/{id}
//	PUT    /api/loans/{id}/return
//	GET    /api/stats
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", h.metrics.Handler())

	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("POST /api/register", h.Register)
	mux.HandleFunc("POST /api/logout", h.Logout)
	mux.HandleFunc("GET /api/me", h.Me)
	mux.HandleFunc("GET /api/users", auth.AdminOnly(h.ListUsers))

	mux.HandleFunc("GET /api/books", h.ListBooks)
	mux.HandleFunc("POST /api/books", auth.AdminOnly(h.CreateBook))
	mux.HandleFunc("GET /api/books/{id}", h.GetBook)
	mux.HandleFunc("PUT /api/books/{id}", auth.AdminOnly(h.UpdateBook))
	mux.HandleFunc("DELETE /api/books/{id}", auth.AdminOnly(h.DeleteBook))

	mux.HandleFunc("GET /api/loans", h.ListLoans)
	mux.HandleFunc("POST /api/loans", h.CreateLoan)
	mux.HandleFunc("GET /api/loans/{id}", h.GetLoan)
	mux.HandleFunc("PUT /api/loans/{id}/return", h.ReturnLoan)

	mux.HandleFunc("GET /api/stats", h.Stats)

	var handler http.Handler = mux
	handler = auth.Middleware(h.auth, h.log)(handler)
	handler = h.metrics.Middleware(handler)
	handler = h.corsMiddleware(handler)
	handler = h.requestLogMiddleware(handler)
	return handler
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	allowAll := len(h.corsOrigins) == 0
	allowed := make(map[string]bool, len(h.corsOrigins))
	for _, o := range h.corsOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogMiddleware tags the request with an id and logs it on completion.
func (h *Handler) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), logging.RequestIDKey, reqID)

		wrapped := wrapWriter(w)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		h.log.WithContext(ctx).HTTPRequestLog(r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), clientIP(r))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
