// Package api exposes the manager, credential store and assistant over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/instantiate/internal/assistant"
	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/daemon"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/telemetry"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// Manager is the multi-cloud surface the handlers call.
type Manager interface {
	Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error)
	AllResources(ctx context.Context, forceRefresh bool) ([]resource.Resource, error)
	ProviderStatuses(ctx context.Context) []resource.ProviderStatus
	DeploymentStats(ctx context.Context) (resource.DeploymentStats, error)
	ResourceStatus(ctx context.Context, providerName, id, typ string) (string, error)
	DeleteResource(ctx context.Context, providerName, id, typ string) error
	Providers() []string
}

// CredentialStore is the write side of the credential store.
type CredentialStore interface {
	Set(p provider.Kind, c credentials.Credentials) error
	Remove(p provider.Kind) error
	Providers() []provider.Kind
}

// Assistant answers chat messages.
type Assistant interface {
	Chat(ctx context.Context, message string) (*assistant.Reply, error)
}

// Warmer reports the background cache warmer's health.
type Warmer interface {
	Health() daemon.HealthStatus
}

// Server holds shared state for all API handlers.
type Server struct {
	Manager     Manager
	Credentials CredentialStore
	Assistant   Assistant    // nil disables the chat endpoint
	Warmer      Warmer       // nil when the warmer is not running
	Metrics     http.Handler // served on /metrics when set

	logger *telemetry.Logger
}

const maxBodyBytes = 10 << 20

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	if s.logger == nil {
		s.logger = telemetry.NewLogger("api")
	}

	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(tracing)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.Healthz)
	r.Get("/readyz", s.Readyz)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/multi-cloud", func(r chi.Router) {
			r.Post("/deploy", s.Deploy)
			r.Get("/resources", s.ListResources)
			r.Get("/status", s.ProviderStatuses)
			r.Get("/stats", s.Stats)
			r.Get("/providers", s.ListProviders)
			r.Get("/health", s.WarmerHealth)
			// Ids run to the end of the path: ARM ids and ECS task ARNs contain "/".
			r.Get("/resources/{provider}/{type}/*", s.ResourceStatus)
			r.Delete("/resources/{provider}/{type}/*", s.DeleteResource)
		})

		r.Get("/credentials", s.ListCredentials)
		r.Put("/credentials/{provider}", s.PutCredentials)
		r.Delete("/credentials/{provider}", s.DeleteCredentials)

		r.Post("/assistant/chat", s.Chat)
	})

	return r
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestID keeps an incoming X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// tracing starts a server span per request, continuing any incoming trace
// context. The span is renamed to the matched route once chi has routed.
func tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer(telemetry.Scope+"/api").Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.request.method", r.Method)),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			span.SetName(r.Method + " " + rc.RoutePattern())
		}
		span.SetAttributes(attribute.Int("http.response.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.WithContext(r.Context()).Debug().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
