// Package api exposes the HTTP surface of the chat backend: the AG-UI
// streaming endpoint, the simplified chat stream, the tool catalog, and
// client tool registration, behind the shared middleware chain.
package api

import (
	"errors"
	"net/http"

	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/run"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator *run.Orchestrator     // Required: drives /api/agent
	Generator    run.Generator         // Required: drives /api/chat/stream
	Registry     *tools.Registry       // Required: server tool catalog
	Catalogs     *tools.ClientCatalogs // Required: client tool registrations
	CORSOrigins  []string              // Allowed origins for CORS ("*" allows any)
	TrustProxy   bool                  // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst    int                   // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON/SSE API HTTP server.
type Server struct {
	mux http.Handler
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if cfg.Catalogs == nil {
		return nil, errors.New("client catalogs are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ah := &agentHandler{orchestrator: cfg.Orchestrator, logger: logger}
	ch := &chatHandler{
		registry:  cfg.Registry,
		catalogs:  cfg.Catalogs,
		generator: cfg.Generator,
		logger:    logger,
	}
	th := &toolsHandler{registry: cfg.Registry, catalogs: cfg.Catalogs, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", health(logger))
	mux.HandleFunc("GET /api/tools", th.list)
	mux.HandleFunc("POST /api/client/register", th.register)
	mux.HandleFunc("POST /api/agent", ah.runAgent)
	mux.HandleFunc("POST /api/chat/stream", ch.stream)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{mux: handler}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
