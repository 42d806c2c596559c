package http

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	githubcontroller "github.com/m-mizutani/drover/pkg/controller/github"
	"github.com/m-mizutani/drover/pkg/domain/interfaces"
	"github.com/m-mizutani/drover/pkg/utils/token"
)

//go:embed openapi.yaml
var openapiSpec []byte

// config holds internal HTTP server configuration
type config struct {
	addr          string
	webhookSecret string
	signer        *token.Signer
	baseURL       string
}

// Option is a functional option for Server configuration
type Option func(*config)

// WithAddr sets the server address
func WithAddr(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

// WithWebhookSecret sets the webhook secret
func WithWebhookSecret(secret string) Option {
	return func(c *config) {
		c.webhookSecret = secret
	}
}

// WithTokenSigner sets the signer used for artifact download tokens.
// Without one, downloads are unauthenticated.
func WithTokenSigner(signer *token.Signer) Option {
	return func(c *config) {
		c.signer = signer
	}
}

// WithBaseURL sets the public URL the server is reachable under, used
// to build absolute download URLs.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// Server represents the HTTP server
type Server struct {
	*http.Server
}

// NewServer creates a new HTTP server
func NewServer(
	ctx context.Context,
	processor *githubcontroller.EventProcessor,
	runUC interfaces.RunUseCase,
	opts ...Option,
) (*Server, error) {
	// Default configuration
	cfg := &config{
		addr: "localhost:8080",
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	// The embedded API document must stay valid
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load OpenAPI document")
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, goerr.Wrap(err, "invalid OpenAPI document")
	}

	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggingMiddleware(ctx))
	router.Use(middleware.Recoverer)

	// Health check
	router.Get("/health", handleHealth)

	// API document
	router.Get("/openapi.yaml", handleOpenAPI)

	// Webhook endpoint
	webhookHandler := NewWebhookHandler(cfg.webhookSecret, processor)
	router.Post("/hooks/github/app", webhookHandler.Handle)

	// Run and artifact API
	apiHandler := NewAPIHandler(runUC, cfg.signer, cfg.baseURL)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", apiHandler.ListRuns)
		r.Get("/runs/{runID}", apiHandler.GetRun)
		r.Get("/runs/{runID}/artifacts", apiHandler.ListArtifacts)
		r.Get("/artifacts/{artifactID}", apiHandler.DownloadArtifact)
	})

	server := &Server{
		Server: &http.Server{
			Addr:              cfg.addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
		},
	}

	return server, nil
}

// handleOpenAPI serves the embedded API document
func handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapiSpec)
}
