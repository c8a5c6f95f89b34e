package api

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/returnfeed/internal/api/models"
	"github.com/smazurov/returnfeed/internal/discovery"
	"github.com/smazurov/returnfeed/internal/display"
	"github.com/smazurov/returnfeed/internal/events"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/smazurov/returnfeed/internal/logging"
	"github.com/smazurov/returnfeed/internal/pipeline"
	"github.com/smazurov/returnfeed/internal/version"
)

const authRealm = `Basic realm="returnfeed"`

// Controller is the part of the pipeline the API drives.
type Controller interface {
	Connect(ctx context.Context, src frame.SourceHandle, q frame.Quality) error
	Disconnect(ctx context.Context) error
	Status() pipeline.Status
}

// SnapshotSource encodes the latest presented frame.
type SnapshotSource interface {
	JPEG() ([]byte, display.Info, error)
}

// Server is the huma API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	pipeline   Controller
	directory  discovery.Directory
	snapshot   SnapshotSource
	eventBus   *events.Bus
	logger     *slog.Logger
}

// Options wires the server to the rest of the application.
type Options struct {
	AuthUsername      string
	AuthPassword      string
	Pipeline          Controller
	Directory         discovery.Directory
	Snapshot          SnapshotSource
	EventBus          *events.Bus
	PrometheusHandler http.Handler // optional
}

// basicAuthMiddleware enforces HTTP basic auth on operations that declare
// a security requirement. SSE clients may pass base64 credentials in ?auth=.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		deny := func(msg string, errs ...error) {
			ctx.SetHeader("WWW-Authenticate", authRealm)
			huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
		}

		var encoded string
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				deny("Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		} else {
			encoded = ctx.Query("auth")
		}
		if encoded == "" {
			deny("Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			deny("Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			deny("Invalid credentials format")
			return
		}
		if user != username || pass != password {
			deny("Invalid credentials")
			return
		}
		next(ctx)
	}
}

// NewServer creates the API on a fresh ServeMux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("returnfeed API", version.Get().Version)
	config.Info.Description = "Return-feed monitor: source selection, pipeline status and frame snapshots"
	config.Servers = []*huma.Server{}

	server := newServer(humago.New(mux, withSecurity(config)), mux, opts)
	server.api.UseMiddleware(NewCORSMiddleware(corsConfig))
	server.api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		server.api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	// Outside huma so scrapers need no auth.
	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

func withSecurity(config huma.Config) huma.Config {
	if config.Components == nil {
		config.Components = &huma.Components{}
	}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}
	return config
}

func newServer(api huma.API, mux *http.ServeMux, opts *Options) *Server {
	return &Server{
		api:       api,
		mux:       mux,
		options:   opts,
		pipeline:  opts.Pipeline,
		directory: opts.Directory,
		snapshot:  opts.Snapshot,
		eventBus:  opts.EventBus,
		logger:    logging.GetLogger("api"),
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and any open connections, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerPipelineRoutes()
	if s.eventBus != nil {
		s.registerSSERoutes()
		s.registerMetricsRoutes()
	}
	s.registerLogRoutes()
}

func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
