// Package httpapi exposes the serving core over HTTP with JSON bodies.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferd/internal/errdefs"
	"inferd/internal/manager"
	"inferd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Status() types.StatusResponse
	ModelStatus(name string) ([]types.ModelStatus, error)
	Ready() bool
	Infer(ctx context.Context, name string, version int64, req *types.InferRequest) (*types.InferResponse, error)
	Reload(ctx context.Context, name string, version int64, opts manager.ReloadOptions) error
	Unload(ctx context.Context, name string, version int64) error
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := handlers{svc: svc}
	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: svc.ListModels()})
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Route("/v1/models/{name}", func(r chi.Router) {
		r.Get("/", h.modelStatus)
		r.Post("/infer", h.infer)
		r.Post("/reload", h.reload)
		r.Post("/unload", h.unload)
		r.Route("/versions/{version}", func(r chi.Router) {
			r.Get("/", h.modelStatus)
			r.Post("/infer", h.infer)
			r.Post("/reload", h.reload)
			r.Post("/unload", h.unload)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

type handlers struct {
	svc Service
}

// target reads the model name and optional version from the route. Version
// 0 means "not specified".
func target(r *http.Request) (string, int64, error) {
	name := chi.URLParam(r, "name")
	raw := chi.URLParam(r, "version")
	if raw == "" {
		return name, 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return name, 0, fmt.Errorf("%w: version %q", errdefs.ErrInvalidConfig, raw)
	}
	return name, v, nil
}

// decodeJSON reads a JSON body. An empty body leaves v untouched when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) (int, error) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return http.StatusUnsupportedMediaType, errors.New("Content-Type must be application/json")
	}
	if ct == "" && !optional {
		return http.StatusUnsupportedMediaType, errors.New("Content-Type must be application/json")
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return 0, nil
	case errors.Is(err, io.EOF) && optional:
		return 0, nil
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
	default:
		return http.StatusBadRequest, errors.New("invalid JSON body")
	}
}

func (h handlers) infer(w http.ResponseWriter, r *http.Request) {
	name, version, err := target(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req types.InferRequest
	if status, err := decodeJSON(w, r, &req, false); err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	lg := newRequestLog(r, "infer", name, version)
	shapes := make(map[string][]int64, len(req.Inputs))
	for k, in := range req.Inputs {
		shapes[k] = in.Shape
	}
	lg.begin(shapes)

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := requestContext(r)
	defer cancel()
	resp, err := h.svc.Infer(ctx, name, version, &req)
	if err != nil {
		// If the client went away there is nobody to answer.
		if r.Context().Err() != nil {
			lg.end(499, err)
			return
		}
		lg.end(writeError(w, err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	lg.end(http.StatusOK, nil)
}

func (h handlers) reload(w http.ResponseWriter, r *http.Request) {
	name, version, err := target(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req types.ReloadRequest
	if status, err := decodeJSON(w, r, &req, true); err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	lg := newRequestLog(r, "reload", name, version)
	lg.begin(nil)
	opts := manager.ReloadOptions{BatchSize: req.BatchSize, Shapes: req.Shapes, Nireq: req.Nireq}
	// Reloads and unloads outlive the client connection.
	if err := h.svc.Reload(serverBaseCtx, name, version, opts); err != nil {
		lg.end(writeError(w, err), err)
		return
	}
	h.writeStatus(w, name, version)
	lg.end(http.StatusOK, nil)
}

func (h handlers) unload(w http.ResponseWriter, r *http.Request) {
	name, version, err := target(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lg := newRequestLog(r, "unload", name, version)
	lg.begin(nil)
	if err := h.svc.Unload(serverBaseCtx, name, version); err != nil {
		lg.end(writeError(w, err), err)
		return
	}
	h.writeStatus(w, name, version)
	lg.end(http.StatusOK, nil)
}

func (h handlers) modelStatus(w http.ResponseWriter, r *http.Request) {
	name, version, err := target(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeStatus(w, name, version)
}

func (h handlers) writeStatus(w http.ResponseWriter, name string, version int64) {
	all, err := h.svc.ModelStatus(name)
	if err != nil {
		writeError(w, err)
		return
	}
	if version == 0 {
		writeJSON(w, http.StatusOK, all)
		return
	}
	for _, st := range all {
		if st.Version == version {
			writeJSON(w, http.StatusOK, []types.ModelStatus{st})
			return
		}
	}
	writeError(w, manager.ErrModelNotFound(fmt.Sprintf("%s/%d", name, version)))
}
