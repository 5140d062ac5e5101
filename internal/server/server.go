package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pfmt/internal/engine"
	"pfmt/internal/engine/auth"
	"pfmt/internal/logging"
	"pfmt/internal/metrics"
	"pfmt/internal/repo"
	"pfmt/internal/validation"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// apiError is the flat error envelope every failure is written as.
type apiError struct {
	status        int
	Success       bool                                `json:"success"`
	Code          string                              `json:"code" example:"VALIDATION_FAILED"`
	Message       string                              `json:"message"`
	FieldErrors   map[string][]validation.FieldDetail `json:"fieldErrors,omitempty"`
	NextAllowed   *int                                `json:"nextAllowed,omitempty"`
	CurrentStep   *int                                `json:"currentStep,omitempty"`
	CorrelationID string                              `json:"correlationId,omitempty"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

type api struct {
	e   engine.Engine
	log *zap.Logger
}

// New returns an HTTP handler exposing the PFMT API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return schemaError(status, msg, errs)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return schemaError(status, msg, errs)
	}

	router := chi.NewRouter()
	router.Use(correlate)
	router.Use(observe(log, cfg.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, log))

	hcfg := huma.DefaultConfig("PFMT API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	hapi := humachi.New(router, hcfg)
	group := huma.NewGroup(hapi, basePath)

	h := api{e: cfg.Engine, log: log}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerWizard(huma.NewGroup(group, "/project-wizard"))
	h.registerWorkflow(huma.NewGroup(group, "/project-workflow"))
	h.registerProjects(group)
	h.registerVersions(group)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	if err := registerOpenAPI(router, hapi, basePath); err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	return router, nil
}

// schemaError shapes huma's own request validation failures like engine
// validation failures.
func schemaError(status int, msg string, errs []error) huma.StatusError {
	if status != http.StatusUnprocessableEntity && status != http.StatusBadRequest {
		return newAPIError(status, "", msg)
	}
	var fieldErrs []validation.FieldError
	for _, err := range errs {
		var detail *huma.ErrorDetail
		if errors.As(err, &detail) {
			fieldErrs = append(fieldErrs, schemaFieldError(detail))
		}
	}
	if len(fieldErrs) == 0 {
		return newAPIError(status, "", msg)
	}
	return &apiError{
		status:      http.StatusUnprocessableEntity,
		Code:        "VALIDATION_FAILED",
		Message:     msg,
		FieldErrors: validation.Group(fieldErrs),
	}
}

const missingPrefix = "expected required property "

func schemaFieldError(detail *huma.ErrorDetail) validation.FieldError {
	field := strings.TrimPrefix(strings.TrimPrefix(detail.Location, "body."), "body")
	code := validation.CodeInvalidType
	if rest, found := strings.CutPrefix(detail.Message, missingPrefix); found {
		code = validation.CodeRequired
		if prop, _, ok := strings.Cut(rest, " "); ok && prop != "" {
			if field == "" {
				field = prop
			} else {
				field += "." + prop
			}
		}
	}
	if field == "" {
		field = "body"
	}
	return validation.FieldError{Field: field, Message: detail.Message, Code: code}
}

func newAPIError(status int, code, message string) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Code: code, Message: message}
}

// fail maps engine errors onto the HTTP envelope. Anything unrecognised is
// an infrastructure fault: it is logged and its detail withheld.
func (h api) fail(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		return &apiError{
			status:      http.StatusUnprocessableEntity,
			Code:        "VALIDATION_FAILED",
			Message:     "validation failed",
			FieldErrors: validation.Group(ve.Errors),
		}
	}
	var ce *engine.ConflictError
	if errors.As(err, &ce) {
		return &apiError{status: http.StatusConflict, Code: ce.Code, Message: ce.Message, NextAllowed: ce.NextAllowed, CurrentStep: ce.CurrentStep}
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "", fe.Error())
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "", "resource not found")
	}
	id := logging.CorrelationID(ctx)
	logging.For(ctx, h.log).Error("request failed", zap.Error(err))
	e := newAPIError(http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	e.CorrelationID = id
	return e
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_FAILED"
	case http.StatusInternalServerError:
		return "INTERNAL_ERROR"
	default:
		return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// principal returns the authenticated caller or a 401.
func principal(ctx context.Context) (auth.Principal, huma.StatusError) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return auth.Principal{}, newAPIError(http.StatusUnauthorized, "", "authentication required")
	}
	return p, nil
}

const correlationHeader = "X-Correlation-Id"

func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithCorrelationID(r.Context(), strings.TrimSpace(r.Header.Get(correlationHeader)))
		w.Header().Set(correlationHeader, logging.CorrelationID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe logs every request and feeds the request metrics.
func observe(log *zap.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			if m != nil {
				m.ObserveRequest(r.Method, route, status, elapsed)
			}
			logging.For(r.Context(), log).Info("request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("elapsed", elapsed),
			)
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI serves the document as it stands once every operation is
// registered; it is rendered here, not per request.
func registerOpenAPI(r chi.Router, a huma.API, basePath string) error {
	oas := a.OpenAPI()
	applyAuthSecurity(oas, basePath)
	doc, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
	return nil
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>PFMT API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(a huma.API) {
	huma.Register(a, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}
