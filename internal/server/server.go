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
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"parcelfetch/internal/app"
	"parcelfetch/internal/domain"
	"parcelfetch/internal/engine"
	"parcelfetch/internal/extract"
	"parcelfetch/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Runtime  *app.Runtime
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"validation: instruction names no TMS number"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the {error:{code,message,details}} envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the parcelfetch API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("server: runtime is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema failures are the caller's fault, not a rejected instruction
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("parcelfetch API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	rt := cfg.Runtime
	registerDocs(router, basePath)
	registerHealth(group)
	registerParse(group, rt)
	registerRuns(group, rt)
	registerProperties(group, rt)
	registerOpenAPI(router, api, basePath, cfg.Auth.JWTSecret != "")

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) *apiError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"reason": ve.Reason})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var (
		once sync.Once
		spec []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			if secured {
				applyAuthSecurity(oas, basePath)
			}
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>parcelfetch API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
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

func registerParse(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "parse",
		Method:      http.MethodPost,
		Path:        "/parse",
		Summary:     "Compile an instruction into a workflow plan",
	}, func(ctx context.Context, input *struct {
		Body ParseRequest
	}) (*struct {
		Body ParseResponse `json:"body"`
	}, error) {
		plan, err := rt.Compiler.CompileText(ctx, input.Body.Instruction)
		if err != nil {
			return nil, handleError(err)
		}
		steps, skipped := engine.Expand(rt.Config, plan.Spec)
		return &struct {
			Body ParseResponse `json:"body"`
		}{Body: ParseResponse{
			Instruction: plan.Instruction,
			Entities:    plan.Entities,
			Spec:        plan.Spec,
			Steps:       plannedSteps(steps),
			Skipped:     nonNilSkipped(skipped),
		}}, nil
	})
}

func registerRuns(api huma.API, rt *app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recorded runs, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int    `query:"limit" minimum:"0" maximum:"500"`
		TMS   string `query:"tms"`
	}) (*struct {
		Body RunList `json:"body"`
	}, error) {
		r, err := rt.History(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		runs, err := r.ListRuns(ctx, input.Limit, extract.NormalizeTMS(input.TMS))
		if err != nil {
			return nil, handleError(err)
		}
		if runs == nil {
			runs = []domain.Run{}
		}
		return &struct {
			Body RunList `json:"body"`
		}{Body: RunList{Items: runs}}, nil
	})

	type runPath struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Get a run with its documents and events",
	}, func(ctx context.Context, input *runPath) (*struct {
		Body RunDetail `json:"body"`
	}, error) {
		r, err := rt.History(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		run, err := r.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(fmt.Errorf("run %s: %w", input.ID, err))
		}
		docs, err := r.DocumentsForRun(ctx, run.ID)
		if err != nil {
			return nil, handleError(err)
		}
		evts, err := r.EventsForRun(ctx, run.ID, 0)
		if err != nil {
			return nil, handleError(err)
		}
		if docs == nil {
			docs = []domain.DocumentRecord{}
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body RunDetail `json:"body"`
		}{Body: RunDetail{Run: run, Documents: docs, Events: evts}}, nil
	})
}

func registerProperties(api huma.API, rt *app.Runtime) {
	type tmsPath struct {
		TMS string `path:"tms"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "property-documents",
		Method:      http.MethodGet,
		Path:        "/properties/{tms}/documents",
		Summary:     "Latest collected documents for a TMS number",
	}, func(ctx context.Context, input *tmsPath) (*struct {
		Body PropertyDocuments `json:"body"`
	}, error) {
		tms := extract.NormalizeTMS(input.TMS)
		if !extract.LooksLikeTMS(tms) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid tms %q", input.TMS), nil)
		}
		r, err := rt.History(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		docs, err := r.DocumentsByTMS(ctx, tms)
		if err != nil {
			return nil, handleError(err)
		}
		runs, err := r.ListRuns(ctx, 20, tms)
		if err != nil {
			return nil, handleError(err)
		}
		if docs == nil {
			docs = []domain.DocumentRecord{}
		}
		if runs == nil {
			runs = []domain.Run{}
		}
		return &struct {
			Body PropertyDocuments `json:"body"`
		}{Body: PropertyDocuments{TMS: tms, Documents: docs, Runs: runs}}, nil
	})
}
