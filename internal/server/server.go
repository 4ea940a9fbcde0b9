package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stagegate/internal/app"
	"stagegate/internal/domain"
	"stagegate/internal/events"
	"stagegate/internal/observability"
	"stagegate/internal/registry"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid workflow transition approved -> rejected (id req-1)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"approved\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the stagegate API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.App.Log
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog(cfg.App.Log.With("component", "http")))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", promhttp.Handler())

	hcfg := huma.DefaultConfig("stagegate API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.App)
	registerRouting(group, cfg.App)
	registerEntities(group, cfg.App)
	registerWorkflows(group, cfg.App)
	registerDocuments(group, cfg.App)
	registerEvents(group, cfg.App)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func accessLog(log observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, domain.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var it *domain.InvalidTransitionError
	if errors.As(err, &it) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"entity": it.Entity, "id": it.ID, "from": it.From, "to": it.To,
		})
	}
	var cm *domain.CategoryMismatchError
	if errors.As(err, &cm) {
		return newAPIError(http.StatusUnprocessableEntity, "category_mismatch", err.Error(), map[string]any{
			"entity_id": cm.EntityID, "category": cm.Category, "stage_kind": cm.StageKind,
		})
	}
	var ce *domain.ConfigurationError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusUnprocessableEntity, "configuration_error", err.Error(), map[string]any{"field": ce.Field})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "shut down"):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must not"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
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

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components != nil && oas.Components.Schemas != nil {
		// huma already names apiError "ApiError"; a different type under that name panics.
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>stagegate API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; (mint one with sg auth token).
    </p>
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

func registerMe(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		perms := append([]string(nil), principal.Permissions...)
		for _, p := range a.Config.Permissions(principal.Roles) {
			if !hasPermission(perms, p) {
				perms = append(perms, p)
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(perms),
			Source:      principal.Source,
		}}, nil
	})
}

func registerRouting(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-routing-rules",
		Method:      http.MethodGet,
		Path:        "/routing/rules",
		Summary:     "Configured routing rules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body itemsResponse[domain.RoutingRule] `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		rules := append([]domain.RoutingRule{}, a.Config.Routing.Rules...)
		return &struct {
			Body itemsResponse[domain.RoutingRule] `json:"body"`
		}{Body: itemsResponse[domain.RoutingRule]{Items: rules}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "simulate-routing",
		Method:      http.MethodPost,
		Path:        "/routing/simulate",
		Summary:     "Route a trigger through rules and fallback heuristics",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SimulateRequest `json:"body"`
	}) (*struct {
		Body domain.SimulationResult `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, a.Config, "routing.simulate"); err != nil {
			return nil, handleError(err)
		}
		if strings.TrimSpace(input.Body.TriggerEvent) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "trigger_event is required", nil)
		}
		rules := a.Config.Routing.Rules
		if input.Body.Rules != nil {
			rules = input.Body.Rules
		}
		res := a.Router.Route(ctx, rules, input.Body.TriggerActor, input.Body.TriggerEvent, input.Body.Metrics, input.Body.RuleID)
		return &struct {
			Body domain.SimulationResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEntities(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-entities",
		Method:      http.MethodGet,
		Path:        "/entities",
		Summary:     "List registered entities",
	}, func(ctx context.Context, input *struct {
		Category string `query:"category" enum:"executor,coordinator,observer,trigger_source,partner"`
	}) (*struct {
		Body itemsResponse[domain.Entity] `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		items := []domain.Entity{}
		for _, e := range a.Registry.List() {
			if input.Category == "" || string(e.Category) == input.Category {
				items = append(items, e)
			}
		}
		return &struct {
			Body itemsResponse[domain.Entity] `json:"body"`
		}{Body: itemsResponse[domain.Entity]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-entity-active",
		Method:      http.MethodPatch,
		Path:        "/entities/{id}/active",
		Summary:     "Activate or deactivate an entity",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetActiveRequest `json:"body"`
	}) (*struct {
		Body domain.Entity `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, a.Config, "entity.write")
		if err != nil {
			return nil, handleError(err)
		}
		entity, err := a.Registry.SetActive(input.ID, input.Body.Active)
		if err != nil {
			return nil, handleError(err)
		}
		evt := "entity.deactivated"
		if entity.IsActive {
			evt = "entity.activated"
		}
		if err := a.Events.Record(ctx, evt, "entity", entity.ID, principal.ActorID, nil); err != nil {
			a.Log.Warn("record event failed", "type", evt, "entity_id", entity.ID, "error", err)
		}
		return &struct {
			Body domain.Entity `json:"body"`
		}{Body: entity}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-workflow",
		Method:      http.MethodPost,
		Path:        "/entities/validate-workflow",
		Summary:     "Check stage bindings against the registry",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ValidateWorkflowRequest `json:"body"`
	}) (*struct {
		Body domain.ValidationReport `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		report := registry.ValidateWorkflow(input.Body.Stages, a.Registry.List())
		return &struct {
			Body domain.ValidationReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-entity",
		Method:      http.MethodPost,
		Path:        "/entities/suggest",
		Summary:     "Rank entities for a stage kind",
		Errors:      []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body SuggestRequest `json:"body"`
	}) (*struct {
		Body SuggestResponse `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		kind, err := domain.ParseStageKind(input.Body.StageKind)
		if err != nil {
			return nil, handleError(err)
		}
		entities := a.Registry.List()
		resp := SuggestResponse{Candidates: registry.RankEntities(kind, entities, input.Body.Capabilities)}
		if resp.Candidates == nil {
			resp.Candidates = []registry.Candidate{}
		}
		if best, ok := registry.SuggestOptimalEntity(kind, entities, input.Body.Capabilities); ok {
			resp.Suggested = &best
		}
		return &struct {
			Body SuggestResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerWorkflows(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Submit a request into the approval pipeline",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitRequest `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, a.Config, "workflow.submit")
		if err != nil {
			return nil, handleError(err)
		}
		wf, err := a.Pipeline.Initiate(ctx, input.Body.toDomain(), principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,bob_review,ada_evaluation,max_prompt,ceo_approval,approved,rejected"`
	}) (*struct {
		Body itemsResponse[domain.Workflow] `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		all, err := a.Pipeline.GetAllWorkflows(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := []domain.Workflow{}
		for _, wf := range all {
			if input.Status == "" || string(wf.Request.Status) == input.Status {
				items = append(items, wf)
			}
		}
		return &struct {
			Body itemsResponse[domain.Workflow] `json:"body"`
		}{Body: itemsResponse[domain.Workflow]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		wf, err := a.Pipeline.GetWorkflow(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-workflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{id}/approval",
		Summary:     "Record the executive gate decision",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ApprovalRequest `json:"body"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, a.Config, "workflow.approve")
		if err != nil {
			return nil, handleError(err)
		}
		wf, err := a.Pipeline.Approve(ctx, input.ID, input.Body.Approved, input.Body.Notes, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: wf}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pending-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals/pending",
		Summary:     "Requests awaiting the executive gate",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body itemsResponse[domain.Request] `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		items, err := a.Pipeline.GetPendingApprovals(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body itemsResponse[domain.Request] `json:"body"`
		}{Body: itemsResponse[domain.Request]{Items: items}}, nil
	})
}

func registerDocuments(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Register a generated document",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body RegisterDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, a.Config, "document.write"); err != nil {
			return nil, handleError(err)
		}
		doc, err := a.Documents.Register(ctx, documentsRegisterParams(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "Document queue, most recent first",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"pending,signed,rejected,acknowledged,agent_notified"`
		Department string `query:"department"`
	}) (*struct {
		Body itemsResponse[domain.Document] `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		var (
			docs []domain.Document
			err  error
		)
		switch {
		case input.Status != "":
			docs, err = a.Documents.GetByStatus(ctx, domain.DocumentStatus(input.Status))
		case input.Department != "":
			docs, err = a.Documents.GetByDepartment(ctx, input.Department)
		default:
			docs, err = a.Documents.GetQueue(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		items := []domain.Document{}
		for _, d := range docs {
			if input.Department == "" || strings.EqualFold(d.Department, input.Department) {
				items = append(items, d)
			}
		}
		return &struct {
			Body itemsResponse[domain.Document] `json:"body"`
		}{Body: itemsResponse[domain.Document]{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-document-status",
		Method:      http.MethodPatch,
		Path:        "/documents/{id}/status",
		Summary:     "Sign, reject or otherwise move a document",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body DocumentStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, a.Config, "document.write"); err != nil {
			return nil, handleError(err)
		}
		doc, err := a.Documents.UpdateStatus(ctx, input.ID, domain.DocumentStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-document",
		Method:      http.MethodPost,
		Path:        "/documents/{id}/acknowledge",
		Summary:     "Record the generating actor's acknowledgment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, a.Config, "document.write"); err != nil {
			return nil, handleError(err)
		}
		doc, err := a.Documents.MarkAcknowledged(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: doc}, nil
	})
}

func registerEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"workflow,document,entity"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := principalFromRequest(ctx); err != nil {
			return nil, err
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := a.Events.Latest(ctx, events.Filter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
