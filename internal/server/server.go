package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"gatherline/internal/domain"
	"gatherline/internal/engine"
	"gatherline/internal/lifecycle"
	"gatherline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"event_locked"`
	Message string         `json:"message" example:"event is FROZEN; deleteItem is not allowed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"unassigned\":2}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Gatherline API.
func New(cfg Config) (http.Handler, error) {
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Gatherline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerEvents(group, cfg.Engine)
	registerTeams(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerPeople(group, cfg.Engine)
	registerConflicts(group, cfg.Engine)
	registerAuditLog(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var te lifecycle.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	var me lifecycle.MutationError
	if errors.As(err, &me) {
		return newAPIError(http.StatusConflict, "event_locked", err.Error(), map[string]any{"stage": me.Stage, "action": string(me.Action)})
	}
	var fg engine.FreezeGateError
	if errors.As(err, &fg) {
		return newAPIError(http.StatusUnprocessableEntity, "freeze_not_ready", err.Error(), map[string]any{"unassigned": fg.Unassigned, "declined": fg.Declined})
	}
	var or engine.OverrideReasonError
	if errors.As(err, &or) {
		return newAPIError(http.StatusBadRequest, "reason_required", err.Error(), nil)
	}
	var av engine.AckValidationError
	if errors.As(err, &av) {
		return newAPIError(http.StatusUnprocessableEntity, "acknowledgement_invalid", err.Error(), map[string]any{"rule": av.Rule})
	}
	var re engine.RepairError
	if errors.As(err, &re) {
		return newAPIError(http.StatusConflict, "repair_failed", err.Error(), map[string]any{"item_id": re.ItemID})
	}
	if errors.Is(err, repo.ErrStaleVersion) {
		return newAPIError(http.StatusConflict, "stale_version", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "held by a different person"):
		return newAPIError(http.StatusForbidden, "forbidden", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "cannot be empty"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

// requireRole checks the caller's membership in the event against the
// accepted roles. A link-token principal scoped to a different event is
// rejected outright.
func requireRole(ctx context.Context, e engine.Engine, eventID string, roles ...string) error {
	principal, ok := principalFromContext(ctx)
	if !ok || principal.PersonID == "" {
		return errors.New("authentication required")
	}
	if principal.EventID != "" && principal.EventID != eventID {
		return forbiddenError{Role: strings.Join(roles, ",")}
	}
	m, err := e.Repo.GetMembership(ctx, eventID, principal.PersonID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return forbiddenError{Role: strings.Join(roles, ",")}
		}
		return err
	}
	for _, role := range roles {
		if m.Role == role {
			return nil
		}
	}
	return forbiddenError{Role: strings.Join(roles, ",")}
}

type forbiddenError struct {
	Role string
}

func (e forbiddenError) Error() string {
	return fmt.Sprintf("requires role %s", e.Role)
}

func handleAuthzError(err error) huma.StatusError {
	var fe forbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	if err.Error() == "authentication required" {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	return handleError(err)
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["linkTokenAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Link-Token",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"linkTokenAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Gatherline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Link-Token.
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

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.EventCreateOptions{
			Title:      input.Body.Title,
			GuestCount: input.Body.GuestCount,
			Venue:      input.Body.Venue,
			Dietary:    input.Body.Dietary,
			Equipment:  input.Body.Equipment,
			HostID:     actorID,
			ActorID:    actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.HostID != nil {
			opts.HostID = *input.Body.HostID
		}
		if input.Body.HostName != nil {
			opts.HostName = *input.Body.HostName
		}
		ev, err := e.CreateEvent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEvents(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			res = append(res, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}",
		Summary:     "Get event",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		ev, err := e.Repo.GetEvent(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-event",
		Method:      http.MethodPatch,
		Path:        "/events/{event_id}",
		Summary:     "Update event details",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string             `path:"event_id"`
		Body    UpdateEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		ev, err := e.UpdateEventDetails(ctx, engine.EventUpdateOptions{
			EventID:    input.EventID,
			Title:      input.Body.Title,
			GuestCount: input.Body.GuestCount,
			Venue:      input.Body.Venue,
			Dietary:    input.Body.Dietary,
			Equipment:  input.Body.Equipment,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-event",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/transition",
		Summary:     "Transition event status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		Body    TransitionRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST"); err != nil {
			return nil, handleAuthzError(err)
		}
		ev, err := e.TransitionStatus(ctx, input.EventID, input.Body.Status, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "event-readiness",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/readiness",
		Summary:     "Freeze readiness",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body ReadinessResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		fr, err := e.FreezeReadiness(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReadinessResponse `json:"body"`
		}{Body: ReadinessResponse(fr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event-config",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/config",
		Summary:     "Get event config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body EventConfigResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		cfg, err := e.Repo.GetEventConfig(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerTeams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		Body    CreateTeamRequest `json:"body"`
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		opts := engine.TeamCreateOptions{
			EventID:       input.EventID,
			Name:          input.Body.Name,
			CoordinatorID: input.Body.CoordinatorID,
			ActorID:       actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		t, err := e.CreateTeam(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-teams",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/teams",
		Summary:     "List teams",
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body []TeamResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListTeams(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TeamResponse, 0, len(items))
		for _, t := range items {
			res = append(res, teamResponse(t))
		}
		return &struct {
			Body []TeamResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-team",
		Method:      http.MethodPatch,
		Path:        "/events/{event_id}/teams/{id}",
		Summary:     "Update team",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		ID      string            `path:"id"`
		Body    UpdateTeamRequest `json:"body"`
	}) (*struct {
		Body TeamResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		t, err := e.UpdateTeam(ctx, engine.TeamUpdateOptions{
			TeamID:        input.ID,
			Name:          input.Body.Name,
			CoordinatorID: input.Body.CoordinatorID,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TeamResponse `json:"body"`
		}{Body: teamResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-team",
		Method:      http.MethodDelete,
		Path:        "/events/{event_id}/teams/{id}",
		Summary:     "Delete team",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		ID      string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST"); err != nil {
			return nil, handleAuthzError(err)
		}
		if err := e.DeleteTeam(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/teams/{team_id}/items",
		Summary:       "Create item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		TeamID  string            `path:"team_id"`
		Body    CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		opts := engine.ItemCreateOptions{
			TeamID:   input.TeamID,
			Name:     input.Body.Name,
			Category: input.Body.Category,
			Quantity: input.Body.Quantity,
			Critical: input.Body.Critical,
			DueAt:    input.Body.DueAt,
			ActorID:  actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		it, err := e.CreateItem(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/items",
		Summary:     "List items",
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		TeamID  string `query:"team_id"`
		Status  string `query:"status" enum:"UNASSIGNED,ASSIGNED,"`
	}) (*struct {
		Body []ItemResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListItems(ctx, repo.ItemFilters{
			EventID: input.EventID,
			TeamID:  input.TeamID,
			Status:  input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ItemResponse, 0, len(items))
		for _, it := range items {
			res = append(res, itemResponse(it))
		}
		return &struct {
			Body []ItemResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-item",
		Method:      http.MethodPatch,
		Path:        "/events/{event_id}/items/{id}",
		Summary:     "Update item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		ID      string            `path:"id"`
		Body    UpdateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		it, err := e.EditItem(ctx, engine.ItemUpdateOptions{
			ItemID:   input.ID,
			Name:     input.Body.Name,
			Category: input.Body.Category,
			Quantity: input.Body.Quantity,
			Critical: input.Body.Critical,
			DueAt:    input.Body.DueAt,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-item",
		Method:      http.MethodDelete,
		Path:        "/events/{event_id}/items/{id}",
		Summary:     "Delete item",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		ID      string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		if err := e.DeleteItem(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-item",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/items/{id}/assign",
		Summary:     "Assign item to a person",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string            `path:"event_id"`
		ID      string            `path:"id"`
		Body    AssignItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		it, err := e.AssignItem(ctx, input.ID, input.Body.PersonID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-item",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/items/{id}/unassign",
		Summary:     "Unassign item",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		it, err := e.UnassignItem(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-assignment",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/items/{id}/respond",
		Summary:     "Respond to an assignment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		EventID string         `path:"event_id"`
		ID      string         `path:"id"`
		Body    RespondRequest `json:"body"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.RespondAssignment(ctx, input.ID, actorID, input.Body.Response, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})
}

func registerPeople(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-person",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/people",
		Summary:       "Add person to event",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID string           `path:"event_id"`
		Body    AddPersonRequest `json:"body"`
	}) (*struct {
		Body MembershipResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		m, err := e.AddPerson(ctx, engine.PersonAddOptions{
			EventID:  input.EventID,
			PersonID: input.Body.PersonID,
			Name:     input.Body.Name,
			Phone:    input.Body.Phone,
			Role:     input.Body.Role,
			TeamID:   input.Body.TeamID,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MembershipResponse `json:"body"`
		}{Body: membershipResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-people",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/people",
		Summary:     "List event members",
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body []MembershipResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListMemberships(ctx, input.EventID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]MembershipResponse, 0, len(items))
		for _, m := range items {
			res = append(res, membershipResponse(m))
		}
		return &struct {
			Body []MembershipResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-person",
		Method:      http.MethodDelete,
		Path:        "/events/{event_id}/people/{person_id}",
		Summary:     "Remove person from event",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		EventID  string `path:"event_id"`
		PersonID string `path:"person_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		if err := e.RemovePerson(ctx, input.EventID, input.PersonID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerConflicts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-conflict",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/conflicts",
		Summary:       "Record conflict finding",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		EventID string                `path:"event_id"`
		Body    RecordConflictRequest `json:"body"`
	}) (*struct {
		Body ConflictResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		opts := engine.ConflictRecordOptions{
			EventID:  input.EventID,
			Type:     input.Body.Type,
			Severity: input.Body.Severity,
			Summary:  input.Body.Summary,
			Inputs:   conflictInputs(input.Body.Inputs),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		c, err := e.RecordConflict(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConflictResponse `json:"body"`
		}{Body: conflictResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/conflicts",
		Summary:     "List conflicts",
	}, func(ctx context.Context, input *struct {
		EventID  string `path:"event_id"`
		Status   string `query:"status" enum:"OPEN,ACKNOWLEDGED,RESOLVED,DISMISSED,DELEGATED,"`
		Severity string `query:"severity" enum:"CRITICAL,SIGNIFICANT,ADVISORY,"`
	}) (*struct {
		Body []ConflictResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListConflicts(ctx, repo.ConflictFilters{
			EventID:  input.EventID,
			Status:   input.Status,
			Severity: input.Severity,
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ConflictResponse, 0, len(items))
		for _, c := range items {
			res = append(res, conflictResponse(c))
		}
		return &struct {
			Body []ConflictResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conflict",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/conflicts/{id}",
		Summary:     "Get conflict",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body ConflictResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetConflict(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConflictResponse `json:"body"`
		}{Body: conflictResponse(c)}, nil
	})

	type conflictAction struct {
		EventID string `path:"event_id"`
		ID      string `path:"id"`
	}
	statusOps := []struct {
		opID    string
		path    string
		summary string
		run     func(context.Context, string, string) (domain.Conflict, error)
	}{
		{"dismiss-conflict", "/events/{event_id}/conflicts/{id}/dismiss", "Dismiss conflict", e.DismissConflict},
		{"resolve-conflict", "/events/{event_id}/conflicts/{id}/resolve", "Resolve conflict", e.ResolveConflict},
		{"delegate-conflict", "/events/{event_id}/conflicts/{id}/delegate", "Delegate conflict", e.DelegateConflict},
		{"reopen-conflict", "/events/{event_id}/conflicts/{id}/reopen", "Reopen conflict", e.ReopenConflict},
	}
	for _, op := range statusOps {
		run := op.run
		huma.Register(api, huma.Operation{
			OperationID: op.opID,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Errors: []int{
				http.StatusForbidden,
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *conflictAction) (*struct {
			Body ConflictResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
				return nil, handleAuthzError(err)
			}
			c, err := run(ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ConflictResponse `json:"body"`
			}{Body: conflictResponse(c)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "rescan-conflicts",
		Method:      http.MethodPost,
		Path:        "/events/{event_id}/conflicts/rescan",
		Summary:     "Rescan dismissed conflicts",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
	}) (*struct {
		Body map[string][]string `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST", "COORDINATOR"); err != nil {
			return nil, handleAuthzError(err)
		}
		reopened, err := e.RescanConflicts(ctx, input.EventID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if reopened == nil {
			reopened = []string{}
		}
		return &struct {
			Body map[string][]string `json:"body"`
		}{Body: map[string][]string{"reopened": reopened}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "acknowledge-conflict",
		Method:        http.MethodPost,
		Path:          "/events/{event_id}/conflicts/{id}/acknowledge",
		Summary:       "Acknowledge critical conflict",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		EventID string             `path:"event_id"`
		ID      string             `path:"id"`
		Body    AcknowledgeRequest `json:"body"`
	}) (*struct {
		Body AcknowledgementResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, input.EventID, "HOST"); err != nil {
			return nil, handleAuthzError(err)
		}
		a, err := e.Acknowledge(ctx, engine.AcknowledgeOptions{
			ConflictID:      input.ID,
			ImpactStatement: input.Body.ImpactStatement,
			Understood:      input.Body.Understood,
			MitigationType:  input.Body.MitigationType,
			Visibility:      input.Body.Visibility,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AcknowledgementResponse `json:"body"`
		}{Body: ackResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-acknowledgements",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/conflicts/{id}/acknowledgements",
		Summary:     "List acknowledgement chain",
	}, func(ctx context.Context, input *struct {
		EventID string `path:"event_id"`
		ID      string `path:"id"`
	}) (*struct {
		Body []AcknowledgementResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListAcknowledgements(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AcknowledgementResponse, 0, len(items))
		for _, a := range items {
			res = append(res, ackResponse(a))
		}
		return &struct {
			Body []AcknowledgementResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerAuditLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/events/{event_id}/audit",
		Summary:     "Audit log",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EventID    string `path:"event_id"`
		Action     string `query:"action"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     int64  `query:"cursor"`
	}) (*struct {
		Body paginatedAuditEntries `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		entries, err := e.Repo.ListAuditEntries(ctx, repo.AuditFilters{
			EventID:    input.EventID,
			Action:     input.Action,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Cursor:     input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAuditEntries{Items: []AuditEntryResponse{}}
		if len(entries) > limit {
			resp.NextCursor = fmt.Sprintf("%d", entries[limit].ID)
			entries = entries[:limit]
		}
		for _, entry := range entries {
			resp.Items = append(resp.Items, auditEntryResponse(entry))
		}
		return &struct {
			Body paginatedAuditEntries `json:"body"`
		}{Body: resp}, nil
	})
}
