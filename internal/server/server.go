// Package server exposes the report pipeline over an authenticated HTTP API:
// generate reports on demand, inspect cache state, and browse run history.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"reportline/internal/archive"
	"reportline/internal/cache"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/timeutil"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"run not found"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the reportline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Reportline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerReports(group, cfg.Engine)
	registerCache(group, cfg.Engine)
	registerRuns(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, archive.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "invalid") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg)
	}
	return newAPIError(http.StatusBadGateway, "upstream_error", msg)
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

type reportInput struct {
	Kind   string `path:"kind" enum:"daily,weekly,monthly" doc:"Report period"`
	Offset int    `query:"offset" doc:"Periods back from the most recent completed one"`
	NoChat bool   `query:"no_chat" doc:"Skip webhook delivery"`
}

type reportOutput struct {
	Body struct {
		Run       domain.Run `json:"run"`
		Body      string     `json:"body"`
		Delivered int        `json:"delivered"`
	} `json:"body"`
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-report",
		Method:      http.MethodPost,
		Path:        "/reports/{kind}",
		Summary:     "Generate a report",
	}, func(ctx context.Context, input *reportInput) (*reportOutput, error) {
		if p, ok := principalFromContext(ctx); ok {
			slog.Info("report requested", "kind", input.Kind, "subject", p.Subject)
		}
		zone := timeutil.Zone(e.Config.Report.TimezoneOffsetHours)
		now := e.Now()
		var w timeutil.Window
		switch input.Kind {
		case "daily":
			w = timeutil.DayWindow(now.In(zone).AddDate(0, 0, -1-input.Offset), zone)
		case "weekly":
			w = timeutil.WeekWindow(now, input.Offset)
		case "monthly":
			w = timeutil.MonthWindow(now, input.Offset)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown report kind "+input.Kind)
		}
		res, err := e.Run(ctx, w, engine.Options{NoChat: input.NoChat})
		if err != nil {
			return nil, handleError(err)
		}
		out := &reportOutput{}
		out.Body.Run = res.Run
		out.Body.Body = res.Body
		out.Body.Delivered = res.Delivered
		return out, nil
	})
}

func registerCache(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "cache-stats",
		Method:      http.MethodGet,
		Path:        "/cache/stats",
		Summary:     "Cache statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body cache.Stats `json:"body"`
	}, error) {
		return &struct {
			Body cache.Stats `json:"body"`
		}{Body: e.Cache.Stats()}, nil
	})
}

type listRunsInput struct {
	Kind  string `query:"kind" doc:"Filter by report kind"`
	Limit int    `query:"limit" doc:"Maximum rows, newest first"`
}

func registerRuns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List archived report runs",
	}, func(ctx context.Context, input *listRunsInput) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		if e.Archive == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "run archive not configured")
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		runs, err := e.Archive.ListRuns(ctx, input.Kind, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Fetch one archived run, body included",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		if e.Archive == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", "run archive not configured")
		}
		run, err := e.Archive.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: run}, nil
	})
}
