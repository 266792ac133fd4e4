package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tabdesk/internal/controller"
)

// Persistence endpoints always answer 200; failures are reported in the
// body's success and error fields.
func registerSessionHandlers(api huma.API, svc Service) {
	type saveOutput struct {
		Body controller.SaveResult
	}
	type loadOutput struct {
		Body controller.LoadResult
	}
	type pathOutput struct {
		Body controller.PathResult
	}

	huma.Register(api, huma.Operation{OperationID: "save-tabs", Method: http.MethodPost, Path: "/api/v1/session/save", Summary: "Persist the open tabs now", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*saveOutput, error) {
			out := &saveOutput{}
			out.Body = svc.SaveTabs(ctx)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "load-tabs", Method: http.MethodGet, Path: "/api/v1/session", Summary: "Read the persisted session", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*loadOutput, error) {
			out := &loadOutput{}
			out.Body = svc.LoadTabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "clear-tabs", Method: http.MethodDelete, Path: "/api/v1/session", Summary: "Delete the persisted session", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*saveOutput, error) {
			out := &saveOutput{}
			out.Body = svc.ClearTabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "session-path", Method: http.MethodGet, Path: "/api/v1/session/path", Summary: "Location of the session file", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*pathOutput, error) {
			out := &pathOutput{}
			out.Body = svc.StoragePath()
			return out, nil
		})
}
