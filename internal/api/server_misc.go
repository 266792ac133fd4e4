package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tabdesk/internal/controller"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
			Tabs   int    `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.Tabs = len(svc.ListTabs().Tabs)
			return out, nil
		})

	type cacheOutput struct {
		Body controller.CacheStats
	}
	huma.Register(api, huma.Operation{OperationID: "cache-stats", Method: http.MethodGet, Path: "/api/v1/cache", Summary: "Snapshot cache usage", Tags: []string{"Cache"}},
		func(ctx context.Context, input *struct{}) (*cacheOutput, error) {
			stats, err := svc.CacheStats()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &cacheOutput{}
			out.Body = stats
			return out, nil
		})

	type closeOutput struct {
		Body struct {
			Closing bool `json:"closing"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "close-app", Method: http.MethodPost, Path: "/api/v1/app/close", Summary: "Save and shut down", Tags: []string{"App"}},
		func(ctx context.Context, input *struct{}) (*closeOutput, error) {
			out := &closeOutput{}
			out.Body.Closing = svc.CloseApp()
			return out, nil
		})
}
