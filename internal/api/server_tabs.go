package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/tabdesk/internal/controller"
)

func registerTabHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "list-tabs", Method: http.MethodGet, Path: "/api/v1/tabs", Summary: "List tabs in display order", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct{}) (*stateOutput, error) {
			out := &stateOutput{}
			out.Body = svc.ListTabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-tab", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}", Summary: "Get a tab by id", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*tabOutput, error) {
			info, err := svc.GetTab(input.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = info
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "create-tab", Method: http.MethodPost, Path: "/api/v1/tabs", Summary: "Create a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Title    string `json:"title,omitempty" doc:"Tab title (defaults to Untitled)"`
				URL      string `json:"url,omitempty" doc:"Optional source URL"`
				Content  string `json:"content,omitempty" doc:"Initial HTML content"`
				Inactive bool   `json:"inactive,omitempty" doc:"Create without activating"`
			}
		}) (*tabOutput, error) {
			info, err := svc.NewTab(ctx, controller.NewTabOptions{
				Title:    input.Body.Title,
				URL:      input.Body.URL,
				Content:  input.Body.Content,
				Inactive: input.Body.Inactive,
			})
			if err != nil {
				return nil, mapErr(err)
			}
			out := &tabOutput{}
			out.Body = info
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "activate-tab", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/activate", Summary: "Make a tab active", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*appliedOutput, error) {
			out := &appliedOutput{}
			out.Body.Applied = svc.ActivateTab(ctx, input.TabID)
			out.Body.State = svc.ListTabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "close-tab", Method: http.MethodDelete, Path: "/api/v1/tabs/{tab_id}", Summary: "Close a tab", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *tabIDInput) (*appliedOutput, error) {
			out := &appliedOutput{}
			out.Body.Applied = svc.CloseTabByID(ctx, input.TabID)
			out.Body.State = svc.ListTabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "reorder-tabs", Method: http.MethodPost, Path: "/api/v1/tabs/reorder", Summary: "Move a tab to another position", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Body struct {
				From int `json:"from" doc:"Current position"`
				To   int `json:"to" doc:"Target position"`
			}
		}) (*appliedOutput, error) {
			out := &appliedOutput{}
			out.Body.Applied = svc.ReorderTabs(input.Body.From, input.Body.To)
			out.Body.State = svc.ListTabs()
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "rename-tab", Method: http.MethodPost, Path: "/api/v1/tabs/rename", Summary: "Rename the tab at a position", Tags: []string{"Tabs"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Index int    `json:"index" doc:"Tab position"`
				Title string `json:"title" required:"true" doc:"New title"`
			}
		}) (*appliedOutput, error) {
			applied, err := svc.RenameTab(input.Body.Index, input.Body.Title)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &appliedOutput{}
			out.Body.Applied = applied
			out.Body.State = svc.ListTabs()
			return out, nil
		})

	type intentOutput struct {
		Body controller.Result
	}
	huma.Register(api, huma.Operation{OperationID: "dispatch-intent", Method: http.MethodPost, Path: "/api/v1/intents", Summary: "Dispatch a tab intent or keyboard shortcut", Tags: []string{"Intents"}},
		func(ctx context.Context, input *struct {
			Body controller.Intent
		}) (*intentOutput, error) {
			res, err := svc.Dispatch(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &intentOutput{}
			out.Body = res
			return out, nil
		})
}
