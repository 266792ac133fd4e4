package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/tabdesk/internal/controller"
	"github.com/dgnsrekt/tabdesk/internal/relay"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

// Service is the controller surface exposed over HTTP.
type Service interface {
	ListTabs() tabs.State
	GetTab(id int) (tabs.Info, error)
	NewTab(ctx context.Context, opts controller.NewTabOptions) (tabs.Info, error)
	ActivateTab(ctx context.Context, id int) bool
	CloseTabByID(ctx context.Context, id int) bool
	ReorderTabs(from, to int) bool
	RenameTab(index int, title string) (bool, error)
	Dispatch(ctx context.Context, in controller.Intent) (controller.Result, error)
	HandleMessage(ctx context.Context, msg []byte) ([]byte, error)
	SaveTabs(ctx context.Context) controller.SaveResult
	LoadTabs() controller.LoadResult
	ClearTabs() controller.SaveResult
	StoragePath() controller.PathResult
	CacheStats() (controller.CacheStats, error)
	CloseApp() bool
}

type Options struct {
	// Broker backs /events and /ws. Both are omitted when nil.
	Broker *relay.Broker
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

type tabIDInput struct {
	TabID int `path:"tab_id" doc:"Tab id"`
}

type tabOutput struct {
	Body tabs.Info
}

type stateOutput struct {
	Body tabs.State
}

type appliedOutput struct {
	Body struct {
		Applied bool       `json:"applied"`
		State   tabs.State `json:"state"`
	}
}

func NewServer(svc Service, opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tabdesk API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/docs/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(channelDocsHTML)); err != nil {
			slog.Debug("channel docs response write failed", "error", err)
		}
	})

	if opts.Broker != nil {
		router.Get("/events", relay.SSEHandler(opts.Broker))
		router.Get("/ws", relay.WSHandler(opts.Broker, svc.HandleMessage))
	}
	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics)
	}

	registerTabHandlers(api, svc)
	registerSessionHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeTabNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeTabLimit:
			return huma.Error409Conflict(coded.Message)
		case controller.CodeShuttingDown:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
