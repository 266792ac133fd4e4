package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const (
	IntentNewTab      = "new-tab"
	IntentSwitchTab   = "switch-tab"
	IntentCloseTab    = "close-tab"
	IntentReorderTabs = "reorder-tabs"
	IntentRenameTab   = "rename-tab"
	IntentNextTab     = "next-tab"
	IntentPrevTab     = "prev-tab"
	IntentFirstTab    = "first-tab"
	IntentLastTab     = "last-tab"
	IntentSaveTabs    = "save-tabs"
	IntentCloseApp    = "close-app"
	IntentShortcut    = "shortcut"
)

// Intent is a user request arriving from the tab bar, a keyboard shortcut
// or the WebSocket channel. Index, From and To are tab positions.
type Intent struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"intent"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content,omitempty"`
	URL         string `json:"url,omitempty"`
	Index       *int   `json:"index,omitempty"`
	From        *int   `json:"from,omitempty"`
	To          *int   `json:"to,omitempty"`
	Accelerator string `json:"accelerator,omitempty"`
}

// Result reports what an intent did. Applied is false for intents that
// resolved to a no-op, such as switching to an out-of-range index.
type Result struct {
	Intent  string      `json:"intent"`
	Applied bool        `json:"applied"`
	Tab     *tabs.Info  `json:"tab,omitempty"`
	Save    *SaveResult `json:"save,omitempty"`
}

func requireIndex(v *int, fieldName string) (int, error) {
	if v == nil {
		return 0, &CodedError{Code: CodeValidation, Message: fieldName + " is required"}
	}
	return *v, nil
}

// Dispatch runs one intent against the tab manager.
func (s *Service) Dispatch(ctx context.Context, in Intent) (Result, error) {
	res := Result{Intent: in.Name}
	switch in.Name {
	case IntentNewTab:
		info, err := s.NewTab(ctx, NewTabOptions{Title: in.Title, Content: in.Content, URL: in.URL})
		if err != nil {
			return res, err
		}
		res.Applied, res.Tab = true, &info
	case IntentSwitchTab:
		idx, err := requireIndex(in.Index, "index")
		if err != nil {
			return res, err
		}
		res.Applied = s.SwitchTab(ctx, idx)
	case IntentCloseTab:
		if in.Index == nil {
			res.Applied = s.CloseActiveTab(ctx)
		} else {
			res.Applied = s.CloseTab(ctx, *in.Index)
		}
	case IntentReorderTabs:
		from, err := requireIndex(in.From, "from")
		if err != nil {
			return res, err
		}
		to, err := requireIndex(in.To, "to")
		if err != nil {
			return res, err
		}
		res.Applied = s.ReorderTabs(from, to)
	case IntentRenameTab:
		idx, err := requireIndex(in.Index, "index")
		if err != nil {
			return res, err
		}
		if res.Applied, err = s.RenameTab(idx, in.Title); err != nil {
			return res, err
		}
	case IntentNextTab:
		res.Applied = s.NextTab(ctx)
	case IntentPrevTab:
		res.Applied = s.PrevTab(ctx)
	case IntentFirstTab:
		res.Applied = s.FirstTab(ctx)
	case IntentLastTab:
		res.Applied = s.LastTab(ctx)
	case IntentSaveTabs:
		save := s.SaveTabs(ctx)
		res.Applied, res.Save = save.Success, &save
	case IntentCloseApp:
		res.Applied = s.CloseApp()
	case IntentShortcut:
		return s.Shortcut(ctx, in.Accelerator)
	case "":
		return res, newError(CodeValidation, "intent is required", nil)
	default:
		return res, newError(CodeValidation, fmt.Sprintf("unknown intent %q", in.Name), nil)
	}
	return res, nil
}

// Shortcut resolves an accelerator through the keymap and dispatches the
// bound intent. Unbound accelerators are a no-op.
func (s *Service) Shortcut(ctx context.Context, accelerator string) (Result, error) {
	if err := s.requireNonEmpty(accelerator, "accelerator"); err != nil {
		return Result{Intent: IntentShortcut}, err
	}
	binding, ok := s.keymap.Lookup(accelerator)
	if !ok {
		slog.Debug("unbound shortcut", "accelerator", accelerator)
		return Result{Intent: IntentShortcut}, nil
	}
	if binding.Intent == IntentShortcut {
		return Result{Intent: IntentShortcut}, newError(CodeValidation, "shortcut cannot bind to shortcut", nil)
	}
	return s.Dispatch(ctx, Intent{Name: binding.Intent, Index: binding.Index})
}

type intentReply struct {
	Type   string  `json:"type"`
	ID     string  `json:"id,omitempty"`
	OK     bool    `json:"ok"`
	Code   string  `json:"code,omitempty"`
	Error  string  `json:"error,omitempty"`
	Result *Result `json:"result,omitempty"`
}

// HandleMessage decodes a JSON intent, dispatches it and encodes the
// reply. Failures are reported inside the reply so the channel stays
// open.
func (s *Service) HandleMessage(ctx context.Context, msg []byte) ([]byte, error) {
	reply := intentReply{Type: "intent-result"}
	var in Intent
	if err := json.Unmarshal(msg, &in); err != nil {
		reply.Code, reply.Error = CodeValidation, "invalid intent payload: "+err.Error()
		return json.Marshal(reply)
	}
	reply.ID = in.ID

	res, err := s.Dispatch(ctx, in)
	if err != nil {
		var coded *CodedError
		if errors.As(err, &coded) {
			reply.Code, reply.Error = coded.Code, coded.Message
		} else {
			reply.Error = err.Error()
		}
		slog.Debug("intent rejected", "intent", in.Name, "error", err)
		return json.Marshal(reply)
	}
	reply.OK, reply.Result = true, &res
	return json.Marshal(reply)
}
