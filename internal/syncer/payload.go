package syncer

import (
	"log/slog"

	"github.com/dgnsrekt/tabdesk/internal/tabs"
)

const FeedTabsSync = "tabs-sync"

type TabSync struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	IsActive bool   `json:"isActive"`
}

// TabsSync is the full tab list sent to observer surfaces.
type TabsSync struct {
	Tabs           []TabSync `json:"tabs"`
	ActiveTabIndex int       `json:"activeTabIndex"`
}

// BuildTabsSync composes a broadcast payload from a manager snapshot. When
// more than one tab claims to be active, only the one at ActiveIndex keeps
// the flag and the anomaly is reported.
func BuildTabsSync(st tabs.State) (TabsSync, bool) {
	out := TabsSync{Tabs: make([]TabSync, 0, len(st.Tabs)), ActiveTabIndex: st.ActiveIndex}
	active := 0
	for _, info := range st.Tabs {
		if info.Active {
			active++
		}
		out.Tabs = append(out.Tabs, TabSync{ID: info.ID, Title: info.Title, URL: info.URL, IsActive: info.Active})
	}
	if active <= 1 {
		return out, false
	}

	keep := st.ActiveIndex
	if keep < 0 || keep >= len(out.Tabs) {
		for i, t := range out.Tabs {
			if t.IsActive {
				keep = i
				break
			}
		}
	}
	for i := range out.Tabs {
		out.Tabs[i].IsActive = i == keep
	}
	out.ActiveTabIndex = keep
	slog.Warn("multiple active tabs in broadcast, corrected", "active_count", active, "kept_index", keep)
	return out, true
}
