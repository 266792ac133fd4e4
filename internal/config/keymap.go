package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Binding maps one keyboard accelerator to an intent. Index is used by
// switch-tab and close-tab.
type Binding struct {
	Accelerator string `yaml:"accelerator"`
	Intent      string `yaml:"intent"`
	Index       *int   `yaml:"index,omitempty"`
}

// Keymap is the top-level YAML configuration for keyboard shortcuts.
type Keymap struct {
	Bindings []Binding `yaml:"bindings"`

	index map[string]Binding
}

func intPtr(i int) *int { return &i }

// DefaultKeymap returns the built-in shortcuts.
func DefaultKeymap() *Keymap {
	k := &Keymap{Bindings: []Binding{
		{Accelerator: "CmdOrCtrl+T", Intent: "new-tab"},
		{Accelerator: "CmdOrCtrl+W", Intent: "close-tab"},
		{Accelerator: "CmdOrCtrl+Tab", Intent: "next-tab"},
		{Accelerator: "CmdOrCtrl+Shift+Tab", Intent: "prev-tab"},
		{Accelerator: "CmdOrCtrl+1", Intent: "first-tab"},
		{Accelerator: "CmdOrCtrl+9", Intent: "last-tab"},
		{Accelerator: "CmdOrCtrl+S", Intent: "save-tabs"},
		{Accelerator: "CmdOrCtrl+Q", Intent: "close-app"},
	}}
	for i := 2; i <= 8; i++ {
		k.Bindings = append(k.Bindings, Binding{
			Accelerator: fmt.Sprintf("CmdOrCtrl+%d", i),
			Intent:      "switch-tab",
			Index:       intPtr(i - 1),
		})
	}
	if err := k.build(); err != nil {
		panic(err)
	}
	return k
}

// LoadKeymap reads and validates a keymap YAML file. Returns an
// os.ErrNotExist-wrapped error if the file is absent (caller falls back to
// DefaultKeymap in that case).
func LoadKeymap(path string) (*Keymap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keymap config: %w", err)
	}
	var k Keymap
	if err := yaml.Unmarshal(data, &k); err != nil {
		return nil, fmt.Errorf("keymap config: %w", err)
	}
	if len(k.Bindings) == 0 {
		return nil, fmt.Errorf("keymap config: at least one binding is required")
	}
	if err := k.build(); err != nil {
		return nil, err
	}
	return &k, nil
}

func (k *Keymap) build() error {
	k.index = make(map[string]Binding, len(k.Bindings))
	for i, b := range k.Bindings {
		if strings.TrimSpace(b.Intent) == "" {
			return fmt.Errorf("keymap config: bindings[%d] missing intent", i)
		}
		key := NormalizeAccelerator(b.Accelerator)
		if key == "" {
			return fmt.Errorf("keymap config: bindings[%d] missing accelerator", i)
		}
		if _, dup := k.index[key]; dup {
			return fmt.Errorf("keymap config: bindings[%d] duplicates accelerator %q", i, b.Accelerator)
		}
		k.index[key] = b
	}
	return nil
}

// Lookup resolves an accelerator as reported by the UI.
func (k *Keymap) Lookup(accelerator string) (Binding, bool) {
	if k == nil {
		return Binding{}, false
	}
	b, ok := k.index[NormalizeAccelerator(accelerator)]
	return b, ok
}

var modifierAliases = map[string]string{
	"cmdorctrl":        "mod",
	"commandorcontrol": "mod",
	"cmd":              "mod",
	"command":          "mod",
	"ctrl":             "mod",
	"control":          "mod",
	"meta":             "mod",
	"super":            "mod",
	"shift":            "shift",
	"alt":              "alt",
	"option":           "alt",
}

// NormalizeAccelerator lower-cases an accelerator and sorts its modifiers so
// "Shift+Ctrl+Tab" and "CmdOrCtrl+Shift+Tab" compare equal.
func NormalizeAccelerator(accelerator string) string {
	var mods []string
	key := ""
	for _, part := range strings.Split(accelerator, "+") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if alias, ok := modifierAliases[part]; ok {
			mods = append(mods, alias)
			continue
		}
		key = part
	}
	if key == "" {
		return ""
	}
	sort.Strings(mods)
	mods = compact(mods)
	return strings.Join(append(mods, key), "+")
}

func compact(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
