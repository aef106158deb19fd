package inspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/andrei-cloud/go_procgen/internal/host"
	"github.com/andrei-cloud/go_procgen/internal/scene"
	"github.com/andrei-cloud/go_procgen/internal/searchpath"
	tea "github.com/charmbracelet/bubbletea"
)

type entry struct {
	name       string
	typ        string
	params     map[string]any
	userParams map[string]any
	script     string // Resolved script path, procedurals only.
}

func (e entry) procedural() bool {
	return e.typ == scene.ProceduralType
}

type sceneModel struct {
	title          string
	entries        []entry
	visible        []int // Indexes into entries.
	cursor         int
	showDetail     bool
	proceduralOnly bool
	quitting       bool
}

// newSceneModel creates the browser model for u. Procedural scripts are
// resolved up front with r.
func newSceneModel(title string, u *scene.Universe, r *searchpath.Resolver) sceneModel {
	var entries []entry
	searchPath := ""
	if o, ok := u.Options().(*scene.Node); ok && o != nil {
		searchPath = o.Str(host.ParamSearchPath)
		entries = append(entries, entry{name: "options", typ: "options", params: o.Params()})
	}

	for _, name := range u.Names() {
		n, ok := u.LookUpByName(name).(*scene.Node)
		if !ok {
			continue
		}
		e := entry{
			name:       n.Name(),
			typ:        n.Type(),
			params:     n.Params(),
			userParams: n.UserParams(),
		}
		if e.procedural() {
			e.script = resolveScript(r, searchPath, n.Str(host.ParamData))
		}
		entries = append(entries, e)
	}

	m := sceneModel{title: title, entries: entries}
	m.refilter()

	return m
}

func resolveScript(r *searchpath.Resolver, searchPath, ref string) string {
	if r.IsFile(ref) {
		return r.Normalize(ref)
	}
	found, err := r.Resolve(searchPath, ref)
	if err != nil {
		return ""
	}

	return found
}

// refilter rebuilds the visible list and keeps the cursor in range.
func (m *sceneModel) refilter() {
	m.visible = make([]int, 0, len(m.entries))
	for i, e := range m.entries {
		if m.proceduralOnly && !e.procedural() {
			continue
		}
		m.visible = append(m.visible, i)
	}
	if m.cursor >= len(m.visible) {
		m.cursor = len(m.visible) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// selected returns the entry under the cursor.
func (m sceneModel) selected() (entry, bool) {
	if len(m.visible) == 0 {
		return entry{}, false
	}

	return m.entries[m.visible[m.cursor]], true
}

// Init initializes the model.
func (m sceneModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model state.
func (m sceneModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q":
		m.quitting = true

		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		if len(m.visible) > 0 {
			m.cursor = len(m.visible) - 1
		}
	case "enter", " ":
		m.showDetail = !m.showDetail
	case "p":
		m.proceduralOnly = !m.proceduralOnly
		m.refilter()
	}

	return m, nil
}

// View renders the current state of the model.
func (m sceneModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("Scene " + m.title + "\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	if len(m.visible) == 0 {
		b.WriteString("  (no nodes)\n")
	}
	for row, idx := range m.visible {
		e := m.entries[idx]
		marker := "  "
		if row == m.cursor {
			marker = "▶ "
		}
		fmt.Fprintf(&b, "%s%-24s %s\n", marker, e.name, e.typ)
	}

	if e, ok := m.selected(); ok && m.showDetail {
		b.WriteString("\n" + e.name + "\n")
		writeParams(&b, "Parameters", e.params)
		writeParams(&b, "User parameters", e.userParams)
		if e.procedural() {
			script := e.script
			if script == "" {
				script = "(not found)"
			}
			fmt.Fprintf(&b, "  Script: %s\n", script)
		}
	}

	b.WriteString("\nNavigation:\n")
	b.WriteString("  ↑/↓ or j/k: Move  g/G: First/Last\n")
	b.WriteString("  Enter: Toggle details  p: Procedurals only\n")
	b.WriteString("  q or Ctrl+C: Quit\n")

	return b.String()
}

func writeParams(b *strings.Builder, title string, params map[string]any) {
	if len(params) == 0 {
		return
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(b, "  %s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "    %s = %v\n", k, params[k])
	}
}
