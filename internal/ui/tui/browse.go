package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"

	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/ui"
	"github.com/klauern/usersync/internal/usecase"
)

// UserSource is the use case consumed by the browse view.
type UserSource interface {
	LoadUsersCachedThenSync(ctx context.Context, cb usecase.Callback) <-chan struct{}
	RefreshUsers(ctx context.Context, cb usecase.Callback) <-chan struct{}
}

// browseKeyMap defines the key bindings for the browse view. Row movement
// is handled by the table's own key map.
type browseKeyMap struct {
	Refresh  key.Binding
	Filter   key.Binding
	ClearFlt key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultBrowseKeyMap() browseKeyMap {
	return browseKeyMap{
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Filter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter"),
		),
		ClearFlt: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear filter"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

var browseStyles = struct {
	Title       lipgloss.Style
	Help        lipgloss.Style
	Status      lipgloss.Style
	Error       lipgloss.Style
	Filter      lipgloss.Style
	FilterInput lipgloss.Style
}{
	Title:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")).Padding(0, 1),
	Help:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	Status:      lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1),
	Error:       lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Padding(0, 1),
	Filter:      lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	FilterInput: lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
}

type (
	startMsg    struct{}
	loadDoneMsg struct{}
)

// inbox buffers delivered results until the next Update applies them.
type inbox struct {
	mu      sync.Mutex
	pending []usecase.Result
}

func (b *inbox) push(res usecase.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, res)
}

func (b *inbox) take() []usecase.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}

// BrowseModel is the BubbleTea model that lists users in a table and shows
// the selected one as a card. Results are delivered on the program's event
// loop.
type BrowseModel struct {
	src   UserSource
	exec  *ProgramExecutor
	ctx   context.Context
	box   *inbox
	keys  browseKeyMap
	table table.Model

	users     []model.User
	filtered  []model.User
	origin    model.Origin
	err       error
	loading   bool
	filter    string
	filtering bool
	showHelp  bool
	width     int
	height    int
	quitting  bool

	// deliveries counts results applied, for the status line
	deliveries int
}

// NewBrowseModel creates the browse model. exec must be the executor the use
// case delivers on.
func NewBrowseModel(ctx context.Context, src UserSource, exec *ProgramExecutor) BrowseModel {
	columns := []table.Column{
		{Title: "ID", Width: 6},
		{Title: "Name", Width: 24},
		{Title: "Age", Width: 4},
		{Title: "Location", Width: 20},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return BrowseModel{
		src:   src,
		exec:  exec,
		ctx:   ctx,
		box:   &inbox{},
		keys:  defaultBrowseKeyMap(),
		table: t,
	}
}

func usersToRows(users []model.User) []table.Row {
	rows := make([]table.Row, len(users))
	for i, u := range users {
		rows[i] = table.Row{
			strconv.Itoa(u.ID),
			truncateText(u.Name, 24),
			strconv.Itoa(u.Age),
			truncateText(u.Location, 20),
		}
	}
	return rows
}

// Init implements tea.Model.
func (m BrowseModel) Init() tea.Cmd {
	return func() tea.Msg { return startMsg{} }
}

// Update implements tea.Model.
func (m BrowseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m.exec.Bind()

	var cmd tea.Cmd
	switch msg := msg.(type) {
	case startMsg:
		cmd = m.load(m.src.LoadUsersCachedThenSync)
	case runMsg:
		msg.fn()
	case loadDoneMsg:
		m.loading = false
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Reserve space for title, status, card and help
		m.table.SetHeight(max(msg.Height-16, 3))
	case tea.KeyMsg:
		m, cmd = m.handleKey(msg)
	}

	m.apply(m.box.take())
	return m, cmd
}

func (m BrowseModel) handleKey(msg tea.KeyMsg) (BrowseModel, tea.Cmd) {
	if m.filtering {
		switch msg.Type {
		case tea.KeyEnter:
			m.filtering = false
		case tea.KeyEsc:
			m.filtering = false
			m.filter = ""
			m.applyFilter()
		case tea.KeyBackspace:
			if len(m.filter) > 0 {
				runes := []rune(m.filter)
				m.filter = string(runes[:len(runes)-1])
				m.applyFilter()
			}
		case tea.KeyRunes, tea.KeySpace:
			m.filter += string(msg.Runes)
			m.applyFilter()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		return m, nil
	case key.Matches(msg, m.keys.ClearFlt):
		if m.filter != "" {
			m.filter = ""
			m.applyFilter()
		}
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		if m.loading {
			return m, nil
		}
		return m, m.load(m.src.RefreshUsers)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// load issues a use case call. The returned command waits for the call to
// finish delivering.
func (m *BrowseModel) load(call func(context.Context, usecase.Callback) <-chan struct{}) tea.Cmd {
	m.loading = true
	m.err = nil
	box, exec := m.box, m.exec
	done := call(m.ctx, func(res usecase.Result) {
		if !exec.InContext() {
			logging.Debug("browse result delivered off the event loop")
		}
		box.push(res)
	})
	return func() tea.Msg {
		<-done
		return loadDoneMsg{}
	}
}

func (m *BrowseModel) apply(results []usecase.Result) {
	if len(results) == 0 {
		return
	}
	for _, res := range results {
		m.deliveries++
		if res.Err != nil {
			m.err = res.Err
			continue
		}
		m.err = nil
		m.users = res.Users
		m.origin = res.Origin
	}
	m.applyFilter()
}

func (m *BrowseModel) applyFilter() {
	if m.filter == "" {
		m.filtered = m.users
	} else {
		var filtered []model.User
		fold := cases.Fold()
		needle := fold.String(m.filter)
		for _, u := range m.users {
			if strings.Contains(fold.String(u.Name), needle) ||
				strings.Contains(fold.String(u.Location), needle) {
				filtered = append(filtered, u)
			}
		}
		m.filtered = filtered
	}
	m.table.SetRows(usersToRows(m.filtered))
	if n := len(m.filtered); n > 0 {
		if c := m.table.Cursor(); c < 0 || c >= n {
			m.table.SetCursor(min(max(c, 0), n-1))
		}
	}
}

// Selected returns the user under the cursor.
func (m BrowseModel) Selected() (model.User, bool) {
	c := m.table.Cursor()
	if c < 0 || c >= len(m.filtered) {
		return model.User{}, false
	}
	return m.filtered[c], true
}

// View implements tea.Model.
func (m BrowseModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(browseStyles.Title.Render("usersync"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	if m.filter != "" || m.filtering {
		filterVal := browseStyles.FilterInput.Render(m.filter)
		if m.filtering {
			filterVal += "█"
		}
		b.WriteString(browseStyles.Filter.Render("Filter: ") + filterVal + "\n\n")
	}

	switch {
	case len(m.users) == 0:
		if !m.loading {
			b.WriteString(browseStyles.Status.Render("no users"))
			b.WriteString("\n")
		}
	case len(m.filtered) == 0:
		b.WriteString(browseStyles.Status.Render("no users match the filter"))
		b.WriteString("\n")
	default:
		b.WriteString(m.table.View())
		b.WriteString("\n")
		if u, ok := m.Selected(); ok {
			b.WriteString(ui.SelectedCard(u, m.cardWidth()))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.helpView())
	return b.String()
}

func (m BrowseModel) statusLine() string {
	count := fmt.Sprintf("%d user(s)", len(m.users))
	if m.filter != "" {
		count = fmt.Sprintf("%d of %d user(s)", len(m.filtered), len(m.users))
	}
	switch {
	case m.err != nil:
		kind, _ := usecase.KindOf(m.err)
		return browseStyles.Error.Render(fmt.Sprintf("%s failure: %v", kind, m.err))
	case m.loading && len(m.users) > 0:
		return browseStyles.Status.Render(fmt.Sprintf("%s from %s, syncing...", count, m.origin))
	case m.loading:
		return browseStyles.Status.Render("loading...")
	default:
		return browseStyles.Status.Render(fmt.Sprintf("%s from %s", count, m.origin))
	}
}

func (m BrowseModel) helpView() string {
	if !m.showHelp {
		return browseStyles.Help.Render("↑/↓ move • / filter • r refresh • ? help • q quit")
	}
	tableKeys := m.table.KeyMap
	bindings := []key.Binding{
		tableKeys.LineUp, tableKeys.LineDown, tableKeys.PageDown, tableKeys.PageUp,
		m.keys.Filter, m.keys.ClearFlt, m.keys.Refresh, m.keys.Help, m.keys.Quit,
	}
	var parts []string
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, fmt.Sprintf("%-10s %s", h.Key, h.Desc))
	}
	return browseStyles.Help.Render(strings.Join(parts, "\n"))
}

func (m BrowseModel) cardWidth() int {
	if m.width <= 0 {
		return ui.DefaultCardWidth
	}
	return min(m.width-2, 72)
}

// Users returns the users currently shown, ignoring any filter.
func (m BrowseModel) Users() []model.User {
	return m.users
}

// Err returns the last failure shown, if any.
func (m BrowseModel) Err() error {
	return m.err
}

// Browse runs the browse view until the user quits.
func Browse(ctx context.Context, src UserSource, exec *ProgramExecutor, opts ...tea.ProgramOption) (BrowseModel, error) {
	m := NewBrowseModel(ctx, src, exec)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	exec.Attach(p)
	defer exec.Detach()

	final, err := p.Run()
	if bm, ok := final.(BrowseModel); ok {
		m = bm
	}
	return m, err
}
