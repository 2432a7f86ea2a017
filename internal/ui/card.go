package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/klauern/usersync/internal/model"
)

// DefaultCardWidth is the card width used when none is given.
const DefaultCardWidth = 48

// CardStyles holds the lipgloss styles of a user card.
var CardStyles = struct {
	Box      lipgloss.Style
	Name     lipgloss.Style
	Meta     lipgloss.Style
	About    lipgloss.Style
	Picture  lipgloss.Style
	NoAbout  lipgloss.Style
	Selected lipgloss.Style
}{
	Box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
	Name:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
	Meta:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	About:    lipgloss.NewStyle(),
	Picture:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Underline(true),
	NoAbout:  lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("241")),
	Selected: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("2")).Padding(0, 1),
}

// Card renders one user as a bordered card.
func Card(u model.User, width int) string {
	return renderCard(u, width, CardStyles.Box)
}

// SelectedCard renders a card with the highlighted border.
func SelectedCard(u model.User, width int) string {
	return renderCard(u, width, CardStyles.Selected)
}

func renderCard(u model.User, width int, box lipgloss.Style) string {
	if width <= 0 {
		width = DefaultCardWidth
	}
	// Width excludes the border but includes the padding.
	inner := max(width-2, 12)
	text := inner - 2

	var lines []string
	lines = append(lines, CardStyles.Name.Render(fmt.Sprintf("%s, %d", u.Name, u.Age)))

	meta := fmt.Sprintf("#%d", u.ID)
	if loc := strings.TrimSpace(u.Location); loc != "" {
		meta += " · " + loc
	}
	lines = append(lines, CardStyles.Meta.Render(meta))

	if about := strings.TrimSpace(u.About); about != "" {
		lines = append(lines, CardStyles.About.Width(text).Render(about))
	} else {
		lines = append(lines, CardStyles.NoAbout.Render("no bio"))
	}

	if pic := u.PictureURL(); pic != "" {
		lines = append(lines, CardStyles.Picture.Render(pic))
	}

	return box.Width(inner).Render(strings.Join(lines, "\n"))
}
