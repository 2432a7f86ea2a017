// Package export renders user collections for the terminal and for piping.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/klauern/usersync/internal/logging"
	"github.com/klauern/usersync/internal/model"
	"github.com/klauern/usersync/internal/ui"
)

// Format represents the output format for rendered users.
type Format string

const (
	// FormatTable renders an aligned table.
	FormatTable Format = "table"
	// FormatJSON renders one JSON document per emission.
	FormatJSON Format = "json"
	// FormatYAML renders one YAML document per emission.
	FormatYAML Format = "yaml"
	// FormatCards renders a bordered card per user.
	FormatCards Format = "cards"
)

// IsValid returns true if the format is recognized.
func (f Format) IsValid() bool {
	switch f {
	case FormatTable, FormatJSON, FormatYAML, FormatCards:
		return true
	default:
		return false
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// AllFormats returns all supported formats.
func AllFormats() []Format {
	return []Format{FormatTable, FormatJSON, FormatYAML, FormatCards}
}

// ParseFormat parses a string into a Format.
func ParseFormat(s string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(s)))
	if !format.IsValid() {
		return "", fmt.Errorf("unsupported format %q (valid: table, json, yaml, cards)", s)
	}
	return format, nil
}

// Options configures rendering.
type Options struct {
	// Format specifies the output format.
	Format Format
	// Pretty enables pretty-printing for JSON/YAML.
	Pretty bool
	// Width bounds card rendering; zero uses the card default.
	Width int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Format: FormatTable,
		Pretty: true,
	}
}

// Exporter renders emissions in the configured format.
type Exporter struct {
	opts Options
}

// New creates a new Exporter with the given options.
func New(opts Options) *Exporter {
	return &Exporter{opts: opts}
}

// Format returns the configured format.
func (e *Exporter) Format() Format {
	return e.opts.Format
}

// Export writes one emission, labeled with its origin, to w.
func (e *Exporter) Export(users []model.User, origin model.Origin, w io.Writer) error {
	logging.Debug("rendering users",
		slog.String("format", string(e.opts.Format)),
		logging.Origin(string(origin)),
		logging.Count(len(users)),
	)

	var err error
	switch e.opts.Format {
	case FormatTable:
		err = e.exportTable(users, origin, w)
	case FormatJSON:
		err = e.exportJSON(users, origin, w)
	case FormatYAML:
		err = e.exportYAML(users, origin, w)
	case FormatCards:
		err = e.exportCards(users, origin, w)
	default:
		err = fmt.Errorf("unsupported format: %s", e.opts.Format)
	}

	if err != nil {
		logging.Error("render failed",
			slog.String("format", string(e.opts.Format)),
			logging.Err(err),
		)
	}
	return err
}

// exportUser is the serialized form of a user. Field names follow the remote
// payload.
type exportUser struct {
	ID            int    `json:"user_id" yaml:"user_id"`
	Name          string `json:"name" yaml:"name"`
	Age           int    `json:"age" yaml:"age"`
	Location      string `json:"loc" yaml:"loc"`
	About         string `json:"about_me,omitempty" yaml:"about_me,omitempty"`
	ProfilePicURL string `json:"profile_pic_url,omitempty" yaml:"profile_pic_url,omitempty"`
}

type exportEmission struct {
	Origin string       `json:"origin,omitempty" yaml:"origin,omitempty"`
	Count  int          `json:"count" yaml:"count"`
	Users  []exportUser `json:"users" yaml:"users"`
}

func toEmission(users []model.User, origin model.Origin) exportEmission {
	exported := make([]exportUser, len(users))
	for i, u := range users {
		exported[i] = exportUser{
			ID:            u.ID,
			Name:          u.Name,
			Age:           u.Age,
			Location:      u.Location,
			About:         u.About,
			ProfilePicURL: u.PictureURL(),
		}
	}
	return exportEmission{Origin: string(origin), Count: len(users), Users: exported}
}

func (e *Exporter) exportJSON(users []model.User, origin model.Origin, w io.Writer) error {
	encoder := json.NewEncoder(w)
	if e.opts.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(toEmission(users, origin))
}

func (e *Exporter) exportYAML(users []model.User, origin model.Origin, w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	if e.opts.Pretty {
		encoder.SetIndent(2)
	}
	if err := encoder.Encode(toEmission(users, origin)); err != nil {
		_ = encoder.Close()
		return err
	}
	return encoder.Close()
}

const (
	nameWidth     = 24
	locationWidth = 20
)

func (e *Exporter) exportTable(users []model.User, origin model.Origin, w io.Writer) error {
	var sb strings.Builder

	sb.WriteString(OriginLabel(origin, len(users)))
	sb.WriteString("\n")
	if len(users) == 0 {
		sb.WriteString(ui.Dim("  no users") + "\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString(ui.Header(fmt.Sprintf("%-6s %-24s %-4s %-20s %s", "ID", "NAME", "AGE", "LOCATION", "PICTURE")))
	sb.WriteString("\n")
	for _, u := range users {
		picture := u.PictureURL()
		if picture == "" {
			picture = "-"
		}
		fmt.Fprintf(&sb, "%-6s %-24s %-4s %-20s %s\n",
			strconv.Itoa(u.ID),
			truncate(u.Name, nameWidth),
			strconv.Itoa(u.Age),
			truncate(u.Location, locationWidth),
			picture,
		)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (e *Exporter) exportCards(users []model.User, origin model.Origin, w io.Writer) error {
	var sb strings.Builder
	sb.WriteString(OriginLabel(origin, len(users)))
	sb.WriteString("\n")
	for _, u := range users {
		sb.WriteString(ui.Card(u, e.opts.Width))
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// OriginLabel returns the heading printed above an emission.
func OriginLabel(origin model.Origin, n int) string {
	label := fmt.Sprintf("%d user(s)", n)
	switch origin {
	case model.OriginCache:
		return ui.Info("cached") + " " + label
	case model.OriginRemote:
		return ui.Success("remote") + " " + label
	default:
		return label
	}
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}
