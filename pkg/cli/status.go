package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/haivivi/twinbud/pkg/earbud"
	"github.com/haivivi/twinbud/pkg/feature"
)

// Theme is the color scheme of rendered output.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Warn    lipgloss.Color
}

// DefaultTheme is bright green on dim grey.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Warn:    lipgloss.Color("#ff5f5f"),
}

// Styles are derived from a Theme.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Dim    lipgloss.Style
	Warn   lipgloss.Style
	Border lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label:  lipgloss.NewStyle().Foreground(t.Dim).Width(14),
		Value:  lipgloss.NewStyle(),
		Dim:    lipgloss.NewStyle().Foreground(t.Dim),
		Warn:   lipgloss.NewStyle().Bold(true).Foreground(t.Warn),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Primary).Padding(0, 1),
	}
}

// RenderStatus renders a device status as a bordered block.
func RenderStatus(st earbud.Status, s Styles) string {
	var lines []string
	row := func(label, value string) {
		lines = append(lines, s.Label.Render(label)+s.Value.Render(value))
	}

	peer := s.Dim.Render("disconnected")
	if st.PeerConnected {
		peer = st.Peer
	}
	lines = append(lines, s.Title.Render("twinbud "+st.Role.String()))
	row("peer", peer)
	row("in case", yesNo(st.InCase))
	row("pipeline", st.Pipeline.State.String())

	lines = append(lines, "", s.Title.Render("features"))
	for _, k := range feature.Kinds {
		fs, ok := st.Features[k.String()]
		if !ok {
			continue
		}
		row(k.String(), featureLine(k, fs))
	}
	row("anc hw", st.Pipeline.Anc.String())
	lt := "inactive"
	if st.Pipeline.LeakthroughActive {
		lt = "active " + st.Pipeline.LeakthroughMode.String()
	}
	row("leakthrough hw", lt)
	if st.Pipeline.ScoMode != "" {
		row("sco", st.Pipeline.ScoMode)
	}

	lines = append(lines, "", s.Title.Render("gates"))
	names := make([]string, 0, len(st.Pipeline.Gates))
	for name := range st.Pipeline.Gates {
		names = append(names, name)
	}
	slices.Sort(names)
	var gates []string
	for _, name := range names {
		gates = append(gates, fmt.Sprintf("%s=%d", name, st.Pipeline.Gates[name]))
	}
	lines = append(lines, s.Dim.Render(strings.Join(gates, " ")))

	if p := st.Platform; p != nil {
		lines = append(lines, "", s.Title.Render("platform"))
		row("chains", strings.Join(p.Chains, ", "))
		row("rate", fmt.Sprintf("%d Hz", p.Rate))
		row("amp", onOff(p.Amp))
	}
	if st.LastError != "" {
		lines = append(lines, "", s.Warn.Render("error: "+st.LastError))
	}
	return s.Border.Render(strings.Join(lines, "\n"))
}

func featureLine(k feature.Kind, fs earbud.FeatureStatus) string {
	out := onOff(fs.Enabled) + " " + fs.Mode.String()
	if k.HasGain() {
		out += fmt.Sprintf(" gain %d", fs.Gain)
	}
	if fs.Pending != "" {
		out += " (pending " + fs.Pending + ")"
	}
	return out
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
