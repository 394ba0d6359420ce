package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/meadowgrid/texserv/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_delivery":
		content = m.renderInspectDelivery()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectDelivery() string {
	data, ok := m.data.(*reader.DeliveryReport)
	if !ok {
		return "Invalid data type for inspect_delivery"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Delivery Output"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Path:"),
		ValueStyle.Render(data.Path)))
	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Clients:"),
		ValueStyle.Render(fmt.Sprintf("%d", len(data.Clients)))))

	for _, client := range data.Clients {
		b.WriteString("\n")
		clientTitle := lipgloss.NewStyle().
			Bold(true).
			Foreground(highlightColor).
			Render(fmt.Sprintf("Client: %s", client.Client))
		b.WriteString(clientTitle)
		b.WriteString("\n")

		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("  Packets:"),
			ValueStyle.Render(fmt.Sprintf("%d", client.Packets))))
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("  Bytes:"),
			ValueStyle.Render(fmt.Sprintf("%d", client.Bytes))))

		for _, asset := range client.Assets {
			state := "partial"
			if asset.Complete {
				state = "complete"
			}
			b.WriteString(fmt.Sprintf("  %s %s %s\n",
				ValueStyle.Render(asset.Asset),
				OutcomeStyle(state).Render(state),
				ValueStyle.Render(fmt.Sprintf("(%d/%d packets, discard %d)",
					asset.PacketsSeen, asset.TotalPackets, asset.DiscardLevel))))
		}
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
